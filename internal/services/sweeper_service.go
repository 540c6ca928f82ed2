package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/metrics"
	"github.com/rs/zerolog"
)

// Evicter forgets idle devices.
type Evicter interface {
	Evict(now time.Time) int
	Tracked() int
}

// Expirer rolls aggregation windows forward.
type Expirer interface {
	Expire(now time.Time) int
	Stats() []aggregator.WindowStats
}

// SweeperService periodically evicts idle devices from the rate limiter,
// rolls expired aggregation buckets and refreshes the engine gauges.
type SweeperService struct {
	interval   time.Duration
	limiter    Evicter
	aggregator Expirer
	logger     zerolog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeperService creates a new SweeperService.
func NewSweeperService(interval time.Duration, limiter Evicter, aggregator Expirer, logger zerolog.Logger) *SweeperService {
	return &SweeperService{
		interval:   interval,
		limiter:    limiter,
		aggregator: aggregator,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the clock. Used by tests.
func (s *SweeperService) WithClock(now func() time.Time) *SweeperService {
	s.now = now
	return s
}

// Start runs a first sweep so the windows are aligned to the current time,
// then sweeps on every tick.
func (s *SweeperService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("SweeperService is already running")
		return errors.New("sweeper service is already running")
	}

	s.Sweep()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.ctx.Done():
				return
			}
		}
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("SweeperService started")
	return nil
}

// Sweep performs one eviction and expiry pass.
func (s *SweeperService) Sweep() {
	now := s.now()
	evicted := s.limiter.Evict(now)
	rolled := s.aggregator.Expire(now)

	metrics.TrackedDevices.Set(float64(s.limiter.Tracked()))
	for _, w := range s.aggregator.Stats() {
		metrics.LiveCells.WithLabelValues(w.Window).Set(float64(w.LiveCells))
	}

	s.logger.Debug().
		Int("evicted_devices", evicted).
		Int("rolled_windows", rolled).
		Msg("Sweep completed")
}

// Stop gracefully stops the sweeper.
func (s *SweeperService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("SweeperService is not running")
		return errors.New("sweeper service is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.logger.Info().Msg("SweeperService stopped")
	return nil
}
