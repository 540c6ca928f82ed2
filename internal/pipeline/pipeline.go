package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/benmeehan/crowdsense/internal/catalog"
	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/geofence"
	"github.com/benmeehan/crowdsense/internal/metrics"
	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingDeviceToken is returned for pings without a device token.
	ErrMissingDeviceToken = errors.New("missing device token")
	// ErrInvalidPing wraps other field validation failures.
	ErrInvalidPing = errors.New("invalid ping")
)

const (
	// DefaultMaxClockSkew is how far in the future a ping timestamp may be
	// before the server time replaces it.
	DefaultMaxClockSkew = 2 * time.Minute
	// DefaultNotifyTimeout bounds a single breach notification.
	DefaultNotifyTimeout = 5 * time.Second
)

// State is a step of ping processing. Terminal states are Dropped, Clean and
// BreachEmitted.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateRateCheck       State = "RATE_CHECK"
	StateDropped         State = "DROPPED"
	StateAccepted        State = "ACCEPTED"
	StateAggregated      State = "AGGREGATED"
	StateGeofenceChecked State = "GEOFENCE_CHECKED"
	StateClean           State = "CLEAN"
	StateBreachEmitted   State = "BREACH_EMITTED"
)

// Outcome reports how a ping was handled.
type Outcome struct {
	State State
	// Reason is set for dropped pings, and for accepted pings that were not
	// aggregated (stale or outside the campus bounds).
	Reason     string
	Aggregated bool
	ZoneID     string
	EventID    string
}

// Accepted reports whether the ping passed validation and rate limiting.
func (o Outcome) Accepted() bool {
	return o.State != StateDropped
}

// Notifier delivers breach events to the alerting collaborator.
type Notifier interface {
	Notify(ctx context.Context, event models.BreachEvent) error
}

// RateLimiter admits or rejects pings per anonymized device.
type RateLimiter interface {
	Allow(token string, now time.Time) bool
}

// Aggregator records anonymized device presence per cell.
type Aggregator interface {
	Record(cellID, token string, ts, now time.Time) bool
}

// CatalogReader returns the active zone and location catalog.
type CatalogReader interface {
	Current() *catalog.Snapshot
}

// Anonymizer turns a device token into an opaque digest.
type Anonymizer interface {
	Digest(token string) string
}

// Config tunes the pipeline.
type Config struct {
	CellPrecision int
	MaxClockSkew  time.Duration
	NotifyTimeout time.Duration
	// Strict re-panics on programmer errors instead of logging and dropping.
	Strict bool
}

// Pipeline validates, rate limits, aggregates and geofence checks pings.
type Pipeline struct {
	cfg        Config
	limiter    RateLimiter
	aggregator Aggregator
	catalog    CatalogReader
	anonymizer Anonymizer
	notifier   Notifier
	validate   *validator.Validate
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPipeline wires a Pipeline. Zero config values fall back to the defaults.
func NewPipeline(cfg Config, limiter RateLimiter, aggregator Aggregator, catalog CatalogReader,
	anonymizer Anonymizer, notifier Notifier, logger zerolog.Logger) *Pipeline {
	if cfg.CellPrecision <= 0 {
		cfg.CellPrecision = geo.DefaultCellPrecision
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	return &Pipeline{
		cfg:        cfg,
		limiter:    limiter,
		aggregator: aggregator,
		catalog:    catalog,
		anonymizer: anonymizer,
		notifier:   notifier,
		validate:   validator.New(),
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the server clock. Used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Process runs a single ping through the pipeline. Validation failures are
// returned as errors; rate limiting and other drops are reported in the Outcome.
func (p *Pipeline) Process(ctx context.Context, ping models.Ping) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.ProcessDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()
	received := p.now()

	if err := p.validatePing(ping); err != nil {
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonInvalid).Inc()
		return Outcome{State: StateDropped, Reason: metrics.ReasonInvalid}, err
	}

	digest := p.anonymizer.Digest(ping.DeviceToken)
	if !p.limiter.Allow(digest, received) {
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonRateLimited).Inc()
		return Outcome{State: StateDropped, Reason: metrics.ReasonRateLimited}, nil
	}
	metrics.PingsAcceptedTotal.Inc()

	return p.processAccepted(ctx, ping, digest, received), nil
}

func (p *Pipeline) validatePing(ping models.Ping) error {
	if strings.TrimSpace(ping.DeviceToken) == "" {
		return ErrMissingDeviceToken
	}
	if err := ping.Coordinate.Validate(); err != nil {
		return err
	}
	if err := p.validate.Struct(ping); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPing, err)
	}
	return nil
}

func (p *Pipeline) processAccepted(ctx context.Context, ping models.Ping, digest string, received time.Time) (out Outcome) {
	out = Outcome{State: StateAccepted}
	defer func() {
		if r := recover(); r != nil {
			if p.cfg.Strict {
				panic(r)
			}
			p.logger.Error().
				Interface("panic", r).
				Str("state", string(out.State)).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic while processing ping")
			metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonInternal).Inc()
			out = Outcome{State: StateDropped, Reason: metrics.ReasonInternal}
		}
	}()

	snapshot := p.catalog.Current()
	ts := p.eventTime(ping.Timestamp, received)

	switch {
	case !snapshot.InBounds(ping.Coordinate):
		out.Reason = metrics.ReasonOutOfBounds
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonOutOfBounds).Inc()
	case p.aggregator.Record(geo.Encode(ping.Coordinate, p.cfg.CellPrecision), digest, ts, received):
		out.Aggregated = true
	default:
		out.Reason = metrics.ReasonStale
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonStale).Inc()
	}
	out.State = StateAggregated

	zone, hit := geofence.Evaluate(ping.Coordinate, snapshot.Zones)
	out.State = StateGeofenceChecked
	if !hit {
		out.State = StateClean
		return out
	}

	event := models.BreachEvent{
		EventID:     uuid.NewString(),
		ZoneID:      zone.ID,
		ZoneName:    zone.Name,
		Severity:    string(zone.Severity),
		Description: zone.Description,
		Coordinate:  ping.Coordinate,
		OccurredAt:  ts,
	}
	metrics.BreachesTotal.WithLabelValues(event.Severity).Inc()
	p.notify(ctx, event)

	out.State = StateBreachEmitted
	out.ZoneID = zone.ID
	out.EventID = event.EventID
	return out
}

// eventTime picks the bucket timestamp for a ping. Missing timestamps and
// timestamps too far in the future use the server time.
func (p *Pipeline) eventTime(ts, received time.Time) time.Time {
	if ts.IsZero() || ts.After(received.Add(p.cfg.MaxClockSkew)) {
		return received
	}
	return ts
}

func (p *Pipeline) notify(ctx context.Context, event models.BreachEvent) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.NotifyTimeout)
	defer cancel()

	if err := p.notifier.Notify(ctx, event); err != nil {
		metrics.NotifyFailuresTotal.Inc()
		p.logger.Error().
			Err(err).
			Str("event_id", event.EventID).
			Str("zone_id", event.ZoneID).
			Msg("Failed to deliver breach notification")
		return
	}
	p.logger.Info().
		Str("event_id", event.EventID).
		Str("zone_id", event.ZoneID).
		Str("severity", event.Severity).
		Msg("Breach notification delivered")
}
