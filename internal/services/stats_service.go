package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/crowdsense/internal/metrics_collectors"
	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/benmeehan/crowdsense/pkg/mqtt"
	"github.com/rs/zerolog"
)

// StatsService periodically collects engine stats and publishes them over MQTT.
type StatsService struct {
	pubTopic   string
	instance   string
	interval   time.Duration
	timeout    time.Duration
	qos        int
	retryDelay time.Duration
	mqttClient mqtt.MQTTClient
	registry   *metrics_collectors.MetricsRegistry
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatsService initializes and returns a new instance of StatsService.
func NewStatsService(
	pubTopic, instance string,
	interval, timeout time.Duration,
	qos int,
	mqttClient mqtt.MQTTClient,
	registry *metrics_collectors.MetricsRegistry,
	logger zerolog.Logger,
) *StatsService {
	return &StatsService{
		pubTopic:   pubTopic,
		instance:   instance,
		interval:   interval,
		timeout:    timeout,
		qos:        qos,
		retryDelay: time.Second,
		mqttClient: mqttClient,
		registry:   registry,
		logger:     logger,
	}
}

// Start initiates periodic stats collection and publishing.
func (m *StatsService) Start() error {
	if m.ctx != nil {
		m.logger.Warn().Msg("StatsService is already running")
		return errors.New("stats service is already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.runCollectionLoop()

	m.logger.Info().Str("topic", m.pubTopic).Msg("StatsService started successfully")
	return nil
}

func (m *StatsService) runCollectionLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := m.Collect(m.ctx)
			if err := m.PublishStats(stats); err != nil {
				m.logger.Error().Err(err).Msg("Failed to publish stats")
			}
		case <-m.ctx.Done():
			m.logger.Info().Msg("Stopping stats collection")
			return
		}
	}
}

// Collect runs every registered collector within the configured timeout.
func (m *StatsService) Collect(ctx context.Context) *models.EngineStats {
	stats := &models.EngineStats{
		Timestamp: time.Now().UTC(),
		Instance:  m.instance,
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.registry.CollectAll(ctx, stats)
	m.logger.Debug().Interface("stats", stats).Msg("Stats collected successfully")
	return stats
}

// PublishStats sends the collected stats via MQTT.
func (m *StatsService) PublishStats(stats *models.EngineStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}

	retries := 3
	for i := 0; i < retries; i++ {
		token := m.mqttClient.Publish(m.pubTopic, byte(m.qos), false, data)
		if token.Wait() && token.Error() == nil {
			m.logger.Debug().Msg("Stats published successfully")
			return nil
		}
		m.logger.Warn().Err(token.Error()).Int("retry", i+1).Msg("Retrying to publish stats...")
		time.Sleep(time.Duration(i+1) * m.retryDelay)
	}

	return fmt.Errorf("failed to publish stats after %d retries", retries)
}

// Stop gracefully stops the stats service.
func (m *StatsService) Stop() error {
	if m.ctx == nil {
		m.logger.Warn().Msg("StatsService is not running")
		return errors.New("stats service is not running")
	}

	m.cancel()
	m.wg.Wait()
	m.ctx = nil
	m.logger.Info().Msg("StatsService stopped successfully")
	return nil
}
