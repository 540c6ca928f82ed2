package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/benmeehan/crowdsense/pkg/location"
	"github.com/benmeehan/crowdsense/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PingService runs on a device and periodically publishes anonymous location
// pings. The device token is random and replaced every rotation period, so
// pings cannot be linked across periods.
type PingService struct {
	// Configuration fields
	topic    string
	interval time.Duration
	rotation time.Duration
	qos      int

	// Dependencies
	mqttClient       mqtt.MQTTClient
	logger           zerolog.Logger
	locationProvider location.Provider
	now              func() time.Time

	mu        sync.Mutex
	token     string
	rotatedAt time.Time

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPingService creates a new PingService instance with the provided configuration.
func NewPingService(topic string, interval, rotation time.Duration, qos int,
	mqttClient mqtt.MQTTClient, logger zerolog.Logger, locationProvider location.Provider) *PingService {
	return &PingService{
		topic:            topic,
		interval:         interval,
		rotation:         rotation,
		qos:              qos,
		mqttClient:       mqttClient,
		logger:           logger,
		locationProvider: locationProvider,
		now:              time.Now,
	}
}

// WithClock replaces the clock. Used by tests.
func (p *PingService) WithClock(now func() time.Time) *PingService {
	p.now = now
	return p
}

// Start initiates the PingService, periodically publishing pings to the MQTT broker.
func (p *PingService) Start() error {
	if p.running {
		p.logger.Warn().Msg("PingService is already running")
		return errors.New("ping service is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := p.PublishPing(p.ctx); err != nil {
					p.logger.Error().Err(err).Msg("Failed to publish ping")
				}
			case <-p.ctx.Done():
				p.logger.Info().Msg("PingService is stopping")
				return
			}
		}
	}()

	p.logger.Info().
		Str("topic", p.topic).
		Dur("interval", p.interval).
		Dur("token_rotation", p.rotation).
		Int("qos", p.qos).
		Msg("PingService started")
	return nil
}

// Stop gracefully stops the PingService and closes the location provider.
func (p *PingService) Stop() error {
	if !p.running {
		p.logger.Warn().Msg("PingService is not running")
		return errors.New("ping service is not running")
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	if err := p.locationProvider.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Failed to close location provider")
		return err
	}

	p.logger.Info().Msg("PingService stopped")
	return nil
}

// currentToken returns the device token, generating a new one when the
// rotation period has elapsed.
func (p *PingService) currentToken(now time.Time) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || (p.rotation > 0 && now.Sub(p.rotatedAt) >= p.rotation) {
		p.token = uuid.NewString()
		p.rotatedAt = now
		p.logger.Debug().Msg("Rotated device token")
	}
	return p.token
}

// PublishPing fetches the current location and publishes it as a ping.
func (p *PingService) PublishPing(ctx context.Context) error {
	loc, err := p.locationProvider.GetLocation(ctx)
	if err != nil {
		return fmt.Errorf("failed to get location from provider: %w", err)
	}

	now := p.now()
	ping := models.Ping{
		DeviceToken: p.currentToken(now),
		Coordinate:  geo.Coordinate{Latitude: loc.Latitude, Longitude: loc.Longitude},
		Timestamp:   now.UTC(),
		Accuracy:    loc.Accuracy,
		NMEA:        loc.NMEA,
	}

	payload, err := json.Marshal(ping)
	if err != nil {
		return fmt.Errorf("failed to serialize ping: %w", err)
	}

	token := p.mqttClient.Publish(p.topic, byte(p.qos), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish ping to %s: %w", p.topic, err)
	}

	p.logger.Debug().Str("topic", p.topic).Msg("Ping published successfully")
	return nil
}
