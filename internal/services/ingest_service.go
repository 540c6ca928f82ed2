package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/crowdsense/internal/metrics"
	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/benmeehan/crowdsense/internal/pipeline"
	"github.com/benmeehan/crowdsense/internal/utils"
	"github.com/benmeehan/crowdsense/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// PingProcessor runs a ping through the ingestion pipeline.
type PingProcessor interface {
	Process(ctx context.Context, ping models.Ping) (pipeline.Outcome, error)
}

// IngestService subscribes to the device ping topic and feeds every message
// through the pipeline on a worker pool. Messages arriving while the pool is
// saturated are dropped.
type IngestService struct {
	topic      string
	qos        int
	workers    int
	queueSize  int
	mqttClient mqtt.MQTTClient
	processor  PingProcessor
	logger     zerolog.Logger

	workerPool *utils.WorkerPool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewIngestService creates a new IngestService.
func NewIngestService(topic string, qos, workers int, mqttClient mqtt.MQTTClient,
	processor PingProcessor, logger zerolog.Logger) *IngestService {
	return &IngestService{
		topic:      topic,
		qos:        qos,
		workers:    workers,
		queueSize:  workers * 64,
		mqttClient: mqttClient,
		processor:  processor,
		logger:     logger,
	}
}

// Start subscribes to the ping topic.
func (s *IngestService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("IngestService is already running")
		return errors.New("ingest service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.workerPool = utils.NewWorkerPool(s.workers, s.queueSize)

	token := s.mqttClient.Subscribe(s.topic, byte(s.qos), s.handleMessage)
	if token.Wait() && token.Error() != nil {
		err := token.Error()
		s.cancel()
		s.workerPool.Shutdown()
		s.ctx = nil
		s.logger.Error().Err(err).Str("topic", s.topic).Msg("Failed to subscribe to ping topic")
		return fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
	}

	s.logger.Info().
		Str("topic", s.topic).
		Int("workers", s.workers).
		Msg("IngestService started")
	return nil
}

func (s *IngestService) handleMessage(_ MQTT.Client, msg MQTT.Message) {
	metrics.PingsReceivedTotal.WithLabelValues("mqtt").Inc()

	payload := msg.Payload()
	err := s.workerPool.TrySubmit(func() { s.process(payload) })
	if err != nil {
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonIngressLimit).Inc()
		s.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping ping")
	}
}

func (s *IngestService) process(payload []byte) {
	ping, err := pipeline.DecodePing(payload)
	if err != nil {
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonInvalid).Inc()
		s.logger.Debug().Err(err).Msg("Discarding malformed ping")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	outcome, err := s.processor.Process(ctx, ping)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Ping rejected")
		return
	}
	s.logger.Trace().Str("state", string(outcome.State)).Str("reason", outcome.Reason).Msg("Ping processed")
}

// Stop unsubscribes and waits for queued pings to finish.
func (s *IngestService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("IngestService is not running")
		return errors.New("ingest service is not running")
	}

	var err error
	token := s.mqttClient.Unsubscribe(s.topic)
	if token.Wait() && token.Error() != nil {
		err = fmt.Errorf("failed to unsubscribe from %s: %w", s.topic, token.Error())
		s.logger.Error().Err(err).Msg("Failed to unsubscribe from ping topic")
	}

	s.workerPool.Shutdown()
	s.cancel()
	s.ctx = nil
	s.logger.Info().Msg("IngestService stopped")
	return err
}
