package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/benmeehan/crowdsense/pkg/mqtt"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MQTTNotifier publishes breach events to an MQTT topic.
type MQTTNotifier struct {
	topic  string
	qos    int
	client mqtt.MQTTClient
}

// NewMQTTNotifier creates an MQTTNotifier.
func NewMQTTNotifier(topic string, qos int, client mqtt.MQTTClient) *MQTTNotifier {
	return &MQTTNotifier{topic: topic, qos: qos, client: client}
}

// Notify publishes event and waits for the broker acknowledgement or ctx.
func (n *MQTTNotifier) Notify(ctx context.Context, event models.BreachEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize breach event: %w", err)
	}

	token := n.client.Publish(n.topic, byte(n.qos), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publishing breach event to %s: %w", n.topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish breach event to %s: %w", n.topic, err)
	}
	return nil
}

// MessageWriter is the part of kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes breach events to a Kafka topic keyed by zone id, so
// events of one zone stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaWriter builds a synchronous kafka.Writer for the given topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewKafkaNotifier creates a KafkaNotifier.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event models.BreachEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize breach event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.ZoneID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write breach event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier writes breach events to the log. It is the fallback when no
// broker is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event models.BreachEvent) error {
	n.logger.Warn().
		Str("event_id", event.EventID).
		Str("zone_id", event.ZoneID).
		Str("zone_name", event.ZoneName).
		Str("severity", event.Severity).
		Float64("latitude", event.Coordinate.Latitude).
		Float64("longitude", event.Coordinate.Longitude).
		Time("occurred_at", event.OccurredAt).
		Msg("Geofence breach")
	return nil
}
