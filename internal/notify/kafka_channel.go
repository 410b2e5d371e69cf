package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/t77yq/metricwatch/internal/model"
)

// MessageWriter is the part of *kafka.Writer used by KafkaChannel
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a synchronous writer partitioning by message key
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		// The dispatcher retries; the writer makes one attempt.
		MaxAttempts: 1,
		Async:       false,
	}
}

// KafkaChannel publishes alerts to a Kafka topic keyed by organization
type KafkaChannel struct {
	writer MessageWriter
}

// NewKafkaChannel creates a new Kafka channel
func NewKafkaChannel(writer MessageWriter) *KafkaChannel {
	return &KafkaChannel{writer: writer}
}

// Name returns the channel name used in rules
func (c *KafkaChannel) Name() string { return "kafka" }

// Send writes the alert as one message
func (c *KafkaChannel) Send(ctx context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.OrganizationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(alert.ID)},
			{Key: "severity", Value: []byte(alert.Severity)},
			{Key: "state", Value: []byte(alert.State())},
		},
		Time: alert.TriggeredAt,
	}

	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write alert to kafka: %w", err)
	}
	return nil
}
