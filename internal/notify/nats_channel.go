package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/t77yq/metricwatch/internal/model"
)

// AlertStreamName is the JetStream stream holding published alerts
const AlertStreamName = "ALERTS"

// NATSChannel publishes alerts to JetStream on <prefix>.<severity>
type NATSChannel struct {
	js     nats.JetStreamContext
	prefix string
}

// NewNATSChannel creates a JetStream channel. prefix defaults to "alert".
func NewNATSChannel(js nats.JetStreamContext, prefix string) *NATSChannel {
	if prefix == "" {
		prefix = "alert"
	}
	return &NATSChannel{js: js, prefix: prefix}
}

// EnsureStream creates the alert stream if it does not exist yet
func (c *NATSChannel) EnsureStream() error {
	stream, err := c.js.StreamInfo(AlertStreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream != nil {
		return nil
	}

	if _, err := c.js.AddStream(&nats.StreamConfig{
		Name:     AlertStreamName,
		Subjects: []string{c.prefix + ".*"},
		Storage:  nats.FileStorage,
	}); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Name returns the channel name used in rules
func (c *NATSChannel) Name() string { return "nats" }

// Subject returns the subject an alert is published on
func (c *NATSChannel) Subject(alert model.Alert) string {
	return c.prefix + "." + string(alert.Severity)
}

// Send publishes the alert as JSON
func (c *NATSChannel) Send(ctx context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := nats.NewMsg(c.Subject(alert))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, alert.ID+"."+string(alert.State()))
	msg.Header.Set("Organization-Id", alert.OrganizationID)

	if _, err := c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}
