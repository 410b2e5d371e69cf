package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

// MetricMessage is the wire format of a metric published over NATS
type MetricMessage struct {
	ScopeKey  string            `json:"scope_key,omitempty"`
	Name      string            `json:"name,omitempty"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// Subscriber feeds metrics published on NATS into an Ingestor.
// Subjects have the form <prefix>.<scope_key>.<name>; fields present in the
// message body take precedence over the subject.
type Subscriber struct {
	logger   *zap.Logger
	nc       *nats.Conn
	subject  string
	ingestor *Ingestor
	sub      *nats.Subscription
}

// NewSubscriber creates a new NATS metric subscriber
func NewSubscriber(nc *nats.Conn, subject string, ingestor *Ingestor, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		logger:   logger.Named("metric-subscriber"),
		nc:       nc,
		subject:  subject,
		ingestor: ingestor,
	}
}

// Start subscribes to the metric subject
func (s *Subscriber) Start() error {
	sub, err := s.nc.Subscribe(s.subject, s.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub

	s.logger.Info("Metric subscriber started", zap.String("subject", s.subject))
	return nil
}

// Stop drains the subscription
func (s *Subscriber) Stop() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Drain(); err != nil {
		s.logger.Warn("Failed to drain metric subscription", zap.Error(err))
	}
}

func (s *Subscriber) handleMessage(msg *nats.Msg) {
	var m MetricMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.logger.Warn("Failed to unmarshal metric message",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		telemetry.PointsDropped.WithLabelValues("decode").Inc()
		return
	}

	// Subject format: <prefix>.<scope_key>.<name...>
	parts := strings.SplitN(msg.Subject, ".", 3)
	if m.ScopeKey == "" && len(parts) >= 2 {
		m.ScopeKey = parts[1]
	}
	if m.Name == "" && len(parts) == 3 {
		m.Name = parts[2]
	}

	p := model.MetricPoint{
		ScopeKey: m.ScopeKey,
		Name:     m.Name,
		Value:    m.Value,
		Tags:     m.Tags,
	}
	if m.Timestamp != nil {
		p.Timestamp = *m.Timestamp
	}
	s.ingestor.RecordPoint(p)
}
