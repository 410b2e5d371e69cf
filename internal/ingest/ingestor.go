package ingest

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

// Appender is the write side of the metric store
type Appender interface {
	Append(scopeKey, name string, p model.MetricPoint)
}

// RecordOption customises a single Record call
type RecordOption func(*model.MetricPoint)

// WithTags attaches tags to the recorded point
func WithTags(tags map[string]string) RecordOption {
	return func(p *model.MetricPoint) {
		p.Tags = tags
	}
}

// WithTimestamp sets an explicit timestamp instead of the ingestion time
func WithTimestamp(ts time.Time) RecordOption {
	return func(p *model.MetricPoint) {
		p.Timestamp = ts
	}
}

// Ingestor validates points and forwards them to the store.
// It never returns an error: malformed input is logged and discarded.
type Ingestor struct {
	logger *zap.Logger
	store  Appender
	now    func() time.Time
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithNow overrides the clock used to timestamp points recorded without one
func WithNow(now func() time.Time) Option {
	return func(i *Ingestor) {
		i.now = now
	}
}

// NewIngestor creates a new ingestor in front of store
func NewIngestor(store Appender, logger *zap.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		logger: logger.Named("ingestor"),
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Record validates and stores one measurement
func (i *Ingestor) Record(scopeKey, name string, value float64, opts ...RecordOption) {
	p := model.MetricPoint{
		ScopeKey: scopeKey,
		Name:     name,
		Value:    value,
	}
	for _, opt := range opts {
		opt(&p)
	}
	i.RecordPoint(p)
}

// RecordPoint validates and stores a fully built point
func (i *Ingestor) RecordPoint(p model.MetricPoint) {
	if reason := validate(p); reason != "" {
		i.logger.Warn("Dropping invalid metric point",
			zap.String("reason", reason),
			zap.String("scope_key", p.ScopeKey),
			zap.String("name", p.Name),
			zap.Float64("value", p.Value))
		telemetry.PointsDropped.WithLabelValues(reason).Inc()
		return
	}

	if p.Timestamp.IsZero() {
		p.Timestamp = i.now()
	}

	i.store.Append(p.ScopeKey, p.Name, p)
	telemetry.PointsIngested.Inc()
}

func validate(p model.MetricPoint) string {
	switch {
	case p.Name == "":
		return "empty_name"
	case p.ScopeKey == "":
		return "empty_scope"
	case math.IsNaN(p.Value) || math.IsInf(p.Value, 0):
		return "non_finite"
	}
	return ""
}
