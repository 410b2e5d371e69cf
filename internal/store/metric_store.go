package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

// Limits bounds every series held by the store
type Limits struct {
	MaxPoints int
	MaxAge    time.Duration
}

// MetricStore retains recent points per (scope, name) key.
// Each series has its own lock so writers to different keys never contend.
type MetricStore struct {
	logger *zap.Logger
	limits Limits
	now    func() time.Time
	series sync.Map // key -> *series
	count  atomic.Int64
}

// Option configures a MetricStore
type Option func(*MetricStore)

// WithNow overrides the clock used for age-based eviction
func WithNow(now func() time.Time) Option {
	return func(s *MetricStore) {
		s.now = now
	}
}

// NewMetricStore creates a new metric store
func NewMetricStore(limits Limits, logger *zap.Logger, opts ...Option) *MetricStore {
	if limits.MaxPoints <= 0 {
		limits.MaxPoints = 1000
	}
	if limits.MaxAge <= 0 {
		limits.MaxAge = time.Hour
	}
	s := &MetricStore{
		logger: logger.Named("metric-store"),
		limits: limits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records p under (scopeKey, name). It never fails from the caller's
// point of view: points that cannot be stored are logged and dropped.
func (s *MetricStore) Append(scopeKey, name string, p model.MetricPoint) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic while appending point",
				zap.String("scope_key", scopeKey),
				zap.String("name", name),
				zap.Any("panic", r))
			telemetry.PanicsRecovered.WithLabelValues("metric_store").Inc()
		}
	}()

	p.ScopeKey = scopeKey
	p.Name = name
	p.Tags = copyTags(p.Tags)

	now := s.now()
	if now.Sub(p.Timestamp) > s.limits.MaxAge {
		s.logger.Debug("Dropping point older than retention window",
			zap.String("scope_key", scopeKey),
			zap.String("name", name),
			zap.Time("timestamp", p.Timestamp))
		telemetry.PointsDropped.WithLabelValues("expired").Inc()
		return
	}

	key := model.SeriesKey(scopeKey, name)
	for {
		sr := s.load(key)
		sr.mu.Lock()
		if sr.removed {
			// Lost a race with prune deleting the empty series; pick up the new one.
			sr.mu.Unlock()
			continue
		}
		sr.insert(p)
		evicted := sr.evict(now, s.limits.MaxPoints, s.limits.MaxAge)
		sr.mu.Unlock()

		if evicted > 0 {
			telemetry.PointsPruned.Add(float64(evicted))
		}
		return
	}
}

func (s *MetricStore) load(key string) *series {
	if v, ok := s.series.Load(key); ok {
		return v.(*series)
	}
	v, loaded := s.series.LoadOrStore(key, &series{})
	if !loaded {
		s.count.Add(1)
		telemetry.SeriesCount.Inc()
	}
	return v.(*series)
}

// Latest returns the most recent point of a series
func (s *MetricStore) Latest(scopeKey, name string) (model.MetricPoint, bool) {
	v, ok := s.series.Load(model.SeriesKey(scopeKey, name))
	if !ok {
		return model.MetricPoint{}, false
	}
	sr := v.(*series)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.latest()
}

// Range returns a fresh snapshot of the points with start <= timestamp <= end,
// ordered by timestamp.
func (s *MetricStore) Range(scopeKey, name string, start, end time.Time) []model.MetricPoint {
	v, ok := s.series.Load(model.SeriesKey(scopeKey, name))
	if !ok {
		return nil
	}
	sr := v.(*series)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.between(start, end)
}

// Prune enforces the retention limits on every series and forgets series
// left empty. It returns the number of points evicted.
func (s *MetricStore) Prune(now time.Time) int {
	total := 0
	s.series.Range(func(key, value interface{}) bool {
		sr := value.(*series)
		sr.mu.Lock()
		total += sr.evict(now, s.limits.MaxPoints, s.limits.MaxAge)
		if sr.len() == 0 && !sr.removed {
			sr.removed = true
			s.series.Delete(key)
			s.count.Add(-1)
			telemetry.SeriesCount.Dec()
		}
		sr.mu.Unlock()
		return true
	})

	if total > 0 {
		telemetry.PointsPruned.Add(float64(total))
		s.logger.Debug("Pruned metric points", zap.Int("evicted", total))
	}
	return total
}

// SeriesCount returns the number of series currently held
func (s *MetricStore) SeriesCount() int {
	return int(s.count.Load())
}

// Keys lists the series keys in sorted order
func (s *MetricStore) Keys() []string {
	var keys []string
	s.series.Range(func(key, _ interface{}) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Limits returns the retention limits of the store
func (s *MetricStore) Limits() Limits {
	return s.limits
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
