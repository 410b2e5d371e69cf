package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/ingest"
	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

// HealthMetricName is the synthetic metric carrying the system health score
const HealthMetricName = "system.health.status"

// Probe checks one dependency. Implementations must honor ctx cancellation.
type Probe interface {
	Check(ctx context.Context) (model.ServiceHealth, error)
}

// ProbeFunc adapts a function to the Probe interface
type ProbeFunc func(ctx context.Context) (model.ServiceHealth, error)

// Check calls f(ctx)
func (f ProbeFunc) Check(ctx context.Context) (model.ServiceHealth, error) {
	return f(ctx)
}

// Recorder is the ingestion entry point used to emit synthetic metrics
type Recorder interface {
	Record(scopeKey, name string, value float64, opts ...ingest.RecordOption)
}

// HealthAggregator runs the probes and folds their results into one SystemHealth
type HealthAggregator struct {
	logger      *zap.Logger
	probes      map[string]Probe
	timeout     time.Duration
	recorder    Recorder
	systemScope string
	clock       Clock

	current atomic.Pointer[model.SystemHealth]

	obsMu    sync.RWMutex
	onHealth []func(model.SystemHealth)
}

// NewHealthAggregator creates an aggregator over a fixed set of named probes
func NewHealthAggregator(probes map[string]Probe, timeout time.Duration, recorder Recorder, systemScope string, clock Clock, logger *zap.Logger) *HealthAggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if systemScope == "" {
		systemScope = "system"
	}
	if clock == nil {
		clock = SystemClock
	}
	copied := make(map[string]Probe, len(probes))
	for name, p := range probes {
		copied[name] = p
	}

	h := &HealthAggregator{
		logger:      logger.Named("health-aggregator"),
		probes:      copied,
		timeout:     timeout,
		recorder:    recorder,
		systemScope: systemScope,
		clock:       clock,
	}
	h.current.Store(&model.SystemHealth{
		Status:   model.HealthStatusHealthy,
		Services: map[string]model.ServiceHealth{},
	})
	return h
}

// OnHealthComputed registers fn to be called after every health tick
func (h *HealthAggregator) OnHealthComputed(fn func(model.SystemHealth)) {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	h.onHealth = append(h.onHealth, fn)
}

// Current returns the last computed SystemHealth
func (h *HealthAggregator) Current() model.SystemHealth {
	return copyHealth(*h.current.Load())
}

// ProbeNames lists the registered probes in sorted order
func (h *HealthAggregator) ProbeNames() []string {
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe concurrently, each under its own timeout, and
// replaces the cached SystemHealth.
func (h *HealthAggregator) Check(ctx context.Context) model.SystemHealth {
	// Probes keep their own timeout even while the caller is shutting down.
	base := context.WithoutCancel(ctx)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		services = make(map[string]model.ServiceHealth, len(h.probes))
	)
	for name, probe := range h.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			result := h.runProbe(base, name, probe)

			mu.Lock()
			services[name] = result
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	health := model.SystemHealth{
		Status:     model.WorstStatus(services),
		Services:   services,
		ComputedAt: h.clock.Now(),
	}
	h.current.Store(&health)

	telemetry.SystemHealthScore.Set(health.Status.Score())
	if h.recorder != nil {
		h.recorder.Record(h.systemScope, HealthMetricName, health.Status.Score(),
			ingest.WithTimestamp(health.ComputedAt),
			ingest.WithTags(map[string]string{"status": string(health.Status)}))
	}

	h.logger.Debug("System health computed",
		zap.String("status", string(health.Status)),
		zap.Int("services", len(services)))

	h.obsMu.RLock()
	observers := h.onHealth
	h.obsMu.RUnlock()
	for _, fn := range observers {
		h.notify(fn, health)
	}
	return copyHealth(health)
}

func (h *HealthAggregator) runProbe(ctx context.Context, name string, probe Probe) model.ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type outcome struct {
		health model.ServiceHealth
		err    error
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				telemetry.PanicsRecovered.WithLabelValues("health_probe").Inc()
				done <- outcome{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		result, err := probe.Check(ctx)
		done <- outcome{health: result, err: err}
	}()

	var result model.ServiceHealth
	select {
	case out := <-done:
		result = out.health
		if out.err != nil {
			result = unhealthy(out.err.Error())
		}
	case <-ctx.Done():
		result = unhealthy(fmt.Sprintf("probe timed out after %s", h.timeout))
	}

	result.ServiceName = name
	if result.Status == "" {
		result.Status = model.HealthStatusHealthy
	}
	if result.ResponseTimeMs == 0 {
		result.ResponseTimeMs = time.Since(start).Milliseconds()
	}
	if result.LastCheckedAt.IsZero() {
		result.LastCheckedAt = h.clock.Now()
	}

	telemetry.ProbeResults.WithLabelValues(name, string(result.Status)).Inc()
	if result.Status != model.HealthStatusHealthy {
		h.logger.Warn("Health probe reported a problem",
			zap.String("service", name),
			zap.String("status", string(result.Status)),
			zap.String("error", result.Details["error"]))
	}
	return result
}

func (h *HealthAggregator) notify(fn func(model.SystemHealth), health model.SystemHealth) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Health observer panicked", zap.Any("panic", r))
			telemetry.PanicsRecovered.WithLabelValues("health_observer").Inc()
		}
	}()
	fn(copyHealth(health))
}

func unhealthy(msg string) model.ServiceHealth {
	return model.ServiceHealth{
		Status:    model.HealthStatusUnhealthy,
		ErrorRate: 1,
		Details:   map[string]string{"error": msg},
	}
}

func copyHealth(h model.SystemHealth) model.SystemHealth {
	services := make(map[string]model.ServiceHealth, len(h.Services))
	for name, s := range h.Services {
		if s.Details != nil {
			details := make(map[string]string, len(s.Details))
			for k, v := range s.Details {
				details[k] = v
			}
			s.Details = details
		}
		services[name] = s
	}
	h.Services = services
	return h
}
