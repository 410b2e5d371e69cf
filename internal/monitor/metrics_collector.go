package monitor

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Self metric names recorded under the system scope
const (
	MetricCPUPercent    = "self.cpu.percent"
	MetricMemoryPercent = "self.memory.percent"
	MetricGoroutines    = "self.goroutines"
	MetricSeries        = "self.metric_series"
	MetricActiveAlerts  = "self.active_alerts"
)

// SeriesCounter reports how many series the metric store holds
type SeriesCounter interface {
	SeriesCount() int
}

// ActiveAlertCounter reports the size of the active alert index
type ActiveAlertCounter interface {
	ActiveCount() int
}

// MetricsCollector records the engine's own resource usage through the ingestor
type MetricsCollector struct {
	logger   *zap.Logger
	recorder Recorder
	scope    string
	series   SeriesCounter
	alerts   ActiveAlertCounter

	cpuPercent func(ctx context.Context) (float64, error)
	memPercent func(ctx context.Context) (float64, error)
}

// NewMetricsCollector creates a new metrics collector. series and alerts may be nil.
func NewMetricsCollector(recorder Recorder, scope string, series SeriesCounter, alerts ActiveAlertCounter, logger *zap.Logger) *MetricsCollector {
	if scope == "" {
		scope = "system"
	}
	return &MetricsCollector{
		logger:     logger.Named("metrics-collector"),
		recorder:   recorder,
		scope:      scope,
		series:     series,
		alerts:     alerts,
		cpuPercent: hostCPUPercent,
		memPercent: hostMemoryPercent,
	}
}

// Collect samples the process and host once and records every value
func (c *MetricsCollector) Collect(ctx context.Context) {
	if v, err := c.cpuPercent(ctx); err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else {
		c.recorder.Record(c.scope, MetricCPUPercent, v)
	}

	if v, err := c.memPercent(ctx); err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		c.recorder.Record(c.scope, MetricMemoryPercent, v)
	}

	goroutines := runtime.NumGoroutine()
	c.recorder.Record(c.scope, MetricGoroutines, float64(goroutines))

	fields := []zap.Field{zap.Int("goroutines", goroutines)}
	if c.series != nil {
		n := c.series.SeriesCount()
		c.recorder.Record(c.scope, MetricSeries, float64(n))
		fields = append(fields, zap.Int("series", n))
	}
	if c.alerts != nil {
		n := c.alerts.ActiveCount()
		c.recorder.Record(c.scope, MetricActiveAlerts, float64(n))
		fields = append(fields, zap.Int("active_alerts", n))
	}

	c.logger.Debug("Metrics collected", fields...)
}

func hostCPUPercent(ctx context.Context) (float64, error) {
	// Zero interval compares against the previous call instead of sleeping.
	percent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percent) == 0 {
		return 0, nil
	}
	return percent[0], nil
}

func hostMemoryPercent(ctx context.Context) (float64, error) {
	info, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.UsedPercent, nil
}
