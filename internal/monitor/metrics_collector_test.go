package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countStub int

func (c countStub) SeriesCount() int { return int(c) }
func (c countStub) ActiveCount() int { return int(c) }

func TestMetricsCollector_Collect(t *testing.T) {
	recorder := &fakeRecorder{}
	collector := NewMetricsCollector(recorder, "system", countStub(7), countStub(2), zaptest.NewLogger(t))
	collector.cpuPercent = func(ctx context.Context) (float64, error) { return 42, nil }
	collector.memPercent = func(ctx context.Context) (float64, error) { return 63.5, nil }

	collector.Collect(context.Background())

	cpu := recorder.byName(MetricCPUPercent)
	require.Len(t, cpu, 1)
	assert.Equal(t, 42.0, cpu[0].Value)
	assert.Equal(t, "system", cpu[0].ScopeKey)

	mem := recorder.byName(MetricMemoryPercent)
	require.Len(t, mem, 1)
	assert.Equal(t, 63.5, mem[0].Value)

	goroutines := recorder.byName(MetricGoroutines)
	require.Len(t, goroutines, 1)
	assert.Greater(t, goroutines[0].Value, 0.0)

	assert.Equal(t, 7.0, recorder.byName(MetricSeries)[0].Value)
	assert.Equal(t, 2.0, recorder.byName(MetricActiveAlerts)[0].Value)
}

func TestMetricsCollector_HostErrors(t *testing.T) {
	recorder := &fakeRecorder{}
	collector := NewMetricsCollector(recorder, "", nil, nil, zaptest.NewLogger(t))
	collector.cpuPercent = func(ctx context.Context) (float64, error) { return 0, errors.New("no cpu") }
	collector.memPercent = func(ctx context.Context) (float64, error) { return 0, errors.New("no mem") }

	collector.Collect(context.Background())

	assert.Empty(t, recorder.byName(MetricCPUPercent))
	assert.Empty(t, recorder.byName(MetricMemoryPercent))
	assert.Len(t, recorder.byName(MetricGoroutines), 1)
	assert.Empty(t, recorder.byName(MetricSeries))
}

func TestMetricsCollector_HostSampling(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping host sampling test")
	}

	recorder := &fakeRecorder{}
	collector := NewMetricsCollector(recorder, "system", nil, nil, zaptest.NewLogger(t))
	collector.Collect(context.Background())

	mem := recorder.byName(MetricMemoryPercent)
	require.Len(t, mem, 1)
	assert.GreaterOrEqual(t, mem[0].Value, 0.0)
}
