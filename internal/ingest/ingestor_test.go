package ingest

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/store"
	"github.com/t77yq/metricwatch/internal/testutil"
)

type recordingAppender struct {
	mu     sync.Mutex
	points []model.MetricPoint
}

func (r *recordingAppender) Append(scopeKey, name string, p model.MetricPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, p)
}

func (r *recordingAppender) all() []model.MetricPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.MetricPoint(nil), r.points...)
}

func TestIngestor_Record(t *testing.T) {
	app := &recordingAppender{}
	ing := NewIngestor(app, zaptest.NewLogger(t))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ing.now = func() time.Time { return now }

	ing.Record("org1", "cpu", 42)
	explicit := now.Add(-time.Minute)
	ing.Record("org1", "mem", 7, WithTags(map[string]string{"host": "a"}), WithTimestamp(explicit))

	points := app.all()
	require.Len(t, points, 2)

	assert.Equal(t, "org1", points[0].ScopeKey)
	assert.Equal(t, "cpu", points[0].Name)
	assert.Equal(t, 42.0, points[0].Value)
	assert.Equal(t, now, points[0].Timestamp)

	assert.Equal(t, explicit, points[1].Timestamp)
	assert.Equal(t, "a", points[1].Tags["host"])
}

func TestIngestor_DropsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		key   string
		value float64
	}{
		{name: "NaN", scope: "org1", key: "cpu", value: math.NaN()},
		{name: "positive infinity", scope: "org1", key: "cpu", value: math.Inf(1)},
		{name: "negative infinity", scope: "org1", key: "cpu", value: math.Inf(-1)},
		{name: "empty name", scope: "org1", key: "", value: 1},
		{name: "empty scope", scope: "", key: "cpu", value: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &recordingAppender{}
			ing := NewIngestor(app, zap.NewNop())

			assert.NotPanics(t, func() {
				ing.Record(tt.scope, tt.key, tt.value)
			})
			assert.Empty(t, app.all())
		})
	}
}

func TestIngestor_WithStore(t *testing.T) {
	s := store.NewMetricStore(store.Limits{MaxPoints: 5, MaxAge: time.Hour}, zap.NewNop())
	ing := NewIngestor(s, zap.NewNop())

	for i := 0; i < 10; i++ {
		ing.Record("org1", "cpu", float64(i))
	}

	latest, ok := s.Latest("org1", "cpu")
	require.True(t, ok)
	assert.Equal(t, 9.0, latest.Value)
	assert.Len(t, s.Range("org1", "cpu", time.Time{}, time.Now().Add(time.Minute)), 5)
}

func TestSubscriber(t *testing.T) {
	_, nc, _, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	app := &recordingAppender{}
	ing := NewIngestor(app, zap.NewNop())
	sub := NewSubscriber(nc, "metrics.>", ing, zaptest.NewLogger(t))
	require.NoError(t, sub.Start())
	defer sub.Stop()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	body, err := json.Marshal(MetricMessage{Value: 95, Timestamp: &ts, Tags: map[string]string{"host": "a"}})
	require.NoError(t, err)
	require.NoError(t, nc.Publish("metrics.org1.cpu.user", body))

	explicit, err := json.Marshal(MetricMessage{ScopeKey: "org2", Name: "mem", Value: 3})
	require.NoError(t, err)
	require.NoError(t, nc.Publish("metrics.ignored.ignored", explicit))

	require.NoError(t, nc.Publish("metrics.org1.cpu", []byte("not json")))
	require.NoError(t, nc.Flush())

	assert.Eventually(t, func() bool {
		return len(app.all()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	points := app.all()
	byScope := map[string]model.MetricPoint{}
	for _, p := range points {
		byScope[p.ScopeKey] = p
	}

	assert.Equal(t, "cpu.user", byScope["org1"].Name)
	assert.Equal(t, 95.0, byScope["org1"].Value)
	assert.True(t, ts.Equal(byScope["org1"].Timestamp))
	assert.Equal(t, "a", byScope["org1"].Tags["host"])

	assert.Equal(t, "mem", byScope["org2"].Name)
	assert.False(t, byScope["org2"].Timestamp.IsZero())
}

func TestIngestor_WithNow(t *testing.T) {
	app := &recordingAppender{}
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ing := NewIngestor(app, zap.NewNop(), WithNow(func() time.Time { return fixed }))

	ing.Record("org1", "cpu", 1)
	points := app.all()
	require.Len(t, points, 1)
	assert.Equal(t, fixed, points[0].Timestamp)
}
