package store

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, limits Limits, now *time.Time) *MetricStore {
	t.Helper()
	return NewMetricStore(limits, zap.NewNop(), WithNow(func() time.Time { return *now }))
}

func point(v float64, ts time.Time) model.MetricPoint {
	return model.MetricPoint{Value: v, Timestamp: ts}
}

func TestMetricStore_AppendAndLatest(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 10, MaxAge: time.Hour}, &now)

	_, ok := s.Latest("org1", "cpu")
	assert.False(t, ok)

	s.Append("org1", "cpu", point(10, base.Add(-2*time.Second)))
	s.Append("org1", "cpu", point(20, base.Add(-time.Second)))

	latest, ok := s.Latest("org1", "cpu")
	require.True(t, ok)
	assert.Equal(t, 20.0, latest.Value)
	assert.Equal(t, "org1", latest.ScopeKey)
	assert.Equal(t, "cpu", latest.Name)

	// Series are keyed by scope and name
	_, ok = s.Latest("org2", "cpu")
	assert.False(t, ok)
	assert.Equal(t, []string{"org1:cpu"}, s.Keys())
}

func TestMetricStore_OutOfOrderInsert(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 10, MaxAge: time.Hour}, &now)

	s.Append("org1", "cpu", point(3, base.Add(-1*time.Minute)))
	s.Append("org1", "cpu", point(1, base.Add(-3*time.Minute)))
	s.Append("org1", "cpu", point(2, base.Add(-2*time.Minute)))

	points := s.Range("org1", "cpu", base.Add(-time.Hour), base)
	require.Len(t, points, 3)
	assert.Equal(t, []float64{1, 2, 3}, values(points))

	latest, ok := s.Latest("org1", "cpu")
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.Value)
}

func TestMetricStore_MaxPointsEvictsOldest(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 3, MaxAge: time.Hour}, &now)

	for i := 0; i < 5; i++ {
		s.Append("org1", "cpu", point(float64(i), base.Add(time.Duration(i-5)*time.Second)))
	}

	points := s.Range("org1", "cpu", base.Add(-time.Hour), base)
	assert.Equal(t, []float64{2, 3, 4}, values(points))
}

func TestMetricStore_MaxAgeOnWrite(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 100, MaxAge: 10 * time.Minute}, &now)

	// Too old to ever be retained
	s.Append("org1", "cpu", point(1, base.Add(-11*time.Minute)))
	_, ok := s.Latest("org1", "cpu")
	assert.False(t, ok)

	s.Append("org1", "cpu", point(2, base.Add(-9*time.Minute)))
	now = base.Add(5 * time.Minute)
	s.Append("org1", "cpu", point(3, now))

	points := s.Range("org1", "cpu", base.Add(-time.Hour), now)
	assert.Equal(t, []float64{3}, values(points))
}

func TestMetricStore_RangeIsSnapshot(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 10, MaxAge: time.Hour}, &now)

	s.Append("org1", "cpu", point(1, base.Add(-3*time.Minute)))
	s.Append("org1", "cpu", point(2, base.Add(-2*time.Minute)))
	s.Append("org1", "cpu", point(3, base.Add(-1*time.Minute)))

	got := s.Range("org1", "cpu", base.Add(-150*time.Second), base.Add(-time.Minute))
	assert.Equal(t, []float64{2, 3}, values(got))

	got[0].Value = 99
	again := s.Range("org1", "cpu", base.Add(-150*time.Second), base.Add(-time.Minute))
	assert.Equal(t, []float64{2, 3}, values(again))

	assert.Empty(t, s.Range("org1", "cpu", base, base.Add(time.Hour)))
	assert.Empty(t, s.Range("org1", "missing", base.Add(-time.Hour), base))
}

func TestMetricStore_TagsAreCopied(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 10, MaxAge: time.Hour}, &now)

	tags := map[string]string{"host": "a"}
	s.Append("org1", "cpu", model.MetricPoint{Value: 1, Timestamp: base, Tags: tags})
	tags["host"] = "b"

	latest, ok := s.Latest("org1", "cpu")
	require.True(t, ok)
	assert.Equal(t, "a", latest.Tags["host"])
}

func TestMetricStore_PruneRetentionInvariant(t *testing.T) {
	limits := Limits{MaxPoints: 25, MaxAge: 5 * time.Minute}
	now := base
	s := newTestStore(t, limits, &now)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("metric-%d", rng.Intn(20))
		ts := now.Add(-time.Duration(rng.Intn(300)) * time.Second)
		s.Append("org", key, point(rng.Float64(), ts))
		if i%100 == 0 {
			now = now.Add(30 * time.Second)
		}
	}

	now = now.Add(2 * time.Minute)
	s.Prune(now)

	for _, key := range s.Keys() {
		name := key[len("org:"):]
		points := s.Range("org", name, time.Time{}, now.Add(time.Hour))
		assert.LessOrEqual(t, len(points), limits.MaxPoints, key)
		for i, p := range points {
			assert.LessOrEqual(t, now.Sub(p.Timestamp), limits.MaxAge, key)
			if i > 0 {
				assert.False(t, p.Timestamp.Before(points[i-1].Timestamp), key)
			}
		}
	}
}

func TestMetricStore_PruneForgetsEmptySeries(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 10, MaxAge: time.Minute}, &now)

	s.Append("org1", "cpu", point(1, base))
	s.Append("org1", "mem", point(1, base))
	require.Equal(t, 2, s.SeriesCount())

	evicted := s.Prune(base.Add(2 * time.Minute))
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 0, s.SeriesCount())
	assert.Empty(t, s.Keys())

	// A series can be recreated after being forgotten
	now = base.Add(2 * time.Minute)
	s.Append("org1", "cpu", point(5, now))
	latest, ok := s.Latest("org1", "cpu")
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Value)
	assert.Equal(t, 1, s.SeriesCount())
}

func TestMetricStore_ConcurrentDistinctKeysDoNotContend(t *testing.T) {
	now := base
	s := newTestStore(t, Limits{MaxPoints: 10, MaxAge: time.Hour}, &now)

	// Hold one series lock for the whole test; appends to other keys must still finish.
	s.Append("blocked", "metric", point(1, base))
	v, ok := s.series.Load(model.SeriesKey("blocked", "metric"))
	require.True(t, ok)
	held := v.(*series)
	held.mu.Lock()
	defer held.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append(fmt.Sprintf("org-%d", i), "cpu", point(float64(i), base))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("appends to distinct keys blocked on an unrelated series lock")
	}
	assert.Equal(t, 1001, s.SeriesCount())
}

func TestMetricStore_ConcurrentAppendAndPrune(t *testing.T) {
	s := NewMetricStore(Limits{MaxPoints: 50, MaxAge: time.Minute}, zap.NewNop())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.Prune(time.Now())
			}
		}
	}()

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Append("org", fmt.Sprintf("m-%d", i%10), point(float64(i), time.Now()))
			}
		}(w)
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	for _, key := range s.Keys() {
		points := s.Range("org", key[len("org:"):], time.Time{}, time.Now().Add(time.Hour))
		assert.LessOrEqual(t, len(points), 50)
	}
}

func values(points []model.MetricPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
