package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDrainer struct {
	called atomic.Bool
	delay  time.Duration
}

func (d *fakeDrainer) Drain(ctx context.Context) error {
	d.called.Store(true)
	select {
	case <-time.After(d.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCronScheduler(t *testing.T) {
	logger := zap.NewNop()

	var fast, slow atomic.Int32
	jobs := []Job{
		{Name: "fast", Spec: "@every 1s", Run: func(ctx context.Context) { fast.Add(1) }},
		{Name: "slow", Spec: "@every 1s", Run: func(ctx context.Context) {
			slow.Add(1)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
			}
		}},
	}
	drainer := &fakeDrainer{}
	s, err := NewCronScheduler(jobs, drainer, 5*time.Second, logger)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	t.Run("Jobs run independently", func(t *testing.T) {
		require.Eventually(t, func() bool { return fast.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
		// The slow job overlaps its own ticks and skips them instead of piling up.
		assert.Equal(t, int32(1), slow.Load())
	})

	t.Run("Jobs listing", func(t *testing.T) {
		statuses := s.Jobs()
		require.Len(t, statuses, 2)
		assert.Equal(t, "fast", statuses[0].Name)
		assert.Equal(t, "@every 1s", statuses[0].Spec)
		assert.False(t, statuses[0].Next.IsZero())
		assert.False(t, statuses[0].LastRun.IsZero())
	})

	t.Run("Stop cancels running jobs and drains", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, s.Stop())
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.True(t, drainer.called.Load())

		runs := fast.Load()
		time.Sleep(1500 * time.Millisecond)
		assert.Equal(t, runs, fast.Load(), "no job runs after Stop")
	})
}

func TestCronScheduler_RunNow(t *testing.T) {
	var runs atomic.Int32
	s, err := NewCronScheduler([]Job{
		{Name: JobEvaluate, Spec: "@every 1h", Run: func(ctx context.Context) { runs.Add(1) }},
	}, nil, time.Second, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.RunNow(JobEvaluate))
	assert.Equal(t, int32(1), runs.Load())
	assert.ErrorIs(t, s.RunNow("missing"), ErrUnknownJob)
}

func TestCronScheduler_InvalidJobs(t *testing.T) {
	noop := func(ctx context.Context) {}

	_, err := NewCronScheduler([]Job{{Name: "bad", Spec: "every now and then", Run: noop}}, nil, time.Second, zap.NewNop())
	assert.Error(t, err)

	_, err = NewCronScheduler([]Job{
		{Name: "dup", Spec: "@every 1s", Run: noop},
		{Name: "dup", Spec: "@every 2s", Run: noop},
	}, nil, time.Second, zap.NewNop())
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestCronScheduler_StopBeforeStart(t *testing.T) {
	s, err := NewCronScheduler(nil, nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

func TestCronScheduler_DrainDeadline(t *testing.T) {
	drainer := &fakeDrainer{delay: time.Minute}
	s, err := NewCronScheduler(nil, drainer, 100*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	start := time.Now()
	err = s.Stop()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCronScheduler_StuckJobStillDrains(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var running atomic.Bool

	drainer := &fakeDrainer{}
	s, err := NewCronScheduler([]Job{
		{Name: "stuck", Spec: "@every 1s", Run: func(ctx context.Context) {
			running.Store(true)
			<-release
		}},
	}, drainer, 200*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.Eventually(t, running.Load, 3*time.Second, 20*time.Millisecond)

	start := time.Now()
	err = s.Stop()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, drainer.called.Load(), "drainer must run after the deadline")
	assert.Less(t, time.Since(start), time.Second)
}

func TestCronScheduler_JobPanicIsRecovered(t *testing.T) {
	var mu sync.Mutex
	var after bool
	s, err := NewCronScheduler([]Job{
		{Name: "panics", Spec: "@every 1s", Run: func(ctx context.Context) { panic("job bug") }},
		{Name: "ok", Spec: "@every 1s", Run: func(ctx context.Context) {
			mu.Lock()
			after = true
			mu.Unlock()
		}},
	}, nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return after
	}, 3*time.Second, 50*time.Millisecond)
}
