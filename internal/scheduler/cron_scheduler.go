package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/telemetry"
)

// Job is one periodic loop. Spec accepts cron expressions with a seconds
// field and descriptors such as "@every 10s".
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context)
}

// Drainer finishes in-flight background work before shutdown
type Drainer interface {
	Drain(ctx context.Context) error
}

// JobStatus describes a registered job
type JobStatus struct {
	Name    string
	Spec    string
	Next    time.Time
	LastRun time.Time
}

// CronScheduler runs every job on its own timer. A job still running when its
// next tick fires skips that tick; it never delays the other jobs.
type CronScheduler struct {
	logger          *zap.Logger
	cron            *cron.Cron
	drainer         Drainer
	shutdownTimeout time.Duration

	mu       sync.Mutex
	jobs     map[string]Job
	entryIDs map[string]cron.EntryID
	lastRun  map[string]time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
	telemetry.PanicsRecovered.WithLabelValues("scheduler").Inc()
}

// NewCronScheduler creates a scheduler for jobs. drainer may be nil.
func NewCronScheduler(jobs []Job, drainer Drainer, shutdownTimeout time.Duration, logger *zap.Logger) (*CronScheduler, error) {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	logger = logger.Named("scheduler")
	cl := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	}

	s := &CronScheduler{
		logger:          logger,
		cron:            cron.New(cronOptions...),
		drainer:         drainer,
		shutdownTimeout: shutdownTimeout,
		jobs:            make(map[string]Job, len(jobs)),
		entryIDs:        make(map[string]cron.EntryID, len(jobs)),
		lastRun:         make(map[string]time.Time, len(jobs)),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, job := range jobs {
		if err := s.add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *CronScheduler) add(job Job) error {
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	// Each job gets its own skip wrapper so overlap is tracked per job.
	wrapped := cron.NewChain(cron.SkipIfStillRunning(&cronLogger{logger: s.logger.Named(job.Name)})).
		Then(cron.FuncJob(func() { s.run(job) }))

	entryID, err := s.cron.AddJob(job.Spec, wrapped)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}

	s.jobs[job.Name] = job
	s.entryIDs[job.Name] = entryID
	return nil
}

// run executes one iteration unless the scheduler is stopping
func (s *CronScheduler) run(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx.Err() != nil {
		telemetry.JobRuns.WithLabelValues(job.Name, "skipped").Inc()
		return
	}

	start := time.Now()
	job.Run(ctx)
	duration := time.Since(start)

	s.mu.Lock()
	s.lastRun[job.Name] = start
	s.mu.Unlock()

	telemetry.JobRuns.WithLabelValues(job.Name, "completed").Inc()
	telemetry.JobDuration.WithLabelValues(job.Name).Observe(duration.Seconds())
	s.logger.Debug("Job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", duration))
}

// Start starts every job's timer
func (s *CronScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.cron.Start()

	for _, status := range s.statusLocked() {
		s.logger.Info("Scheduled job",
			zap.String("job", status.Name),
			zap.String("spec", status.Spec),
			zap.Time("next_run", status.Next))
	}
	return nil
}

// RunNow runs a job synchronously outside its schedule
func (s *CronScheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.run(job)
	return nil
}

// Jobs describes the registered jobs ordered by name
func (s *CronScheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *CronScheduler) statusLocked() []JobStatus {
	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, job := range s.jobs {
		entry := s.cron.Entry(s.entryIDs[name])
		statuses = append(statuses, JobStatus{
			Name:    name,
			Spec:    job.Spec,
			Next:    entry.Next,
			LastRun: s.lastRun[name],
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// Stop cancels every loop, waits for running jobs and then drains in-flight
// background work. It returns once everything finished or the shutdown
// deadline elapsed, whichever comes first.
func (s *CronScheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.cancel()
	s.mu.Unlock()

	deadline, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Stopping scheduler", zap.Duration("shutdown_timeout", s.shutdownTimeout))

	var jobsErr error
	select {
	case <-s.cron.Stop().Done():
	case <-deadline.Done():
		s.logger.Warn("Jobs still running at shutdown deadline")
		jobsErr = fmt.Errorf("failed to stop jobs: %w", deadline.Err())
	}

	// Drain even past the deadline so queued and in-flight work is abandoned.
	var drainErr error
	if s.drainer != nil {
		drainErr = s.drainer.Drain(deadline)
	}

	if err := errors.Join(jobsErr, drainErr); err != nil {
		return err
	}
	s.logger.Info("Scheduler stopped")
	return nil
}
