// Package engine wires the metric store, rule evaluation, alert lifecycle,
// notification dispatch and health aggregation into one lifecycle-managed
// unit. Nothing runs in the background until Start is called.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/config"
	"github.com/t77yq/metricwatch/internal/ingest"
	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/monitor"
	"github.com/t77yq/metricwatch/internal/notify"
	"github.com/t77yq/metricwatch/internal/rules"
	"github.com/t77yq/metricwatch/internal/scheduler"
	"github.com/t77yq/metricwatch/internal/store"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrStopped is returned when Start is called on a stopped engine
	ErrStopped = errors.New("engine stopped")
)

// HistoryPruner deletes persisted alert history. Implemented by storage.AlertStore.
type HistoryPruner interface {
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Dependencies are the external collaborators of the engine
type Dependencies struct {
	RuleSource rules.Source
	AlertStore monitor.AlertStore
	Channels   []notify.Channel
	Probes     map[string]monitor.Probe
	// Clock defaults to the system clock
	Clock monitor.Clock
}

// Engine is the metrics ingestion and threshold alerting engine
type Engine struct {
	logger *zap.Logger
	cfg    *config.Config
	clock  monitor.Clock
	pruner HistoryPruner

	store      *store.MetricStore
	ingestor   *ingest.Ingestor
	registry   *rules.Registry
	rules      *monitor.RuleEngine
	alerts     *monitor.AlertManager
	dispatcher *notify.Dispatcher
	health     *monitor.HealthAggregator
	collector  *monitor.MetricsCollector
	scheduler  *scheduler.CronScheduler

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds an engine from configuration and collaborators
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	if deps.RuleSource == nil {
		return nil, errors.New("rule source is required")
	}
	if deps.AlertStore == nil {
		return nil, errors.New("alert store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = monitor.SystemClock
	}

	e := &Engine{
		logger: logger.Named("engine"),
		cfg:    cfg,
		clock:  clock,
	}
	if pruner, ok := deps.AlertStore.(HistoryPruner); ok {
		e.pruner = pruner
	}

	e.store = store.NewMetricStore(store.Limits{
		MaxPoints: cfg.Store.MaxPoints,
		MaxAge:    cfg.Store.MaxAge,
	}, logger, store.WithNow(clock.Now))
	e.ingestor = ingest.NewIngestor(e.store, logger, ingest.WithNow(clock.Now))
	e.registry = rules.NewRegistry(deps.RuleSource, cfg.Rules.Organization, logger)

	e.dispatcher = notify.NewDispatcher(notify.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		MaxAttempts: cfg.Notify.MaxAttempts,
		SendTimeout: cfg.Notify.SendTimeout,
		Backoff: &notify.ExponentialBackoff{
			InitialDelay: cfg.Notify.InitialBackoff,
			MaxDelay:     cfg.Notify.MaxBackoff,
			Multiplier:   cfg.Notify.BackoffMultiplier,
		},
	}, deps.Channels, logger)

	e.alerts = monitor.NewAlertManager(deps.AlertStore, e.dispatcher, clock, monitor.AlertManagerConfig{
		ResolvedRetention: cfg.Alerts.ResolvedRetention,
	}, logger)
	e.rules = monitor.NewRuleEngine(e.store, e.registry, e.alerts, clock, 0, logger)
	e.health = monitor.NewHealthAggregator(deps.Probes, cfg.Health.ProbeTimeout, e.ingestor,
		cfg.Health.SystemScope, clock, logger)
	e.collector = monitor.NewMetricsCollector(e.ingestor, cfg.Health.SystemScope, e.store, e.alerts, logger)

	sched, err := scheduler.NewCronScheduler([]scheduler.Job{
		{Name: scheduler.JobCollect, Spec: cfg.Scheduler.Collect, Run: e.collector.Collect},
		{Name: scheduler.JobEvaluate, Spec: cfg.Scheduler.Evaluate, Run: func(ctx context.Context) { e.rules.EvaluateAll(ctx) }},
		{Name: scheduler.JobHealth, Spec: cfg.Scheduler.Health, Run: func(ctx context.Context) { e.health.Check(ctx) }},
		{Name: scheduler.JobPrune, Spec: cfg.Scheduler.Prune, Run: e.prune},
		{Name: scheduler.JobRefreshRules, Spec: cfg.Scheduler.RefreshRules, Run: func(ctx context.Context) { _ = e.registry.Refresh(ctx) }},
	}, e.dispatcher, cfg.Scheduler.ShutdownTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	e.scheduler = sched

	return e, nil
}

// Start loads rules, restores open alerts and starts the periodic loops.
// A failed initial rule load is logged and retried by the refresh loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}

	if err := e.registry.Refresh(ctx); err != nil {
		e.logger.Warn("Initial rule load failed, starting with no rules", zap.Error(err))
	}
	if _, err := e.alerts.Restore(ctx); err != nil {
		e.logger.Warn("Failed to restore open alerts", zap.Error(err))
	}

	e.dispatcher.Start()
	if err := e.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	e.started = true

	e.logger.Info("Engine started",
		zap.Int("rules", e.registry.Snapshot().Len()),
		zap.Int("active_alerts", e.alerts.ActiveCount()),
		zap.Strings("probes", e.health.ProbeNames()),
		zap.Strings("channels", e.dispatcher.Channels()))
	return nil
}

// Stop cancels the periodic loops and waits up to the shutdown timeout for
// in-flight notifications. A stopped engine cannot be started again; build a
// new one with New.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.stopped {
		return nil
	}
	e.stopped = true

	if err := e.scheduler.Stop(); err != nil {
		e.logger.Warn("Engine stopped with pending work", zap.Error(err))
		return err
	}
	e.logger.Info("Engine stopped")
	return nil
}

// Ingestor exposes the write path for additional transports
func (e *Engine) Ingestor() *ingest.Ingestor {
	return e.ingestor
}

// Record validates and stores one measurement. It never fails.
func (e *Engine) Record(scopeKey, name string, value float64, opts ...ingest.RecordOption) {
	e.ingestor.Record(scopeKey, name, value, opts...)
}

// Latest returns the freshest point of a series
func (e *Engine) Latest(scopeKey, name string) (model.MetricPoint, bool) {
	return e.store.Latest(scopeKey, name)
}

// Range returns the points of a series with start <= timestamp <= end
func (e *Engine) Range(scopeKey, name string, start, end time.Time) []model.MetricPoint {
	return e.store.Range(scopeKey, name, start, end)
}

// Series lists the keys of every series held in memory
func (e *Engine) Series() []string {
	return e.store.Keys()
}

// GetCurrentHealth returns the last computed system health
func (e *Engine) GetCurrentHealth() model.SystemHealth {
	return e.health.Current()
}

// CheckHealth runs the probes now
func (e *Engine) CheckHealth(ctx context.Context) model.SystemHealth {
	return e.health.Check(ctx)
}

// AcknowledgeAlert acknowledges a triggered alert
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID, actorID string) error {
	_, err := e.alerts.Acknowledge(ctx, alertID, actorID)
	return err
}

// ResolveAlert resolves a triggered or acknowledged alert
func (e *Engine) ResolveAlert(ctx context.Context, alertID, actorID string) error {
	_, err := e.alerts.Resolve(ctx, alertID, actorID)
	return err
}

// Alert returns an active alert by id
func (e *Engine) Alert(alertID string) (model.Alert, bool) {
	return e.alerts.Get(alertID)
}

// ActiveAlerts returns every non-resolved alert
func (e *Engine) ActiveAlerts() []model.Alert {
	return e.alerts.ActiveAlerts()
}

// Rules returns the rules currently evaluated
func (e *Engine) Rules() []model.AlertRule {
	src := e.registry.Snapshot().Rules()
	out := make([]model.AlertRule, len(src))
	copy(out, src)
	return out
}

// RefreshRules reloads rules now
func (e *Engine) RefreshRules(ctx context.Context) error {
	return e.registry.Refresh(ctx)
}

// EvaluateNow runs one evaluation tick and returns the number of alerts triggered
func (e *Engine) EvaluateNow(ctx context.Context) int {
	return e.rules.EvaluateAll(ctx)
}

// CollectNow records the engine's own metrics now
func (e *Engine) CollectNow(ctx context.Context) {
	e.collector.Collect(ctx)
}

// PruneNow enforces every retention limit now
func (e *Engine) PruneNow(ctx context.Context) {
	e.prune(ctx)
}

// Jobs describes the periodic loops
func (e *Engine) Jobs() []scheduler.JobStatus {
	return e.scheduler.Jobs()
}

// OnAlertTriggered registers an observer for new alerts
func (e *Engine) OnAlertTriggered(fn func(model.Alert)) {
	e.alerts.OnAlertTriggered(fn)
}

// OnAlertResolved registers an observer for resolved alerts
func (e *Engine) OnAlertResolved(fn func(model.Alert)) {
	e.alerts.OnAlertResolved(fn)
}

// OnHealthComputed registers an observer for every health tick
func (e *Engine) OnHealthComputed(fn func(model.SystemHealth)) {
	e.health.OnHealthComputed(fn)
}

func (e *Engine) prune(ctx context.Context) {
	now := e.clock.Now()
	points := e.store.Prune(now)
	tombstones := e.alerts.Prune(now)
	cooldowns := e.rules.PruneCooldowns()

	var history int64
	if e.pruner != nil && e.cfg.Alerts.HistoryRetention > 0 {
		n, err := e.pruner.DeleteResolvedBefore(ctx, now.Add(-e.cfg.Alerts.HistoryRetention))
		if err != nil {
			e.logger.Warn("Failed to prune alert history", zap.Error(err))
		}
		history = n
	}

	e.logger.Debug("Retention enforced",
		zap.Int("points", points),
		zap.Int("resolved_ids", tombstones),
		zap.Int("cooldowns", cooldowns),
		zap.Int64("history", history))
}
