package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/rules"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

// PointReader is the read side of the metric store used by evaluation
type PointReader interface {
	Latest(scopeKey, name string) (model.MetricPoint, bool)
}

// RuleSnapshotter supplies the current rule set
type RuleSnapshotter interface {
	Snapshot() *rules.Snapshot
}

// Triggerer turns a matched rule into an alert
type Triggerer interface {
	Trigger(ctx context.Context, rule model.AlertRule, value float64, point model.MetricPoint) model.Alert
}

// RuleEngine evaluates every enabled rule against the latest point of its metric
type RuleEngine struct {
	logger      *zap.Logger
	points      PointReader
	registry    RuleSnapshotter
	alerts      Triggerer
	clock       Clock
	concurrency int

	mu            sync.Mutex
	lastTriggered map[string]time.Time
}

// NewRuleEngine creates a new rule engine. concurrency bounds how many rules
// are evaluated at once within a tick.
func NewRuleEngine(points PointReader, registry RuleSnapshotter, alerts Triggerer, clock Clock, concurrency int, logger *zap.Logger) *RuleEngine {
	if clock == nil {
		clock = SystemClock
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &RuleEngine{
		logger:        logger.Named("rule-engine"),
		points:        points,
		registry:      registry,
		alerts:        alerts,
		clock:         clock,
		concurrency:   concurrency,
		lastTriggered: make(map[string]time.Time),
	}
}

// EvaluateAll runs one evaluation tick against a single registry snapshot and
// returns the number of alerts triggered.
func (e *RuleEngine) EvaluateAll(ctx context.Context) int {
	start := time.Now()
	snap := e.registry.Snapshot()
	ruleSet := snap.Rules()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		triggered int
	)
	sem := make(chan struct{}, e.concurrency)

	for _, rule := range ruleSet {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(rule model.AlertRule) {
			defer wg.Done()
			defer func() { <-sem }()

			if e.evaluate(ctx, rule) {
				mu.Lock()
				triggered++
				mu.Unlock()
			}
		}(rule)
	}
	wg.Wait()

	telemetry.EvaluationDuration.Observe(time.Since(start).Seconds())
	e.logger.Debug("Rules evaluated",
		zap.Int("rules", len(ruleSet)),
		zap.Int("triggered", triggered),
		zap.Duration("duration", time.Since(start)))
	return triggered
}

// Evaluate checks a single rule and triggers an alert when it matches and is
// out of cooldown. It reports whether an alert was triggered.
func (e *RuleEngine) Evaluate(ctx context.Context, rule model.AlertRule) bool {
	return e.evaluate(ctx, rule)
}

func (e *RuleEngine) evaluate(ctx context.Context, rule model.AlertRule) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic while evaluating rule",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r))
			telemetry.PanicsRecovered.WithLabelValues("rule_engine").Inc()
			fired = false
		}
	}()

	point, ok := e.points.Latest(rule.OrganizationID, rule.MetricName)
	if !ok {
		telemetry.RuleEvaluations.WithLabelValues("no_data").Inc()
		return false
	}

	matched, err := rules.Evaluate(rule.Condition, point.Value, rule.Threshold)
	if err != nil {
		telemetry.RuleEvaluations.WithLabelValues("invalid").Inc()
		e.logger.Warn("Failed to evaluate rule", zap.String("rule_id", rule.ID), zap.Error(err))
		return false
	}
	if !matched {
		telemetry.RuleEvaluations.WithLabelValues("not_matched").Inc()
		return false
	}

	if !e.claim(rule.ID, rule.Cooldown) {
		telemetry.RuleEvaluations.WithLabelValues("cooldown").Inc()
		e.logger.Debug("Rule in cooldown", zap.String("rule_id", rule.ID))
		return false
	}

	telemetry.RuleEvaluations.WithLabelValues("triggered").Inc()
	e.alerts.Trigger(ctx, rule, point.Value, point)
	return true
}

// claim records a trigger for ruleID unless the previous one is younger than
// cooldown. The check and the update happen under one lock.
func (e *RuleEngine) claim(ruleID string, cooldown time.Duration) bool {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastTriggered[ruleID]; ok && now.Sub(last) < cooldown {
		return false
	}
	e.lastTriggered[ruleID] = now
	return true
}

// LastTriggered returns when a rule last fired
func (e *RuleEngine) LastTriggered(ruleID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastTriggered[ruleID]
	return t, ok
}

// PruneCooldowns forgets cooldown entries of rules no longer in the registry
// or whose cooldown has long expired.
func (e *RuleEngine) PruneCooldowns() int {
	snap := e.registry.Snapshot()
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, last := range e.lastTriggered {
		rule, ok := snap.Get(id)
		if !ok || now.Sub(last) >= rule.Cooldown {
			delete(e.lastTriggered, id)
			removed++
		}
	}
	return removed
}
