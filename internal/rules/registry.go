package rules

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

// Source loads the enabled rules from the persistence layer.
// An empty orgFilter loads rules of every organization.
type Source interface {
	LoadEnabledRules(ctx context.Context, orgFilter string) ([]model.AlertRule, error)
}

// Snapshot is an immutable view of the enabled rules
type Snapshot struct {
	rules    []model.AlertRule
	byID     map[string]model.AlertRule
	LoadedAt time.Time
}

// Rules returns the rules ordered by id. The slice must not be modified.
func (s *Snapshot) Rules() []model.AlertRule {
	return s.rules
}

// Get returns a rule by id
func (s *Snapshot) Get(id string) (model.AlertRule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Len returns the number of rules in the snapshot
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Registry caches enabled rules. Refresh swaps the whole snapshot so readers
// always see a consistent set and never wait on a refresh in progress.
type Registry struct {
	logger    *zap.Logger
	source    Source
	orgFilter string
	current   atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry backed by source
func NewRegistry(source Source, orgFilter string, logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger.Named("rule-registry"),
		source:    source,
		orgFilter: orgFilter,
	}
	r.current.Store(newSnapshot(nil, time.Time{}))
	return r
}

// Snapshot returns the current rule set
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Refresh reloads every enabled rule from the source. On failure the
// previous snapshot stays in place and the error is returned.
func (r *Registry) Refresh(ctx context.Context) error {
	loaded, err := r.source.LoadEnabledRules(ctx, r.orgFilter)
	if err != nil {
		telemetry.RuleRefreshTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("Failed to refresh rules, keeping previous snapshot",
			zap.Int("rules", r.Snapshot().Len()),
			zap.Error(err))
		return fmt.Errorf("failed to load rules: %w", err)
	}

	valid := make([]model.AlertRule, 0, len(loaded))
	for _, rule := range loaded {
		if !rule.Enabled {
			continue
		}
		if err := Validate(rule); err != nil {
			r.logger.Warn("Skipping invalid rule", zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		valid = append(valid, rule)
	}

	snap := newSnapshot(valid, time.Now())
	r.current.Store(snap)
	telemetry.RuleRefreshTotal.WithLabelValues("success").Inc()
	telemetry.RulesLoaded.Set(float64(snap.Len()))

	r.logger.Debug("Rules refreshed", zap.Int("rules", snap.Len()))
	return nil
}

func newSnapshot(rules []model.AlertRule, loadedAt time.Time) *Snapshot {
	byID := make(map[string]model.AlertRule, len(rules))
	for _, rule := range rules {
		rule.NotificationChannels = append([]string(nil), rule.NotificationChannels...)
		byID[rule.ID] = rule
	}

	ordered := make([]model.AlertRule, 0, len(byID))
	for _, rule := range byID {
		ordered = append(ordered, rule)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})

	return &Snapshot{
		rules:    ordered,
		byID:     byID,
		LoadedAt: loadedAt,
	}
}
