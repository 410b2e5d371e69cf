package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

const (
	metaChannels  = "notification_channels"
	metaPending   = "persistence"
	pendingCreate = "pending"
)

// AlertStore persists alert history. The engine only writes to it; it is not
// read back at runtime except to restore open alerts on startup.
type AlertStore interface {
	Create(ctx context.Context, alert *model.Alert) (string, error)
	Update(ctx context.Context, id string, update model.AlertUpdate) error
}

// OpenAlertLister is implemented by stores that can list non-resolved alerts
type OpenAlertLister interface {
	ListOpen(ctx context.Context) ([]*model.Alert, error)
}

// Notifier delivers alerts to notification channels without blocking the caller
type Notifier interface {
	Dispatch(alert model.Alert, channels []string)
}

// AlertManagerConfig configures the alert lifecycle manager
type AlertManagerConfig struct {
	// PersistTimeout bounds every alert store call
	PersistTimeout time.Duration
	// ResolvedRetention is how long resolved ids are remembered so repeated
	// resolves are reported as invalid transitions rather than unknown ids
	ResolvedRetention time.Duration
}

// activeAlert is one entry of the active index. Its mutex totally orders the
// transitions of a single alert.
type activeAlert struct {
	mu       sync.Mutex
	alert    *model.Alert
	channels []string
}

// AlertManager creates alerts and drives them through
// Triggered -> (Acknowledged) -> Resolved.
type AlertManager struct {
	logger   *zap.Logger
	store    AlertStore
	notifier Notifier
	clock    Clock
	config   AlertManagerConfig

	mu       sync.RWMutex
	active   map[string]*activeAlert
	resolved map[string]time.Time

	obsMu       sync.RWMutex
	onTriggered []func(model.Alert)
	onResolved  []func(model.Alert)
}

// NewAlertManager creates a new alert manager
func NewAlertManager(store AlertStore, notifier Notifier, clock Clock, config AlertManagerConfig, logger *zap.Logger) *AlertManager {
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = 5 * time.Second
	}
	if config.ResolvedRetention <= 0 {
		config.ResolvedRetention = 24 * time.Hour
	}
	if clock == nil {
		clock = SystemClock
	}
	return &AlertManager{
		logger:   logger.Named("alert-manager"),
		store:    store,
		notifier: notifier,
		clock:    clock,
		config:   config,
		active:   make(map[string]*activeAlert),
		resolved: make(map[string]time.Time),
	}
}

// OnAlertTriggered registers fn to be called with every new alert.
// Observers run synchronously and must not block.
func (m *AlertManager) OnAlertTriggered(fn func(model.Alert)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.onTriggered = append(m.onTriggered, fn)
}

// OnAlertResolved registers fn to be called with every resolved alert
func (m *AlertManager) OnAlertResolved(fn func(model.Alert)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.onResolved = append(m.onResolved, fn)
}

// Trigger creates a new alert for rule, persists it and adds it to the active
// index. A persistence failure is logged and the alert is kept in the index
// flagged as pending persistence.
func (m *AlertManager) Trigger(ctx context.Context, rule model.AlertRule, value float64, point model.MetricPoint) model.Alert {
	alert := &model.Alert{
		ID:             uuid.New().String(),
		RuleID:         rule.ID,
		OrganizationID: rule.OrganizationID,
		Severity:       rule.Severity,
		Title:          fmt.Sprintf("%s %s %s", rule.MetricName, rule.Condition, model.FormatValue(rule.Threshold)),
		Message: fmt.Sprintf("Metric %s is %s (threshold: %s %s)",
			rule.MetricName, model.FormatValue(value), rule.Condition, model.FormatValue(rule.Threshold)),
		TriggeredAt: m.clock.Now(),
		Metadata:    alertMetadata(rule, value, point),
	}

	pctx, cancel := context.WithTimeout(ctx, m.config.PersistTimeout)
	_, err := m.store.Create(pctx, alert)
	cancel()
	if err != nil {
		alert.PendingPersistence = true
		alert.Metadata[metaPending] = pendingCreate
		telemetry.AlertPersistFailures.WithLabelValues("create").Inc()
		m.logger.Error("Failed to persist alert, keeping it pending in the active index",
			zap.String("alert_id", alert.ID),
			zap.String("rule_id", rule.ID),
			zap.Error(err))
	}

	entry := &activeAlert{
		alert:    alert,
		channels: append([]string(nil), rule.NotificationChannels...),
	}

	// Once published, the alert may only be read under entry.mu.
	snapshot := alert.Clone()

	m.mu.Lock()
	m.active[alert.ID] = entry
	count := len(m.active)
	m.mu.Unlock()

	telemetry.ActiveAlerts.Set(float64(count))
	telemetry.AlertTransitions.WithLabelValues(string(model.AlertStateTriggered), string(snapshot.Severity)).Inc()

	m.logger.Info("Alert triggered",
		zap.String("alert_id", snapshot.ID),
		zap.String("rule_id", snapshot.RuleID),
		zap.String("organization_id", snapshot.OrganizationID),
		zap.String("severity", string(snapshot.Severity)),
		zap.String("message", snapshot.Message))

	if m.notifier != nil && len(entry.channels) > 0 {
		m.notifier.Dispatch(snapshot, entry.channels)
	}
	m.notify(m.triggeredObservers(), snapshot)
	return snapshot
}

// Acknowledge moves a triggered alert to acknowledged
func (m *AlertManager) Acknowledge(ctx context.Context, alertID, actor string) (model.Alert, error) {
	entry, err := m.lookup(alertID)
	if err != nil {
		return model.Alert{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.alert.State() != model.AlertStateTriggered {
		return model.Alert{}, fmt.Errorf("%w: cannot acknowledge alert %s in state %s",
			ErrInvalidTransition, alertID, entry.alert.State())
	}

	now := m.clock.Now()
	entry.alert.AcknowledgedAt = &now
	entry.alert.AcknowledgedBy = actor
	m.persistTransition(ctx, entry.alert, model.AlertUpdate{
		AcknowledgedAt: &now,
		AcknowledgedBy: actor,
	})

	telemetry.AlertTransitions.WithLabelValues(string(model.AlertStateAcknowledged), string(entry.alert.Severity)).Inc()
	m.logger.Info("Alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("actor", actor))

	return entry.alert.Clone(), nil
}

// Resolve moves a non-resolved alert to resolved and removes it from the
// active index. Resolved alerts are immutable.
func (m *AlertManager) Resolve(ctx context.Context, alertID, actor string) (model.Alert, error) {
	entry, err := m.lookup(alertID)
	if err != nil {
		return model.Alert{}, err
	}

	entry.mu.Lock()
	if entry.alert.ResolvedAt != nil {
		entry.mu.Unlock()
		return model.Alert{}, fmt.Errorf("%w: alert %s is already resolved", ErrInvalidTransition, alertID)
	}

	now := m.clock.Now()
	if ack := entry.alert.AcknowledgedAt; ack != nil && now.Before(*ack) {
		now = *ack
	}
	entry.alert.ResolvedAt = &now
	entry.alert.ResolvedBy = actor
	m.persistTransition(ctx, entry.alert, model.AlertUpdate{
		ResolvedAt: &now,
		ResolvedBy: actor,
	})
	snapshot := entry.alert.Clone()
	channels := entry.channels
	entry.mu.Unlock()

	m.mu.Lock()
	delete(m.active, alertID)
	m.resolved[alertID] = now
	count := len(m.active)
	m.mu.Unlock()

	telemetry.ActiveAlerts.Set(float64(count))
	telemetry.AlertTransitions.WithLabelValues(string(model.AlertStateResolved), string(snapshot.Severity)).Inc()
	m.logger.Info("Alert resolved",
		zap.String("alert_id", alertID),
		zap.String("actor", actor))

	if m.notifier != nil && len(channels) > 0 {
		m.notifier.Dispatch(snapshot, channels)
	}
	m.notify(m.resolvedObservers(), snapshot)
	return snapshot, nil
}

// Get returns a copy of an active alert
func (m *AlertManager) Get(alertID string) (model.Alert, bool) {
	m.mu.RLock()
	entry, ok := m.active[alertID]
	m.mu.RUnlock()
	if !ok {
		return model.Alert{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.alert.Clone(), true
}

// ActiveAlerts returns copies of every non-resolved alert, oldest first
func (m *AlertManager) ActiveAlerts() []model.Alert {
	m.mu.RLock()
	entries := make([]*activeAlert, 0, len(m.active))
	for _, entry := range m.active {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	alerts := make([]model.Alert, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		alerts = append(alerts, entry.alert.Clone())
		entry.mu.Unlock()
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].TriggeredAt.Equal(alerts[j].TriggeredAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].TriggeredAt.Before(alerts[j].TriggeredAt)
	})
	return alerts
}

// ActiveCount returns the size of the active index
func (m *AlertManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Restore loads open alerts from the store into the active index
func (m *AlertManager) Restore(ctx context.Context) (int, error) {
	lister, ok := m.store.(OpenAlertLister)
	if !ok {
		return 0, nil
	}

	open, err := lister.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open alerts: %w", err)
	}

	m.mu.Lock()
	restored := 0
	for _, alert := range open {
		if alert.ResolvedAt != nil {
			continue
		}
		if _, exists := m.active[alert.ID]; exists {
			continue
		}
		if alert.Metadata == nil {
			alert.Metadata = make(map[string]string)
		}
		m.active[alert.ID] = &activeAlert{
			alert:    alert,
			channels: splitChannels(alert.Metadata[metaChannels]),
		}
		restored++
	}
	count := len(m.active)
	m.mu.Unlock()

	telemetry.ActiveAlerts.Set(float64(count))
	m.logger.Info("Restored open alerts", zap.Int("restored", restored))
	return restored, nil
}

// Prune forgets resolved ids older than the retention
func (m *AlertManager) Prune(now time.Time) int {
	cutoff := now.Add(-m.config.ResolvedRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, resolvedAt := range m.resolved {
		if resolvedAt.Before(cutoff) {
			delete(m.resolved, id)
			removed++
		}
	}
	return removed
}

func (m *AlertManager) lookup(alertID string) (*activeAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if entry, ok := m.active[alertID]; ok {
		return entry, nil
	}
	if _, ok := m.resolved[alertID]; ok {
		return nil, fmt.Errorf("%w: alert %s is already resolved", ErrInvalidTransition, alertID)
	}
	return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
}

// persistTransition writes a transition; an alert whose creation never reached
// the store is created in full instead. Must be called with the entry locked.
func (m *AlertManager) persistTransition(ctx context.Context, alert *model.Alert, update model.AlertUpdate) {
	pctx, cancel := context.WithTimeout(ctx, m.config.PersistTimeout)
	defer cancel()

	if alert.PendingPersistence {
		if _, err := m.store.Create(pctx, alert); err != nil {
			telemetry.AlertPersistFailures.WithLabelValues("create").Inc()
			m.logger.Error("Failed to persist pending alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
			return
		}
		alert.PendingPersistence = false
		delete(alert.Metadata, metaPending)
		return
	}

	if err := m.store.Update(pctx, alert.ID, update); err != nil {
		telemetry.AlertPersistFailures.WithLabelValues("update").Inc()
		m.logger.Error("Failed to persist alert transition",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}

func (m *AlertManager) triggeredObservers() []func(model.Alert) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	return m.onTriggered
}

func (m *AlertManager) resolvedObservers() []func(model.Alert) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	return m.onResolved
}

func (m *AlertManager) notify(observers []func(model.Alert), alert model.Alert) {
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Alert observer panicked", zap.Any("panic", r))
					telemetry.PanicsRecovered.WithLabelValues("alert_observer").Inc()
				}
			}()
			fn(alert.Clone())
		}()
	}
}

func alertMetadata(rule model.AlertRule, value float64, point model.MetricPoint) map[string]string {
	meta := map[string]string{
		"metric_name": rule.MetricName,
		"condition":   string(rule.Condition),
		"threshold":   model.FormatValue(rule.Threshold),
		"value":       model.FormatValue(value),
		"scope_key":   point.ScopeKey,
	}
	if !point.Timestamp.IsZero() {
		meta["point_timestamp"] = point.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(rule.NotificationChannels) > 0 {
		meta[metaChannels] = strings.Join(rule.NotificationChannels, ",")
	}
	for k, v := range point.Tags {
		meta["tag."+k] = v
	}
	return meta
}

func splitChannels(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
