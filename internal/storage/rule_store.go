package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/t77yq/metricwatch/internal/model"
)

// RuleStore reads and writes alert rules
type RuleStore struct {
	db *DB
}

// NewRuleStore creates a rule store on db
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

const ruleColumns = `id, organization_id, metric_name, condition, threshold, severity, enabled, cooldown, notification_channels`

// LoadEnabledRules returns every enabled rule, limited to one organization
// when orgFilter is set.
func (s *RuleStore) LoadEnabledRules(ctx context.Context, orgFilter string) ([]model.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules WHERE enabled = 1"
	args := make([]interface{}, 0, 1)
	if orgFilter != "" {
		query += " AND organization_id = ?"
		args = append(args, orgFilter)
	}
	query += " ORDER BY id"

	return s.query(ctx, query, args...)
}

// List returns every rule, enabled or not
func (s *RuleStore) List(ctx context.Context) ([]model.AlertRule, error) {
	return s.query(ctx, "SELECT "+ruleColumns+" FROM alert_rules ORDER BY id")
}

// Get retrieves a rule by id
func (s *RuleStore) Get(ctx context.Context, id string) (model.AlertRule, error) {
	row := s.db.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM alert_rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AlertRule{}, fmt.Errorf("%w: rule %s", ErrNotFound, id)
	}
	return rule, err
}

// Upsert creates or replaces a rule
func (s *RuleStore) Upsert(ctx context.Context, rule model.AlertRule) error {
	channels, err := json.Marshal(rule.NotificationChannels)
	if err != nil {
		return fmt.Errorf("failed to marshal notification channels: %w", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			metric_name = excluded.metric_name,
			condition = excluded.condition,
			threshold = excluded.threshold,
			severity = excluded.severity,
			enabled = excluded.enabled,
			cooldown = excluded.cooldown,
			notification_channels = excluded.notification_channels,
			updated_at = excluded.updated_at`,
		rule.ID,
		rule.OrganizationID,
		rule.MetricName,
		string(rule.Condition),
		rule.Threshold,
		string(rule.Severity),
		rule.Enabled,
		int64(rule.Cooldown),
		string(channels),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store rule: %w", err)
	}
	return nil
}

// Delete removes a rule
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: rule %s", ErrNotFound, id)
	}
	return nil
}

func (s *RuleStore) query(ctx context.Context, query string, args ...interface{}) ([]model.AlertRule, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return rules, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (model.AlertRule, error) {
	var (
		rule      model.AlertRule
		condition string
		severity  string
		cooldown  int64
		channels  sql.NullString
	)
	err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.MetricName,
		&condition,
		&rule.Threshold,
		&severity,
		&rule.Enabled,
		&cooldown,
		&channels,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rule, err
		}
		return rule, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.Condition = model.Condition(condition)
	rule.Severity = model.AlertSeverity(severity)
	rule.Cooldown = time.Duration(cooldown)
	if channels.Valid && channels.String != "" && channels.String != "null" {
		if err := json.Unmarshal([]byte(channels.String), &rule.NotificationChannels); err != nil {
			return rule, fmt.Errorf("failed to unmarshal notification channels for rule %s: %w", rule.ID, err)
		}
	}
	return rule, nil
}
