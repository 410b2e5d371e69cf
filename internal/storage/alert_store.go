package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
)

// AlertStore persists alert history in SQLite
type AlertStore struct {
	logger *zap.Logger
	db     *DB
}

// NewAlertStore creates an alert store on db
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{
		logger: db.logger.Named("alerts"),
		db:     db,
	}
}

const alertColumns = `id, rule_id, organization_id, severity, title, message, triggered_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, metadata`

// alertFilterColumns are the columns List and Count accept as filters
var alertFilterColumns = map[string]bool{
	"rule_id":         true,
	"organization_id": true,
	"severity":        true,
}

// Create stores a new alert. Storing an id that already exists overwrites it,
// so an alert left pending persistence can be written again in full.
func (s *AlertStore) Create(ctx context.Context, alert *model.Alert) (string, error) {
	metadata, err := marshalMetadata(alert.Metadata)
	if err != nil {
		return "", err
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			acknowledged_at = excluded.acknowledged_at,
			acknowledged_by = excluded.acknowledged_by,
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by,
			metadata = excluded.metadata`,
		alert.ID,
		alert.RuleID,
		alert.OrganizationID,
		string(alert.Severity),
		alert.Title,
		alert.Message,
		alert.TriggeredAt.UTC(),
		nullTime(alert.AcknowledgedAt),
		nullString(alert.AcknowledgedBy),
		nullTime(alert.ResolvedAt),
		nullString(alert.ResolvedBy),
		metadata,
	)
	if err != nil {
		return "", fmt.Errorf("failed to store alert: %w", err)
	}
	return alert.ID, nil
}

// Update applies a lifecycle transition. Fields left empty in update keep
// their stored values.
func (s *AlertStore) Update(ctx context.Context, id string, update model.AlertUpdate) error {
	result, err := s.db.db.ExecContext(ctx, `
		UPDATE alerts SET
			acknowledged_at = COALESCE(?, acknowledged_at),
			acknowledged_by = COALESCE(?, acknowledged_by),
			resolved_at = COALESCE(?, resolved_at),
			resolved_by = COALESCE(?, resolved_by)
		WHERE id = ?`,
		nullTime(update.AcknowledgedAt),
		nullString(update.AcknowledgedBy),
		nullTime(update.ResolvedAt),
		nullString(update.ResolvedBy),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	return nil
}

// Get retrieves an alert by id
func (s *AlertStore) Get(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	return alert, err
}

// ListOpen returns every alert that has not been resolved, oldest first
func (s *AlertStore) ListOpen(ctx context.Context) ([]*model.Alert, error) {
	return s.query(ctx, "SELECT "+alertColumns+" FROM alerts WHERE resolved_at IS NULL ORDER BY triggered_at ASC")
}

// List retrieves alerts matching the filters, newest first
func (s *AlertStore) List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*model.Alert, error) {
	where, args, err := buildFilters(filters)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + alertColumns + " FROM alerts" + where + " ORDER BY triggered_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return s.query(ctx, query, args...)
}

// Count returns the number of alerts matching the filters
func (s *AlertStore) Count(ctx context.Context, filters map[string]interface{}) (int, error) {
	where, args, err := buildFilters(filters)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// DeleteResolvedBefore deletes alerts resolved before the given time
func (s *AlertStore) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.db.ExecContext(ctx,
		"DELETE FROM alerts WHERE resolved_at IS NOT NULL AND resolved_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete alert history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected > 0 {
		s.logger.Info("Deleted old alert history records",
			zap.Time("before", before),
			zap.Int64("deleted", affected))
	}
	return affected, nil
}

func (s *AlertStore) query(ctx context.Context, query string, args ...interface{}) ([]*model.Alert, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

func scanAlert(row scanner) (*model.Alert, error) {
	var (
		alert          model.Alert
		severity       string
		acknowledgedAt sql.NullTime
		acknowledgedBy sql.NullString
		resolvedAt     sql.NullTime
		resolvedBy     sql.NullString
		metadata       sql.NullString
	)
	err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.OrganizationID,
		&severity,
		&alert.Title,
		&alert.Message,
		&alert.TriggeredAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
		&resolvedBy,
		&metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.Severity = model.AlertSeverity(severity)
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = acknowledgedBy.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = resolvedBy.String
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &alert.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for alert %s: %w", alert.ID, err)
		}
	}
	return &alert, nil
}

func buildFilters(filters map[string]interface{}) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	where := " WHERE"
	args := make([]interface{}, 0, len(filters))
	first := true
	for key, value := range filters {
		if !alertFilterColumns[key] {
			return "", nil, fmt.Errorf("unsupported alert filter: %s", key)
		}
		if !first {
			where += " AND"
		}
		where += fmt.Sprintf(" %s = ?", key)
		args = append(args, value)
		first = false
	}
	return where, args, nil
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
