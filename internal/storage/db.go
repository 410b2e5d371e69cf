package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// DB is the SQLite database holding alert rules and alert history
type DB struct {
	logger *zap.Logger
	db     *sql.DB
}

// Open opens (or creates) the database at path and applies the schema
func Open(path string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	d := &DB{
		logger: logger.Named("storage"),
		db:     db,
	}

	if err := d.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// initialize creates the necessary tables if they don't exist
func (d *DB) initialize() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_rules (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			condition TEXT NOT NULL,
			threshold REAL NOT NULL,
			severity TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			cooldown INTEGER NOT NULL DEFAULT 0,
			notification_channels TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_alert_rules_org ON alert_rules(organization_id, enabled);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			triggered_at DATETIME NOT NULL,
			acknowledged_at DATETIME,
			acknowledged_by TEXT,
			resolved_at DATETIME,
			resolved_by TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_rule_id ON alerts(rule_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_org ON alerts(organization_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_resolved_at ON alerts(resolved_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SQL exposes the underlying handle
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}
