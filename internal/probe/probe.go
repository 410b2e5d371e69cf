// Package probe implements health checks for the engine's dependencies.
// Every probe honors the context deadline set by the health aggregator.
package probe

import (
	"context"
	"time"

	"github.com/t77yq/metricwatch/internal/model"
)

// result builds a ServiceHealth from a check outcome and its duration
func result(name string, start time.Time, err error, details map[string]string) (model.ServiceHealth, error) {
	health := model.ServiceHealth{
		ServiceName:    name,
		Status:         model.HealthStatusHealthy,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		LastCheckedAt:  time.Now(),
		Details:        details,
	}
	return health, err
}

// slow marks a healthy result as degraded when it took longer than threshold
func slow(health model.ServiceHealth, threshold time.Duration) model.ServiceHealth {
	if threshold > 0 && time.Duration(health.ResponseTimeMs)*time.Millisecond > threshold {
		health.Status = model.HealthStatusDegraded
		if health.Details == nil {
			health.Details = map[string]string{}
		}
		health.Details["reason"] = "slow response"
	}
	return health
}

// Pinger is satisfied by *sql.DB and storage.DB
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database checks that the database answers a ping
type Database struct {
	db            Pinger
	slowThreshold time.Duration
}

// NewDatabase creates a database probe. Pings slower than slowThreshold
// report degraded; zero disables the check.
func NewDatabase(db Pinger, slowThreshold time.Duration) *Database {
	return &Database{db: db, slowThreshold: slowThreshold}
}

// Check pings the database
func (p *Database) Check(ctx context.Context) (model.ServiceHealth, error) {
	start := time.Now()
	health, err := result("database", start, p.db.Ping(ctx), nil)
	if err != nil {
		return health, err
	}
	return slow(health, p.slowThreshold), nil
}
