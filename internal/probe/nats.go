package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/t77yq/metricwatch/internal/model"
)

// NATS reports the state of a NATS connection
type NATS struct {
	nc *nats.Conn
}

// NewNATS creates a NATS probe
func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc}
}

// Check flushes the connection. A reconnecting client is degraded, a closed
// one is unhealthy.
func (p *NATS) Check(ctx context.Context) (model.ServiceHealth, error) {
	start := time.Now()
	status := p.nc.Status()
	details := map[string]string{
		"status": status.String(),
		"url":    p.nc.ConnectedUrlRedacted(),
	}

	switch status {
	case nats.CONNECTED:
	case nats.RECONNECTING, nats.CONNECTING:
		health, _ := result("nats", start, nil, details)
		health.Status = model.HealthStatusDegraded
		return health, nil
	default:
		return result("nats", start, fmt.Errorf("nats connection is %s", status), details)
	}

	if err := p.nc.FlushWithContext(ctx); err != nil {
		return result("nats", start, fmt.Errorf("failed to flush nats connection: %w", err), details)
	}
	return result("nats", start, nil, details)
}
