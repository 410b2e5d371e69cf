package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
)

// LogChannel writes alerts to the application log
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a new log channel
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("alerts")}
}

// Name returns the channel name used in rules
func (c *LogChannel) Name() string { return "log" }

// Send logs the alert
func (c *LogChannel) Send(ctx context.Context, alert model.Alert) error {
	c.logger.Info("Alert notification",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("organization_id", alert.OrganizationID),
		zap.String("severity", string(alert.Severity)),
		zap.String("state", string(alert.State())),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.Time("triggered_at", alert.TriggeredAt))
	return nil
}
