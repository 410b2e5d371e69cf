package model

import (
	"fmt"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityLow      AlertSeverity = "low"
)

// Valid reports whether s is one of the known severities
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityCritical, AlertSeverityHigh, AlertSeverityMedium, AlertSeverityLow:
		return true
	}
	return false
}

// Condition is the comparison applied between a metric value and a rule threshold
type Condition string

const (
	ConditionGreaterThan    Condition = "gt"
	ConditionGreaterOrEqual Condition = "gte"
	ConditionLessThan       Condition = "lt"
	ConditionLessOrEqual    Condition = "lte"
	ConditionEqual          Condition = "eq"
)

// AlertState represents where an alert is in its lifecycle
type AlertState string

const (
	AlertStateTriggered    AlertState = "triggered"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateResolved     AlertState = "resolved"
)

// AlertRule defines a threshold rule evaluated against the latest point of a metric.
// Rules are owned by an external management API; the engine only reads them.
type AlertRule struct {
	ID                   string        `json:"id" yaml:"id"`
	OrganizationID       string        `json:"organization_id" yaml:"organization_id"`
	MetricName           string        `json:"metric_name" yaml:"metric_name"`
	Condition            Condition     `json:"condition" yaml:"condition"`
	Threshold            float64       `json:"threshold" yaml:"threshold"`
	Severity             AlertSeverity `json:"severity" yaml:"severity"`
	Enabled              bool          `json:"enabled" yaml:"enabled"`
	Cooldown             time.Duration `json:"cooldown" yaml:"cooldown"`
	NotificationChannels []string      `json:"notification_channels,omitempty" yaml:"notification_channels"`
}

// Alert represents a triggered rule
type Alert struct {
	ID             string            `json:"id"`
	RuleID         string            `json:"rule_id"`
	OrganizationID string            `json:"organization_id"`
	Severity       AlertSeverity     `json:"severity"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	TriggeredAt    time.Time         `json:"triggered_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy     string            `json:"resolved_by,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// PendingPersistence is set when the alert could not be written to the
	// alert store and only lives in the active index.
	PendingPersistence bool `json:"pending_persistence,omitempty"`
}

// State derives the lifecycle state from the transition timestamps
func (a *Alert) State() AlertState {
	switch {
	case a.ResolvedAt != nil:
		return AlertStateResolved
	case a.AcknowledgedAt != nil:
		return AlertStateAcknowledged
	default:
		return AlertStateTriggered
	}
}

// Clone returns a deep copy so callers never share mutable state with the active index
func (a *Alert) Clone() Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// AlertUpdate carries the fields changed by a lifecycle transition
type AlertUpdate struct {
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	ResolvedAt     *time.Time
	ResolvedBy     string
}

// FormatValue renders a metric value the way it appears in alert messages
func FormatValue(v float64) string {
	return fmt.Sprintf("%v", v)
}
