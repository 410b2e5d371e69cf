package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorstStatus(t *testing.T) {
	tests := []struct {
		name     string
		services map[string]ServiceHealth
		want     HealthStatus
	}{
		{"empty", nil, HealthStatusHealthy},
		{"all healthy", map[string]ServiceHealth{
			"db": {Status: HealthStatusHealthy},
			"mq": {Status: HealthStatusHealthy},
		}, HealthStatusHealthy},
		{"one degraded", map[string]ServiceHealth{
			"db": {Status: HealthStatusHealthy},
			"mq": {Status: HealthStatusDegraded},
		}, HealthStatusDegraded},
		{"unhealthy wins", map[string]ServiceHealth{
			"db": {Status: HealthStatusUnhealthy},
			"mq": {Status: HealthStatusDegraded},
			"fs": {Status: HealthStatusHealthy},
		}, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WorstStatus(tt.services))
		})
	}
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 1.0, HealthStatusHealthy.Score())
	assert.Equal(t, 0.5, HealthStatusDegraded.Score())
	assert.Equal(t, 0.0, HealthStatusUnhealthy.Score())
}

func TestAlertState(t *testing.T) {
	now := time.Now()
	alert := &Alert{ID: "a1", TriggeredAt: now}
	assert.Equal(t, AlertStateTriggered, alert.State())

	alert.AcknowledgedAt = &now
	assert.Equal(t, AlertStateAcknowledged, alert.State())

	alert.ResolvedAt = &now
	assert.Equal(t, AlertStateResolved, alert.State())
}

func TestAlertClone(t *testing.T) {
	now := time.Now()
	alert := &Alert{ID: "a1", AcknowledgedAt: &now, Metadata: map[string]string{"k": "v"}}

	c := alert.Clone()
	c.Metadata["k"] = "changed"
	*c.AcknowledgedAt = now.Add(time.Hour)

	assert.Equal(t, "v", alert.Metadata["k"])
	assert.True(t, alert.AcknowledgedAt.Equal(now))
}

func TestSeverityValid(t *testing.T) {
	assert.True(t, AlertSeverityCritical.Valid())
	assert.True(t, AlertSeverityLow.Valid())
	assert.False(t, AlertSeverity("urgent").Valid())
	assert.False(t, AlertSeverity("").Valid())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "95", FormatValue(95))
	assert.Equal(t, "0.30000000000000004", FormatValue(0.1+0.2))
}

func TestSeriesKey(t *testing.T) {
	assert.Equal(t, "org1:cpu", SeriesKey("org1", "cpu"))
}
