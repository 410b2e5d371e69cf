package model

import "time"

// HealthStatus represents the health of a service or of the whole system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Rank orders statuses by severity: unhealthy > degraded > healthy
func (s HealthStatus) Rank() int {
	switch s {
	case HealthStatusUnhealthy:
		return 2
	case HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

// Score is the numeric encoding used for the synthetic health metric
func (s HealthStatus) Score() float64 {
	switch s {
	case HealthStatusUnhealthy:
		return 0
	case HealthStatusDegraded:
		return 0.5
	default:
		return 1
	}
}

// ServiceHealth is the outcome of a single health probe
type ServiceHealth struct {
	ServiceName    string            `json:"service_name"`
	Status         HealthStatus      `json:"status"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	ErrorRate      float64           `json:"error_rate"`
	LastCheckedAt  time.Time         `json:"last_checked_at"`
	Details        map[string]string `json:"details,omitempty"`
}

// SystemHealth folds every service result into one status
type SystemHealth struct {
	Status     HealthStatus             `json:"status"`
	Services   map[string]ServiceHealth `json:"services"`
	ComputedAt time.Time                `json:"computed_at"`
}

// WorstStatus returns the most severe status among services, healthy when empty
func WorstStatus(services map[string]ServiceHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, s := range services {
		if s.Status.Rank() > status.Rank() {
			status = s.Status
		}
	}
	return status
}
