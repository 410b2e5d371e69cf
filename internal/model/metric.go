package model

import "time"

// MetricPoint is a single measurement recorded under a scope key.
// Points are immutable once recorded.
type MetricPoint struct {
	ScopeKey  string            `json:"scope_key"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// SeriesKey returns the store key for a (scope, name) pair
func SeriesKey(scopeKey, name string) string {
	return scopeKey + ":" + name
}
