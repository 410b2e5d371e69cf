package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	PointsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricwatch_points_ingested_total",
			Help: "Total number of metric points accepted by the ingestor",
		},
	)

	PointsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_points_dropped_total",
			Help: "Total number of metric points dropped before storage",
		},
		[]string{"reason"}, // reason: non_finite, empty_name, empty_scope, expired, decode
	)

	PointsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricwatch_points_pruned_total",
			Help: "Total number of points evicted by the retention limits",
		},
	)

	SeriesCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricwatch_series",
			Help: "Current number of metric series held in memory",
		},
	)

	// Rules
	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricwatch_rules_loaded",
			Help: "Number of enabled rules in the current registry snapshot",
		},
	)

	RuleRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_rule_refresh_total",
			Help: "Total number of rule registry refreshes",
		},
		[]string{"status"}, // status: success, failed
	)

	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_rule_evaluations_total",
			Help: "Total number of rule evaluations by outcome",
		},
		[]string{"outcome"}, // outcome: no_data, not_matched, cooldown, triggered, invalid
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricwatch_evaluation_duration_seconds",
			Help:    "Time taken to evaluate every rule in one tick",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Alerts
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_alert_transitions_total",
			Help: "Total number of alert lifecycle transitions",
		},
		[]string{"state", "severity"},
	)

	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricwatch_active_alerts",
			Help: "Current number of non-resolved alerts",
		},
	)

	AlertPersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_alert_persist_failures_total",
			Help: "Total number of failed alert store writes",
		},
		[]string{"operation"}, // operation: create, update
	)

	// Notifications
	NotificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_notification_attempts_total",
			Help: "Total number of notification send attempts",
		},
		[]string{"channel", "status"}, // status: success, failed
	)

	NotificationsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_notifications_exhausted_total",
			Help: "Total number of notifications that failed every attempt",
		},
		[]string{"channel"},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricwatch_notifications_dropped_total",
			Help: "Total number of notifications dropped because the queue was full or closed",
		},
	)

	NotificationQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricwatch_notification_queue_size",
			Help: "Current number of queued notification jobs",
		},
	)

	// Health
	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_probe_results_total",
			Help: "Total number of health probe results by status",
		},
		[]string{"service", "status"},
	)

	SystemHealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricwatch_system_health",
			Help: "System health score: 1 healthy, 0.5 degraded, 0 unhealthy",
		},
	)

	// Scheduler
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_job_runs_total",
			Help: "Total number of periodic job runs",
		},
		[]string{"job", "status"}, // status: completed, skipped
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metricwatch_job_duration_seconds",
			Help:    "Time taken by one run of a periodic job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
