package scheduler

// Names of the engine's periodic jobs
const (
	JobCollect      = "collect-self-metrics"
	JobEvaluate     = "evaluate-rules"
	JobHealth       = "check-health"
	JobPrune        = "prune-retention"
	JobRefreshRules = "refresh-rules"
)
