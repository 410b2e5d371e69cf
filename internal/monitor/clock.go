package monitor

import "time"

// Clock supplies the current time. time.Now carries a monotonic reading, so
// durations computed with Sub are unaffected by wall-clock adjustments.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production clock
var SystemClock Clock = systemClock{}
