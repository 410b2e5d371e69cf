package scheduler

import "errors"

var (
	// ErrUnknownJob is returned when a job name is not registered
	ErrUnknownJob = errors.New("unknown job")

	// ErrDuplicateJob is returned when two jobs share a name
	ErrDuplicateJob = errors.New("duplicate job")

	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrNotStarted is returned when Stop is called before Start
	ErrNotStarted = errors.New("scheduler not started")
)
