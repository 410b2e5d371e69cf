package monitor

import "errors"

var (
	// ErrAlertNotFound is returned when an alert id is unknown to the engine
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidTransition is returned when a lifecycle transition is not
	// allowed from the alert's current state
	ErrInvalidTransition = errors.New("invalid alert transition")
)
