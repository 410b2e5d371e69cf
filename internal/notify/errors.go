package notify

import "errors"

var (
	// ErrUnknownChannel is returned when a rule names a channel that is not registered
	ErrUnknownChannel = errors.New("unknown notification channel")

	// ErrDispatcherClosed is returned when dispatching after Drain
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrQueueFull is returned when the dispatch queue has no free slot
	ErrQueueFull = errors.New("notification queue full")
)
