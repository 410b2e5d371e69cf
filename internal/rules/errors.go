package rules

import "errors"

var (
	// ErrUnknownCondition is returned when a rule uses an unsupported comparison
	ErrUnknownCondition = errors.New("unknown rule condition")

	// ErrInvalidRule is returned when a rule is missing required fields
	ErrInvalidRule = errors.New("invalid rule")
)
