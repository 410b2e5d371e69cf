package rules

import (
	"fmt"

	"github.com/t77yq/metricwatch/internal/model"
)

// Evaluate applies cond between value and threshold.
// Comparisons are exact; no epsilon is applied for eq.
func Evaluate(cond model.Condition, value, threshold float64) (bool, error) {
	switch cond {
	case model.ConditionGreaterThan:
		return value > threshold, nil
	case model.ConditionGreaterOrEqual:
		return value >= threshold, nil
	case model.ConditionLessThan:
		return value < threshold, nil
	case model.ConditionLessOrEqual:
		return value <= threshold, nil
	case model.ConditionEqual:
		return value == threshold, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCondition, cond)
	}
}

// Validate checks that a rule can be evaluated
func Validate(rule model.AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if rule.OrganizationID == "" {
		return fmt.Errorf("%w: rule %s has no organization", ErrInvalidRule, rule.ID)
	}
	if rule.MetricName == "" {
		return fmt.Errorf("%w: rule %s has no metric name", ErrInvalidRule, rule.ID)
	}
	if rule.Cooldown < 0 {
		return fmt.Errorf("%w: rule %s has negative cooldown", ErrInvalidRule, rule.ID)
	}
	if _, err := Evaluate(rule.Condition, 0, 0); err != nil {
		return fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return nil
}
