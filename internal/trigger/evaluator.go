package trigger

import "github.com/llLeco/parametric-ecosphere-sub000/internal/policy"

// Evaluate scans a policy's conditions in array order against a
// confirmed value. Conditions whose parameter does not match the event
// are skipped; the first condition that is met short-circuits the scan,
// so later conditions are never consulted. Returns the met condition,
// or nil when no condition fires.
func Evaluate(conditions []policy.TriggerCondition, parameter string, value float64) *policy.TriggerCondition {
	for i := range conditions {
		c := &conditions[i]
		if c.Parameter != parameter {
			continue
		}
		if ConditionMet(c.Operator, value, c.Threshold) {
			return c
		}
	}
	return nil
}

// ConditionMet applies one comparison operator.
func ConditionMet(operator string, value, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	}
	return false
}
