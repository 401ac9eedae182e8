/*
condition.go - Order-activity qualification

PURPOSE:
  Decides whether an employee currently needs the reminder a rule wants
  to send. Both conditions read a single fact: the created-at of the
  employee's latest non-draft order (draft orders never count).

CONDITIONS:
  no_order_today            qualifies if the latest order's local date
                            differs from today's, or there is no history
  days_since_last_order_gte qualifies if >= threshold whole calendar days
                            have passed since the latest order; no order
                            history counts as infinitely overdue

  Day arithmetic goes through the date-key anchors in schedule.go, never
  raw duration division.

SEE ALSO:
  - schedule.go: LocalDateKey / DaysBetweenLocal
  - engine.go: evaluates the condition per candidate employee
*/
package reminder

import (
	"fmt"
	"time"
)

// EmployeeQualifies reports whether the rule's condition holds for an
// employee whose latest non-draft order was created at lastOrderAt
// (nil = no order history). Dates are interpreted in the rule's timezone.
func EmployeeQualifies(rule RecurringRule, lastOrderAt *time.Time, nowUTC time.Time) (bool, error) {
	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return false, &RuleValidationError{RuleID: rule.ID, Field: "timezone", Reason: err.Error()}
	}

	switch rule.Condition {
	case CondNoOrderToday:
		if lastOrderAt == nil {
			return true, nil
		}
		return LocalDateKey(*lastOrderAt, loc) != LocalDateKey(nowUTC, loc), nil

	case CondDaysSinceOrderGte:
		if lastOrderAt == nil {
			return true, nil
		}
		return DaysBetweenLocal(*lastOrderAt, nowUTC, loc) >= rule.ThresholdDays, nil

	default:
		return false, &RuleValidationError{RuleID: rule.ID, Field: "condition", Reason: fmt.Sprintf("unknown condition %q", rule.Condition)}
	}
}
