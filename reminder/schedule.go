/*
schedule.go - Rule due-window and quiet-hours evaluation

PURPOSE:
  Answers one question: is this rule due right now? "Now" is always the
  caller's UTC instant; every decision converts it into the rule's
  timezone first, so a 17:00 rule in New York and a 17:00 rule in Paris
  fire at their own local 17:00.

KEY CONCEPTS:
  - Clock: strict "HH:MM" minute-of-day. Malformed values make a rule
    non-evaluable (a per-rule error), they never abort a pass.
  - Date key: the local "YYYY-MM-DD" string. A rule whose LastTriggeredAt
    maps to today's key already fired today and is not due again.
  - Firing window: [scheduled minute, scheduled minute + window), clipped
    at local midnight. No wraparound: a 23:50 rule with a 30-minute
    window is due 23:50-23:59 only.
  - Quiet hours: a separate suppression range that DOES wrap when
    start > end (22:00-06:00 spans midnight). Equal bounds mean an
    empty range, never "all day".

DST:
  Whole-day arithmetic anchors local date components at UTC midnight and
  divides, so a 23-hour or 25-hour local day still counts as one day.

SEE ALSO:
  - condition.go: uses the same date-key arithmetic
  - engine.go: calls RuleDueNow / RuleInQuietHours per rule per pass
*/
package reminder

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// =============================================================================
// CLOCK - Strict "HH:MM" minute-of-day
// =============================================================================

// Clock is a minute-of-day in [0, 1440).
type Clock int

// ParseClock parses a strict zero-padded "HH:MM" string with bounds
// validation. "9:30", "24:00" and "12:60" are all rejected.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("time %q is not HH:MM", s)
		}
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	minute := int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 {
		return 0, fmt.Errorf("time %q: hour out of range", s)
	}
	if minute > 59 {
		return 0, fmt.Errorf("time %q: minute out of range", s)
	}
	return Clock(hour*60 + minute), nil
}

func (c Clock) Hour() int      { return int(c) / 60 }
func (c Clock) Minute() int    { return int(c) % 60 }
func (c Clock) Minutes() int   { return int(c) }
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// =============================================================================
// DATE KEYS - Local calendar-day identity and arithmetic
// =============================================================================

// LocalDateKey returns t's calendar date in loc as "YYYY-MM-DD".
func LocalDateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// localMidnightUTC re-anchors t's local date components at UTC midnight.
// Day differences computed from these anchors are exact calendar days,
// immune to DST transitions shortening or stretching the local day.
func localMidnightUTC(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetweenLocal returns the whole calendar days from a to b as seen in
// loc. Negative when b's local date precedes a's.
func DaysBetweenLocal(a, b time.Time, loc *time.Location) int {
	return int(localMidnightUTC(b, loc).Sub(localMidnightUTC(a, loc)).Hours() / 24)
}

func weekdayInSet(d time.Weekday, days []time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

// =============================================================================
// DUE CHECK - At most one firing per rule per local calendar day
// =============================================================================

// RuleDueNow reports whether the rule's firing window contains nowUTC and
// the rule has not already fired today (in its own timezone). A malformed
// timezone or time-of-day yields a RuleValidationError; the caller records
// it against the rule and moves on.
func RuleDueNow(rule RecurringRule, settings Settings, nowUTC time.Time) (bool, error) {
	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return false, &RuleValidationError{RuleID: rule.ID, Field: "timezone", Reason: err.Error()}
	}
	scheduled, err := ParseClock(rule.TimeOfDay)
	if err != nil {
		return false, &RuleValidationError{RuleID: rule.ID, Field: "time_of_day", Reason: err.Error()}
	}

	local := nowUTC.In(loc)
	if !weekdayInSet(local.Weekday(), rule.Days) {
		return false, nil
	}

	// Window is clipped at local midnight, never wrapped. The date key
	// would roll over mid-window otherwise.
	minute := local.Hour()*60 + local.Minute()
	windowEnd := scheduled.Minutes() + settings.RecurringWindowMinutes
	if windowEnd > minutesPerDay {
		windowEnd = minutesPerDay
	}
	if minute < scheduled.Minutes() || minute >= windowEnd {
		return false, nil
	}

	// Already fired today in the rule's timezone.
	if rule.LastTriggeredAt != nil &&
		LocalDateKey(*rule.LastTriggeredAt, loc) == LocalDateKey(nowUTC, loc) {
		return false, nil
	}
	return true, nil
}

// =============================================================================
// QUIET HOURS - Suppression range, wraps across midnight when start > end
// =============================================================================

// RuleInQuietHours reports whether nowUTC falls inside the rule's quiet
// window. Rules without quiet hours are never suppressed. start > end
// spans midnight (22:00-06:00 covers 23:00 and 05:00); start == end is an
// empty range.
func RuleInQuietHours(rule RecurringRule, nowUTC time.Time) (bool, error) {
	if rule.QuietStart == "" && rule.QuietEnd == "" {
		return false, nil
	}
	if rule.QuietStart == "" || rule.QuietEnd == "" {
		return false, &RuleValidationError{RuleID: rule.ID, Field: "quiet_hours", Reason: "start and end must both be set"}
	}
	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return false, &RuleValidationError{RuleID: rule.ID, Field: "timezone", Reason: err.Error()}
	}
	start, err := ParseClock(rule.QuietStart)
	if err != nil {
		return false, &RuleValidationError{RuleID: rule.ID, Field: "quiet_start", Reason: err.Error()}
	}
	end, err := ParseClock(rule.QuietEnd)
	if err != nil {
		return false, &RuleValidationError{RuleID: rule.ID, Field: "quiet_end", Reason: err.Error()}
	}

	local := nowUTC.In(loc)
	minute := Clock(local.Hour()*60 + local.Minute())
	switch {
	case start == end:
		return false, nil
	case start < end:
		return minute >= start && minute < end, nil
	default: // crosses midnight
		return minute >= start || minute < end, nil
	}
}

// =============================================================================
// RULE VALIDATION - Boundary check for upserts
// =============================================================================

// Validate rejects rules the evaluator could never run. The evaluator
// still re-parses defensively at pass time: rows predating a validation
// change, or edited out of band, must degrade to per-rule errors.
func (r RecurringRule) Validate() error {
	if r.Name == "" {
		return &RuleValidationError{RuleID: r.ID, Field: "name", Reason: "required"}
	}
	switch r.Scope {
	case ScopeEmployee, ScopeLocation:
	default:
		return &RuleValidationError{RuleID: r.ID, Field: "scope", Reason: fmt.Sprintf("unknown scope %q", r.Scope)}
	}
	if r.TargetID == "" {
		return &RuleValidationError{RuleID: r.ID, Field: "target_id", Reason: "required"}
	}
	if len(r.Days) == 0 {
		return &RuleValidationError{RuleID: r.ID, Field: "days", Reason: "at least one weekday required"}
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return &RuleValidationError{RuleID: r.ID, Field: "days", Reason: fmt.Sprintf("weekday %d out of range", d)}
		}
	}
	if _, err := ParseClock(r.TimeOfDay); err != nil {
		return &RuleValidationError{RuleID: r.ID, Field: "time_of_day", Reason: err.Error()}
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return &RuleValidationError{RuleID: r.ID, Field: "timezone", Reason: err.Error()}
	}
	switch r.Condition {
	case CondNoOrderToday:
	case CondDaysSinceOrderGte:
		if r.ThresholdDays < 1 {
			return &RuleValidationError{RuleID: r.ID, Field: "threshold_days", Reason: "must be >= 1"}
		}
	default:
		return &RuleValidationError{RuleID: r.ID, Field: "condition", Reason: fmt.Sprintf("unknown condition %q", r.Condition)}
	}
	if r.QuietStart != "" || r.QuietEnd != "" {
		if r.QuietStart == "" || r.QuietEnd == "" {
			return &RuleValidationError{RuleID: r.ID, Field: "quiet_hours", Reason: "start and end must both be set"}
		}
		if _, err := ParseClock(r.QuietStart); err != nil {
			return &RuleValidationError{RuleID: r.ID, Field: "quiet_start", Reason: err.Error()}
		}
		if _, err := ParseClock(r.QuietEnd); err != nil {
			return &RuleValidationError{RuleID: r.ID, Field: "quiet_end", Reason: err.Error()}
		}
	}
	for _, c := range r.Channels {
		if c != ChannelInApp && c != ChannelPush {
			return &RuleValidationError{RuleID: r.ID, Field: "channels", Reason: fmt.Sprintf("unknown channel %q", c)}
		}
	}
	return nil
}
