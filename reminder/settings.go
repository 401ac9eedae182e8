/*
settings.go - Org-scoped reminder configuration

PURPOSE:
  Settings is the singleton knob set read by every component: how stale an
  employee's ordering must be before they count as overdue, how far apart
  reminders to one thread must be, and how wide a rule's firing window is.

  Settings are DATA, not process config. Each operation or evaluation pass
  loads them once from the store and passes the value down; no component
  reads a mutable global.

SEE ALSO:
  - store.go: SettingsStore
  - schedule.go: uses RecurringWindowMinutes
  - ratelimit.go: uses RateLimitMinutes
  - overview.go: uses OverdueThresholdDays
*/
package reminder

import "fmt"

// Settings is the org-wide reminder configuration.
type Settings struct {
	OverdueThresholdDays   int
	RateLimitMinutes       int
	RecurringWindowMinutes int
}

// DefaultSettings returns the values used until an admin changes them.
func DefaultSettings() Settings {
	return Settings{
		OverdueThresholdDays:   3,
		RateLimitMinutes:       60,
		RecurringWindowMinutes: 30,
	}
}

// SettingsPatch carries a partial settings update. Nil fields are untouched.
type SettingsPatch struct {
	OverdueThresholdDays   *int
	RateLimitMinutes       *int
	RecurringWindowMinutes *int
}

// Apply returns a copy of s with the patch's non-nil fields replaced.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.OverdueThresholdDays != nil {
		s.OverdueThresholdDays = *p.OverdueThresholdDays
	}
	if p.RateLimitMinutes != nil {
		s.RateLimitMinutes = *p.RateLimitMinutes
	}
	if p.RecurringWindowMinutes != nil {
		s.RecurringWindowMinutes = *p.RecurringWindowMinutes
	}
	return s
}

// Validate rejects settings that would disable the engine in surprising
// ways (zero-width windows, negative thresholds).
func (s Settings) Validate() error {
	if s.OverdueThresholdDays < 1 {
		return fmt.Errorf("overdue_threshold_days must be >= 1, got %d", s.OverdueThresholdDays)
	}
	if s.RateLimitMinutes < 0 {
		return fmt.Errorf("rate_limit_minutes must be >= 0, got %d", s.RateLimitMinutes)
	}
	if s.RecurringWindowMinutes < 1 {
		return fmt.Errorf("recurring_window_minutes must be >= 1, got %d", s.RecurringWindowMinutes)
	}
	return nil
}
