/*
errors.go - Centralized error types for the reminder engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The api package maps these onto HTTP status codes; the engine records
  them per rule / per employee without aborting a pass.

ERROR CATEGORIES:
  1. Authorization errors - caller not allowed to trigger sends
  2. Validation errors - malformed rules or requests
  3. Rate-limit rejection - expected, carries a retry-after hint
  4. Store errors - missing rows, optimistic-lock conflicts
  5. Integrity warnings - states the invariants forbid but data edits
     could produce; surfaced, never silently reconciled

USAGE:
  if errors.Is(err, reminder.ErrRateLimited) {
      var rl *reminder.RateLimitError
      errors.As(err, &rl)
      // tell the caller to retry after rl.RetryAfter
  }

SEE ALSO:
  - ratelimit.go: produces RateLimitError
  - threads.go: produces InvariantViolationError
  - api/handlers.go: HTTP status mapping
*/
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when no valid caller identity is present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller is not a manager or is suspended.
	ErrForbidden = errors.New("forbidden")

	// ErrEmployeeNotFound is returned when a referenced employee doesn't exist.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrRuleNotFound is returned when a referenced recurring rule doesn't exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrThreadNotFound is returned when a referenced reminder thread doesn't exist.
	ErrThreadNotFound = errors.New("reminder thread not found")

	// ErrRateLimited is returned when a reminder is sent too soon after the
	// previous one. Expected behavior, not a failure.
	ErrRateLimited = errors.New("reminder rate limited")

	// ErrInvalidRule is returned when a rule fails validation (malformed time,
	// unknown timezone, bad weekday).
	ErrInvalidRule = errors.New("invalid recurring rule")

	// ErrConcurrentModification is returned when the conditional thread update
	// detects a conflicting writer. Safe to retry once.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInAppDeliveryFailed is returned when the in-app notification row
	// could not be written. Fatal to the dispatch: in-app is the primary
	// delivery guarantee.
	ErrInAppDeliveryFailed = errors.New("in-app delivery failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RateLimitError tells the caller how long to wait before retrying.
type RateLimitError struct {
	ThreadID   ThreadID
	RetryAfter time.Duration // rounded up to whole seconds, >= 1s
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", int(e.RetryAfter.Seconds()))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds is the caller-facing wait hint, always >= 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int(e.RetryAfter.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// RuleValidationError pinpoints the field that made a rule unusable.
type RuleValidationError struct {
	RuleID RuleID
	Field  string
	Reason string
}

func (e *RuleValidationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid rule %s: %s: %s", e.RuleID, e.Field, e.Reason)
}

func (e *RuleValidationError) Unwrap() error { return ErrInvalidRule }

// InvariantViolationError reports more than one active thread for the same
// (employee, location) pair. The newest thread is treated as canonical for
// the current operation; the extra rows are a data defect to alert on.
type InvariantViolationError struct {
	EmployeeID EmployeeID
	LocationID *LocationID
	ThreadIDs  []ThreadID
}

func (e *InvariantViolationError) Error() string {
	ids := make([]string, len(e.ThreadIDs))
	for i, id := range e.ThreadIDs {
		ids[i] = string(id)
	}
	loc := "any"
	if e.LocationID != nil {
		loc = string(*e.LocationID)
	}
	return fmt.Sprintf("integrity: %d active threads for employee %s location %s: %s",
		len(e.ThreadIDs), e.EmployeeID, loc, strings.Join(ids, ", "))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrThreadNotFound)
}

// IsClientError returns true if the error is the caller's to fix
// (bad input or too-frequent sends), as opposed to an engine failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInvalidRule)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
