/*
threads.go - Reminder thread lifecycle

PURPOSE:
  Owns the single mutable shared state in the system: the active
  reminder thread per (employee, location) pair.

INVARIANT:
  At most one active thread per (employee, location). Enforced by the
  trigger flow below plus the store's uniqueness constraint on active
  rows; a pair with multiple active threads is a data defect that gets
  surfaced, never silently merged.

TRIGGER FLOW (the order matters):
  1. Re-read the active thread. Never trust a row cached from an
     earlier listing: the rate limiter's correctness depends on the
     persisted last_reminded_at as of right now.
  2. Rate-limit against the re-read row (override skips the check).
  3. Mutate: bump the existing row with a conditional update guarded on
     the count just read, or insert a fresh row with count 1. A guard
     miss or duplicate-insert collision returns
     ErrConcurrentModification; exactly one of two racing triggers wins.

STALE RESOLUTION:
  A thread is stale once its employee has a non-draft order created
  after the thread. Resolution is lazy, at read time, from two places:
  the overview scan and the send path. ResolveStale delegates to the
  store's single-statement multi-row flip.

SEE ALSO:
  - ratelimit.go: the spacing decision
  - store.go: ThreadStore contract
  - sender.go / engine.go: callers
*/
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// THREAD SERVICE
// =============================================================================

type ThreadService struct {
	store ThreadStore
	log   *logrus.Logger
}

func NewThreadService(store ThreadStore, log *logrus.Logger) *ThreadService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ThreadService{store: store, log: log}
}

// TriggerInput carries one reminder trigger. Limit is the org rate limit
// in minutes; Override bypasses it for explicit manual re-sends.
type TriggerInput struct {
	EmployeeID EmployeeID
	LocationID *LocationID
	ManagerID  *EmployeeID
	Override   bool
	Limit      int
	Now        time.Time
}

// TriggerOutcome reports the thread state after a successful trigger.
// Created distinguishes a first reminder (new thread) from a re-reminder.
// Violation is non-nil when the pair had multiple active threads; the
// returned thread is the newest one, treated as canonical.
type TriggerOutcome struct {
	Thread    ReminderThread
	Created   bool
	Violation *InvariantViolationError
}

// Trigger creates or bumps the active thread for (employee, location).
// Returns RateLimitError when the re-read thread was reminded too
// recently, ErrConcurrentModification when a concurrent trigger won the
// row (callers may retry once).
func (s *ThreadService) Trigger(ctx context.Context, in TriggerInput) (*TriggerOutcome, error) {
	active, err := s.store.GetActiveThreads(ctx, in.EmployeeID, in.LocationID)
	if err != nil {
		return nil, fmt.Errorf("read active thread: %w", err)
	}

	if len(active) == 0 {
		thread := ReminderThread{
			ID:             ThreadID(uuid.New().String()),
			EmployeeID:     in.EmployeeID,
			ManagerID:      in.ManagerID,
			LocationID:     in.LocationID,
			Status:         ThreadActive,
			CreatedAt:      in.Now,
			LastRemindedAt: in.Now,
			ReminderCount:  1,
		}
		if err := s.store.SaveThread(ctx, thread); err != nil {
			return nil, fmt.Errorf("insert thread: %w", err)
		}
		return &TriggerOutcome{Thread: thread, Created: true}, nil
	}

	canonical := active[0] // newest CreatedAt first
	var violation *InvariantViolationError
	if len(active) > 1 {
		ids := make([]ThreadID, len(active))
		for i, t := range active {
			ids[i] = t.ID
		}
		violation = &InvariantViolationError{EmployeeID: in.EmployeeID, LocationID: in.LocationID, ThreadIDs: ids}
		s.log.WithFields(logrus.Fields{
			"employee_id": in.EmployeeID,
			"threads":     len(active),
		}).Warn("[Threads] multiple active threads for one pair, using newest")
	}

	if d := CheckRateLimit(&canonical.LastRemindedAt, in.Limit, in.Override, in.Now); !d.Allowed {
		return nil, &RateLimitError{ThreadID: canonical.ID, RetryAfter: d.RetryAfter}
	}

	ok, err := s.store.BumpThread(ctx, canonical.ID, canonical.ReminderCount, in.ManagerID, in.Now)
	if err != nil {
		return nil, fmt.Errorf("bump thread %s: %w", canonical.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", canonical.ID, ErrConcurrentModification)
	}

	canonical.ReminderCount++
	canonical.LastRemindedAt = in.Now
	canonical.ManagerID = in.ManagerID
	return &TriggerOutcome{Thread: canonical, Violation: violation}, nil
}

// ResolveStale resolves every active thread of the employee made stale by
// their latest order. Nil latest (no order history) resolves nothing.
// Returns the number of threads flipped.
func (s *ThreadService) ResolveStale(ctx context.Context, employeeID EmployeeID, latest *Order, now time.Time) (int, error) {
	if latest == nil {
		return 0, nil
	}
	n, err := s.store.ResolveStaleThreads(ctx, employeeID, latest.ID, latest.CreatedAt, now)
	if err != nil {
		return 0, fmt.Errorf("resolve stale threads for %s: %w", employeeID, err)
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{
			"employee_id": employeeID,
			"order_id":    latest.ID,
			"resolved":    n,
		}).Info("[Threads] resolved stale threads")
	}
	return n, nil
}
