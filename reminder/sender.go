/*
sender.go - One reminder send, end to end

PURPOSE:
  The single code path behind both a manager's manual send and the
  recurring engine's per-employee trigger. The two differ only in the
  Source tag recorded on the event row.

FLOW:
  load employee -> resolve stale threads (awaited) -> trigger thread
  (re-read + rate limit + conditional mutate) -> dispatch channels ->
  append event. Stale resolution failures are logged and surfaced as
  warnings on the receipt, never swallowed: a silent failure there would
  let the single-active-thread invariant drift undetected.

SEE ALSO:
  - threads.go: Trigger / ResolveStale
  - dispatch.go: channel fanout
  - engine.go: calls Send per candidate employee
*/
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// SENDER
// =============================================================================

type Sender struct {
	store      Store
	threads    *ThreadService
	dispatcher *Dispatcher
	log        *logrus.Logger
}

func NewSender(store Store, threads *ThreadService, dispatcher *Dispatcher, log *logrus.Logger) *Sender {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sender{store: store, threads: threads, dispatcher: dispatcher, log: log}
}

// SendRequest describes one reminder send. Zero Now means time.Now UTC.
type SendRequest struct {
	EmployeeID        EmployeeID
	LocationID        *LocationID
	ManagerID         *EmployeeID
	Message           string
	OverrideRateLimit bool
	Source            Source
	Channels          []Channel
	Now               time.Time
}

// SendReceipt is what the caller gets back: the thread after the
// trigger, the audit event, the push sub-result, and any integrity or
// resolution warnings collected along the way.
type SendReceipt struct {
	Thread               ReminderThread
	Event                ReminderEvent
	Push                 *PushOutcome
	NotificationsEnabled bool
	Warnings             []string
}

// Send delivers one reminder. Fails with ErrEmployeeNotFound,
// RateLimitError, or a dispatch error. A concurrent-modification loss is
// retried once before giving up.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*SendReceipt, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	emp, err := s.store.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("load employee %s: %w", req.EmployeeID, err)
	}
	if emp == nil {
		return nil, fmt.Errorf("employee %s: %w", req.EmployeeID, ErrEmployeeNotFound)
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var warnings []string

	// Resolve threads made stale by the employee's latest order BEFORE the
	// rate-limit read, so a just-resolved thread cannot block a fresh need.
	latest, err := s.store.GetLatestOrder(ctx, req.EmployeeID)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("latest order read failed: %v", err))
		s.log.WithError(err).WithField("employee_id", req.EmployeeID).
			Warn("[Sender] latest order read failed, skipping stale resolution")
	} else if _, err := s.threads.ResolveStale(ctx, req.EmployeeID, latest, now); err != nil {
		warnings = append(warnings, fmt.Sprintf("stale resolution failed: %v", err))
		s.log.WithError(err).WithField("employee_id", req.EmployeeID).
			Warn("[Sender] stale resolution failed")
	}

	in := TriggerInput{
		EmployeeID: req.EmployeeID,
		LocationID: req.LocationID,
		ManagerID:  req.ManagerID,
		Override:   req.OverrideRateLimit,
		Limit:      settings.RateLimitMinutes,
		Now:        now,
	}
	outcome, err := s.threads.Trigger(ctx, in)
	if IsRetryable(err) {
		outcome, err = s.threads.Trigger(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	if outcome.Violation != nil {
		warnings = append(warnings, outcome.Violation.Error())
	}

	eventType := EventRemindedAgain
	if outcome.Created {
		eventType = EventSent
	}
	event, err := s.dispatcher.Dispatch(ctx, DispatchInput{
		Thread:   outcome.Thread,
		Employee: *emp,
		Type:     eventType,
		Source:   req.Source,
		Channels: req.Channels,
		Message:  req.Message,
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", req.EmployeeID, err)
	}

	return &SendReceipt{
		Thread:               outcome.Thread,
		Event:                *event,
		Push:                 event.Result.Push,
		NotificationsEnabled: emp.NotificationsEnabled,
		Warnings:             warnings,
	}, nil
}
