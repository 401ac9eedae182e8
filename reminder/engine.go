/*
engine.go - One evaluation pass over all enabled recurring rules

PURPOSE:
  The orchestrator. Loads enabled rules, runs each through
  schedule -> quiet hours -> candidate expansion -> condition ->
  rate limit -> dispatch, and reports exactly what happened.

STATE MACHINE (per rule per pass):
  not-due                      terminal
  due -> quiet-suppressed      terminal, counted, no trigger stamp
  due -> evaluating-employees  per candidate:
           condition-not-met   skip, counted
           rate-limited        skip, counted, thread untouched
           dispatched          counted as sent
  then last_triggered_at stamped (live passes only)

ISOLATION:
  One bad rule (malformed time, unknown timezone) is recorded against
  its id and the pass continues. One failing employee is recorded
  against (rule id, employee id) and the rule's other candidates still
  run. Rate-limit skips are counters, not errors: they are expected.

DRY RUN:
  Mutates nothing: no thread rows, no events, no trigger stamps. The
  sent count still matches what a live pass would attempt, so the same
  read-only staleness and rate-limit reasoning runs against the stored
  threads.

SEE ALSO:
  - schedule.go / condition.go: the per-rule checks
  - sender.go: the live send path
  - api/scheduler.go: periodic invocation
*/
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// PASS REPORT
// =============================================================================

// PassError is one isolated failure inside a pass, keyed by rule and,
// when employee-level, by employee.
type PassError struct {
	RuleID     RuleID
	EmployeeID EmployeeID
	Message    string
}

// PassReport summarizes one evaluation pass.
type PassReport struct {
	At                 time.Time
	DryRun             bool
	EvaluatedRules     int
	DueRules           int
	QuietSuppressed    int
	RemindersSent      int
	SkippedByCondition int
	SkippedByRateLimit int
	Errors             []PassError
	Warnings           []string
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store  Store
	sender *Sender
	log    *logrus.Logger
}

func NewEngine(store Store, sender *Sender, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{store: store, sender: sender, log: log}
}

// Evaluate runs one pass at the current instant.
func (e *Engine) Evaluate(ctx context.Context, dryRun bool) (*PassReport, error) {
	return e.EvaluateAt(ctx, time.Now().UTC(), dryRun)
}

// EvaluateAt runs one pass as of nowUTC. Each invocation is a single
// sweep over all enabled rules; overlapping invocations stay safe
// through the per-day trigger stamp and the re-read rate limit, not
// through any lock held here.
func (e *Engine) EvaluateAt(ctx context.Context, nowUTC time.Time, dryRun bool) (*PassReport, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	report := &PassReport{At: nowUTC, DryRun: dryRun}
	for _, rule := range rules {
		e.evaluateRule(ctx, rule, settings, nowUTC, dryRun, report)
	}

	e.log.WithFields(logrus.Fields{
		"dry_run":   dryRun,
		"evaluated": report.EvaluatedRules,
		"due":       report.DueRules,
		"sent":      report.RemindersSent,
		"quiet":     report.QuietSuppressed,
		"errors":    len(report.Errors),
	}).Info("[RuleEngine] pass complete")
	return report, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule RecurringRule, settings Settings, now time.Time, dryRun bool, report *PassReport) {
	report.EvaluatedRules++

	due, err := RuleDueNow(rule, settings, now)
	if err != nil {
		e.recordRuleError(report, rule.ID, "", err)
		return
	}
	if !due {
		return
	}
	report.DueRules++

	quiet, err := RuleInQuietHours(rule, now)
	if err != nil {
		e.recordRuleError(report, rule.ID, "", err)
		return
	}
	if quiet {
		// Suppressed, not fired: no trigger stamp, so the rule may still
		// fire later today if its window outlasts the quiet hours.
		report.QuietSuppressed++
		return
	}

	candidates, err := e.expandRule(ctx, rule)
	if err != nil {
		e.recordRuleError(report, rule.ID, "", err)
		return
	}

	loc := ruleThreadLocation(rule)
	for _, emp := range candidates {
		e.evaluateCandidate(ctx, rule, emp, loc, settings, now, dryRun, report)
	}

	if !dryRun {
		if err := e.store.StampRuleTriggered(ctx, rule.ID, now); err != nil {
			e.recordRuleError(report, rule.ID, "", fmt.Errorf("stamp trigger: %w", err))
		}
	}
}

func (e *Engine) evaluateCandidate(ctx context.Context, rule RecurringRule, emp Employee, loc *LocationID, settings Settings, now time.Time, dryRun bool, report *PassReport) {
	latest, err := e.store.GetLatestOrder(ctx, emp.ID)
	if err != nil {
		e.recordRuleError(report, rule.ID, emp.ID, fmt.Errorf("latest order: %w", err))
		return
	}
	var lastOrderAt *time.Time
	if latest != nil {
		lastOrderAt = &latest.CreatedAt
	}

	qualifies, err := EmployeeQualifies(rule, lastOrderAt, now)
	if err != nil {
		e.recordRuleError(report, rule.ID, emp.ID, err)
		return
	}
	if !qualifies {
		report.SkippedByCondition++
		return
	}

	if dryRun {
		allowed, err := e.wouldPassRateLimit(ctx, emp.ID, loc, latest, settings, now)
		if err != nil {
			e.recordRuleError(report, rule.ID, emp.ID, err)
			return
		}
		if !allowed {
			report.SkippedByRateLimit++
			return
		}
		report.RemindersSent++
		return
	}

	receipt, err := e.sender.Send(ctx, SendRequest{
		EmployeeID: emp.ID,
		LocationID: loc,
		Message:    rule.Message,
		Source:     SourceRecurring,
		Channels:   rule.Channels,
		Now:        now,
	})
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			report.SkippedByRateLimit++
			return
		}
		e.recordRuleError(report, rule.ID, emp.ID, err)
		return
	}
	report.RemindersSent++
	report.Warnings = append(report.Warnings, receipt.Warnings...)
}

// wouldPassRateLimit mirrors the live path's staleness plus rate-limit
// reasoning without writing anything. Active threads the live path would
// have resolved (older than the latest order) are disregarded.
func (e *Engine) wouldPassRateLimit(ctx context.Context, employeeID EmployeeID, loc *LocationID, latest *Order, settings Settings, now time.Time) (bool, error) {
	active, err := e.store.GetActiveThreads(ctx, employeeID, loc)
	if err != nil {
		return false, fmt.Errorf("read active thread: %w", err)
	}
	for _, t := range active {
		if latest != nil && t.CreatedAt.Before(latest.CreatedAt) {
			continue // live pass would resolve this one
		}
		d := CheckRateLimit(&t.LastRemindedAt, settings.RateLimitMinutes, false, now)
		return d.Allowed, nil
	}
	return true, nil
}

// expandRule resolves a rule to its candidate employees. Employee scope
// targets the referenced profile whatever its role; location scope
// targets every non-suspended employee whose default location matches.
// Suspended profiles never receive recurring reminders.
func (e *Engine) expandRule(ctx context.Context, rule RecurringRule) ([]Employee, error) {
	switch rule.Scope {
	case ScopeEmployee:
		emp, err := e.store.GetEmployee(ctx, EmployeeID(rule.TargetID))
		if err != nil {
			return nil, fmt.Errorf("expand rule: %w", err)
		}
		if emp == nil || emp.Suspended {
			return nil, nil
		}
		return []Employee{*emp}, nil

	case ScopeLocation:
		locID := LocationID(rule.TargetID)
		emps, err := e.store.ListEmployees(ctx, EmployeeFilter{LocationID: &locID})
		if err != nil {
			return nil, fmt.Errorf("expand rule: %w", err)
		}
		return emps, nil

	default:
		return nil, &RuleValidationError{RuleID: rule.ID, Field: "scope", Reason: fmt.Sprintf("unknown scope %q", rule.Scope)}
	}
}

// ruleThreadLocation picks the thread's location key: the rule's own
// location for location scope, "any location" (nil) for employee scope.
func ruleThreadLocation(rule RecurringRule) *LocationID {
	if rule.Scope == ScopeLocation {
		loc := LocationID(rule.TargetID)
		return &loc
	}
	return nil
}

func (e *Engine) recordRuleError(report *PassReport, ruleID RuleID, employeeID EmployeeID, err error) {
	report.Errors = append(report.Errors, PassError{RuleID: ruleID, EmployeeID: employeeID, Message: err.Error()})
	e.log.WithError(err).WithFields(logrus.Fields{
		"rule_id":     ruleID,
		"employee_id": employeeID,
	}).Error("[RuleEngine] rule evaluation error")
}
