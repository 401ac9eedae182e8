/*
Package reminder provides the employee reminder engine.

PURPOSE:
  This package contains the domain types and algorithms for nudging
  restaurant employees who have not placed their shift-meal order:
  recurring rule evaluation, reminder thread lifecycle, rate limiting,
  and multi-channel dispatch with per-channel outcome tracking.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee/Order: read-only facts owned by the profile and order stores
  - ReminderThread: the open need-to-remind state for (employee, location)
  - ReminderEvent: an immutable audit record of one dispatch attempt
  - RecurringRule: a standing schedule (days, time, timezone, condition)
  - DeliveryResult: structured per-channel outcome of a dispatch

DESIGN PRINCIPLES:
  1. Immutability: events and orders are never modified after creation
  2. Type Safety: strong typing for IDs prevents mixing employee/thread ids
  3. Explicit rows: store results convert to these types at the boundary,
     loosely-typed rows never travel into business logic
  4. Auditability: every dispatch attempt writes exactly one event row

USAGE:
  thread, created, err := threads.Trigger(ctx, reminder.TriggerInput{
      EmployeeID: "emp-123",
      ManagerID:  "mgr-007",
      Now:        time.Now().UTC(),
  })

SEE ALSO:
  - schedule.go: rule due-window and quiet-hours evaluation
  - condition.go: order-activity qualification
  - threads.go: thread lifecycle (trigger upsert, stale resolution)
  - dispatch.go: channel fanout and event recording
  - engine.go: one evaluation pass over all enabled rules
*/
package reminder

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LocationID string
type OrderID string
type ThreadID string
type EventID string
type RuleID string
type NotificationID string
type TokenID string

// =============================================================================
// EMPLOYEE - Read-only profile row (owned by the identity store)
// =============================================================================

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
)

type Employee struct {
	ID                   EmployeeID
	Name                 string
	Email                string
	Role                 Role
	DefaultLocation      *LocationID
	Suspended            bool
	NotificationsEnabled bool
	LastOrderAt          *time.Time
	LastActiveAt         *time.Time
}

// =============================================================================
// ORDER - Append-only fact; draft orders are invisible to the engine
// =============================================================================

type OrderStatus string

const (
	OrderDraft     OrderStatus = "draft"
	OrderPlaced    OrderStatus = "placed"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID         OrderID
	EmployeeID EmployeeID
	LocationID LocationID
	Status     OrderStatus
	Total      decimal.Decimal
	CreatedAt  time.Time
}

// =============================================================================
// REMINDER THREAD - Open need-to-remind state per (employee, location)
// =============================================================================

type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadResolved ThreadStatus = "resolved"
)

// ReminderThread holds the mutable reminder state for one (employee,
// location) pair. LocationID nil means "any location".
// Invariant: at most one active thread per (employee, location) pair.
type ReminderThread struct {
	ID              ThreadID
	EmployeeID      EmployeeID
	ManagerID       *EmployeeID // who most recently triggered it
	LocationID      *LocationID // nil = any location
	Status          ThreadStatus
	CreatedAt       time.Time
	LastRemindedAt  time.Time
	ReminderCount   int // >= 1
	ResolvedAt      *time.Time
	ResolvedByOrder *OrderID
}

// =============================================================================
// REMINDER EVENT - Immutable audit record of one dispatch attempt
// =============================================================================

type EventType string

const (
	EventSent          EventType = "sent"
	EventRemindedAgain EventType = "reminded_again"
)

type Source string

const (
	SourceManual    Source = "manual"
	SourceRecurring Source = "recurring"
)

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
)

// DefaultChannels is the fanout used when a rule or send request does not
// name its channels explicitly.
func DefaultChannels() []Channel { return []Channel{ChannelInApp, ChannelPush} }

func HasChannel(channels []Channel, c Channel) bool {
	for _, ch := range channels {
		if ch == c {
			return true
		}
	}
	return false
}

type PushStatus string

const (
	PushSent     PushStatus = "sent"
	PushPartial  PushStatus = "partial"
	PushFailed   PushStatus = "failed"
	PushNoTokens PushStatus = "no_tokens"
	// PushDisabled marks a fanout skipped because the employee profile has
	// notifications turned off, a hard override independent of rule config.
	PushDisabled PushStatus = "not_delivered_push_disabled"
)

// PushOutcome aggregates per-token gateway results for one dispatch.
type PushOutcome struct {
	Status    PushStatus `json:"status"`
	Requested int        `json:"requested"`
	Delivered int        `json:"delivered"`
	Failed    int        `json:"failed"`
}

// DeliveryResult is the structured outcome stored on the event row.
// Push is nil when the push channel was not part of the attempt.
type DeliveryResult struct {
	NotificationsEnabled bool           `json:"notifications_enabled"`
	InAppID              NotificationID `json:"in_app_id,omitempty"`
	Push                 *PushOutcome   `json:"push,omitempty"`
	Error                string         `json:"error,omitempty"`
}

type ReminderEvent struct {
	ID         EventID
	ThreadID   ThreadID
	EmployeeID EmployeeID
	Type       EventType
	Source     Source
	Channels   []Channel
	Result     DeliveryResult
	SentAt     time.Time
}

// =============================================================================
// RECURRING RULE - Standing schedule definition
// =============================================================================

type RuleScope string

const (
	ScopeEmployee RuleScope = "employee"
	ScopeLocation RuleScope = "location"
)

type ConditionType string

const (
	CondNoOrderToday      ConditionType = "no_order_today"
	CondDaysSinceOrderGte ConditionType = "days_since_last_order_gte"
)

// RecurringRule fires at most once per local calendar day in its timezone.
// TimeOfDay/QuietStart/QuietEnd are raw "HH:MM" strings; they are parsed
// strictly at evaluation time so a malformed value makes the rule
// non-evaluable (reported per rule) instead of poisoning a whole pass.
type RecurringRule struct {
	ID              RuleID
	Name            string
	Scope           RuleScope
	TargetID        string // EmployeeID or LocationID depending on Scope
	Days            []time.Weekday
	TimeOfDay       string
	Timezone        string // IANA name, e.g. "America/New_York"
	Condition       ConditionType
	ThresholdDays   int    // used by days_since_last_order_gte
	QuietStart      string // "" = no quiet hours
	QuietEnd        string
	Enabled         bool
	Channels        []Channel
	Message         string
	CreatedBy       EmployeeID
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// SUPPORTING ROWS - Push tokens and in-app notifications
// =============================================================================

// PushToken is a registered device token. The engine only reads active ones.
type PushToken struct {
	ID         TokenID
	EmployeeID EmployeeID
	Token      string
	Platform   string // "ios" | "android"
	Active     bool
	CreatedAt  time.Time
}

// InAppNotification is the in-app channel's delivery record, readable by
// the addressed employee.
type InAppNotification struct {
	ID         NotificationID
	EmployeeID EmployeeID
	Title      string
	Body       string
	ThreadID   ThreadID
	Read       bool
	CreatedAt  time.Time
}
