/*
store.go - Persistence interfaces for the reminder engine

PURPOSE:
  Defines the boundary between reminder logic and the database. Rows are
  converted to the explicit types in types.go right here; nothing
  loosely-typed crosses inward.

KEY INTERFACES:
  Directory:         Employee profile reads (owned elsewhere, read-only)
  OrderStore:        Latest non-draft order lookups + order recording
  ThreadStore:       Reminder thread lifecycle writes
  EventStore:        Append-only dispatch audit trail
  RuleStore:         Recurring rule CRUD + trigger stamping
  NotificationStore: In-app channel delivery records
  TokenStore:        Active push token reads
  SettingsStore:     Singleton settings row

WRITE DISCIPLINE:
  - Events are append-only: no update, no delete, ever.
  - Thread bumps are conditional updates guarded on the reminder count
    the caller just read. A lost race affects zero rows and surfaces as
    ErrConcurrentModification, never a blind overwrite.
  - ResolveStale is one atomic statement flipping every active thread
    older than the given order, the only multi-row mutation.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - reminder/store/memory.go: in-memory for tests

SEE ALSO:
  - threads.go: drives ThreadStore
  - dispatch.go: drives EventStore, NotificationStore, TokenStore
*/
package reminder

import (
	"context"
	"time"
)

// =============================================================================
// READ SIDE - Profiles and orders (owned by other systems)
// =============================================================================

// EmployeeFilter narrows Directory.ListEmployees. The zero value lists
// non-suspended, non-manager employees across all locations.
type EmployeeFilter struct {
	LocationID       *LocationID
	IncludeManagers  bool
	IncludeSuspended bool
}

// Directory reads employee profiles. The reminder engine never writes
// them; SaveEmployee exists for scenario seeding and tests.
type Directory interface {
	// GetEmployee returns nil, nil when the employee does not exist.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)

	// ListEmployees returns profiles matching the filter.
	ListEmployees(ctx context.Context, filter EmployeeFilter) ([]Employee, error)

	SaveEmployee(ctx context.Context, e Employee) error
}

// OrderStore reads order facts. Only non-draft orders are ever returned.
type OrderStore interface {
	// GetLatestOrder returns the employee's most recent non-draft order,
	// or nil, nil when they have no order history.
	GetLatestOrder(ctx context.Context, employeeID EmployeeID) (*Order, error)

	// GetLatestOrders batches GetLatestOrder for the overview join.
	// Employees with no history are absent from the map.
	GetLatestOrders(ctx context.Context, employeeIDs []EmployeeID) (map[EmployeeID]Order, error)

	// SaveOrder appends an order row. Orders are immutable once created.
	SaveOrder(ctx context.Context, o Order) error
}

// =============================================================================
// THREADS - The only mutable shared state
// =============================================================================

// ThreadStore persists reminder threads.
type ThreadStore interface {
	// GetThread returns nil, nil when the thread does not exist.
	GetThread(ctx context.Context, id ThreadID) (*ReminderThread, error)

	// GetActiveThreads returns active threads for the exact (employee,
	// location-or-nil) pair, newest CreatedAt first. More than one row is
	// an invariant violation the caller must surface.
	GetActiveThreads(ctx context.Context, employeeID EmployeeID, locationID *LocationID) ([]ReminderThread, error)

	// ListActiveThreads returns every active thread, optionally filtered
	// by location, for the overview scan.
	ListActiveThreads(ctx context.Context, locationID *LocationID) ([]ReminderThread, error)

	// SaveThread inserts a new thread row (ReminderCount 1).
	SaveThread(ctx context.Context, t ReminderThread) error

	// BumpThread increments reminder_count and stamps last_reminded_at and
	// manager_id, guarded on the count the caller just read. Returns
	// false when the guard misses (a concurrent writer got there first).
	BumpThread(ctx context.Context, id ThreadID, expectCount int, managerID *EmployeeID, now time.Time) (bool, error)

	// ResolveStaleThreads atomically resolves every active thread of the
	// employee created strictly before orderCreatedAt, attributing the
	// resolution to orderID. Returns the number of threads resolved.
	ResolveStaleThreads(ctx context.Context, employeeID EmployeeID, orderID OrderID, orderCreatedAt, now time.Time) (int, error)
}

// =============================================================================
// AUDIT TRAIL - Append-only events
// =============================================================================

type EventStore interface {
	// AppendEvent persists one dispatch attempt. This is the ONLY write.
	AppendEvent(ctx context.Context, e ReminderEvent) error

	// ListEventsByThread returns a thread's events, oldest first.
	ListEventsByThread(ctx context.Context, threadID ThreadID) ([]ReminderEvent, error)
}

// =============================================================================
// RULES AND SETTINGS
// =============================================================================

type RuleStore interface {
	// GetRule returns nil, nil when the rule does not exist.
	GetRule(ctx context.Context, id RuleID) (*RecurringRule, error)

	// ListRules returns rules, optionally only enabled ones.
	ListRules(ctx context.Context, enabledOnly bool) ([]RecurringRule, error)

	SaveRule(ctx context.Context, r RecurringRule) error

	DeleteRule(ctx context.Context, id RuleID) error

	// StampRuleTriggered records that the rule fired, for the
	// once-per-local-day guard. Never called on dry runs.
	StampRuleTriggered(ctx context.Context, id RuleID, at time.Time) error
}

type SettingsStore interface {
	// GetSettings returns the singleton settings row, or DefaultSettings
	// when none has been written yet.
	GetSettings(ctx context.Context) (Settings, error)

	SaveSettings(ctx context.Context, s Settings) error
}

// =============================================================================
// DELIVERY SUPPORT - In-app rows and push tokens
// =============================================================================

type NotificationStore interface {
	// SaveNotification inserts the in-app delivery record.
	SaveNotification(ctx context.Context, n InAppNotification) error

	// ListNotifications returns an employee's feed, newest first.
	ListNotifications(ctx context.Context, employeeID EmployeeID, unreadOnly bool) ([]InAppNotification, error)

	MarkNotificationRead(ctx context.Context, id NotificationID) error
}

// TokenStore reads the push-token registry. The engine only consumes
// active tokens; registration is owned by the mobile clients.
type TokenStore interface {
	GetActivePushTokens(ctx context.Context, employeeID EmployeeID) ([]PushToken, error)

	SavePushToken(ctx context.Context, t PushToken) error
}

// =============================================================================
// UMBRELLA - What engine constructors accept
// =============================================================================

// Store is the full persistence surface. Reset clears all data
// (scenario loading and tests only).
type Store interface {
	Directory
	OrderStore
	ThreadStore
	EventStore
	RuleStore
	SettingsStore
	NotificationStore
	TokenStore

	Reset(ctx context.Context) error
}
