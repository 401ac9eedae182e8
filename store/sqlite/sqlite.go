/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the full reminder.Store surface using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  profiles:         Employee profiles (read-mostly; owned by identity)
  orders:           Append-only order facts
  reminder_threads: Active/resolved reminder state per (employee, location)
  reminder_events:  Immutable dispatch audit trail
  recurring_rules:  Standing schedule definitions
  reminder_settings: Singleton org configuration (row id 1)
  notifications:    In-app channel delivery records
  push_tokens:      Device token registry

INVARIANT ENFORCEMENT:
  idx_threads_single_active is a partial unique index on
  (employee_id, COALESCE(location_id, '')) WHERE status = 'active'.
  Two racing first-reminder inserts cannot both land; the loser gets
  reminder.ErrConcurrentModification and retries into the bump path.

CONDITIONAL MUTATIONS:
  BumpThread guards its UPDATE on the reminder_count the caller just
  read; zero rows affected means a concurrent writer won.
  ResolveStaleThreads is a single UPDATE flipping every active thread
  older than the given order - the one multi-row mutation in the system.

TIME STORAGE:
  All instants are stored as RFC3339 UTC strings. Lexicographic order
  equals chronological order, so created_at < ? comparisons in SQL are
  exact.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/reminders.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - reminder/store.go: Interface definitions
  - reminder/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/reminder-engine/reminder"
)

// Store implements reminder.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employee profiles (owned by the identity system; the engine reads)
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL DEFAULT 'employee',
		default_location TEXT,
		suspended BOOLEAN NOT NULL DEFAULT FALSE,
		notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_order_at TEXT,
		last_active_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_location
		ON profiles(default_location);

	-- Orders (append-only facts; draft rows are invisible to the engine)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Hot path: latest non-draft order per employee
	CREATE INDEX IF NOT EXISTS idx_orders_employee_created
		ON orders(employee_id, created_at DESC)
		WHERE status != 'draft';

	-- Reminder threads
	CREATE TABLE IF NOT EXISTS reminder_threads (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		manager_id TEXT,
		location_id TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		last_reminded_at TEXT NOT NULL,
		reminder_count INTEGER NOT NULL DEFAULT 1,
		resolved_at TEXT,
		resolved_by_order TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_threads_employee_status
		ON reminder_threads(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_threads_active_location
		ON reminder_threads(status, location_id);

	-- CRITICAL: at most one active thread per (employee, location) pair.
	-- NULL location participates via COALESCE so "any location" threads
	-- are unique too.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_single_active
		ON reminder_threads(employee_id, COALESCE(location_id, ''))
		WHERE status = 'active';

	-- Reminder events (append-only audit trail)
	CREATE TABLE IF NOT EXISTS reminder_events (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		channels_json TEXT NOT NULL,
		result_json TEXT NOT NULL,
		sent_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_thread
		ON reminder_events(thread_id, sent_at);

	-- Recurring rules
	CREATE TABLE IF NOT EXISTS recurring_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		scope TEXT NOT NULL,
		target_id TEXT NOT NULL,
		days_json TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		timezone TEXT NOT NULL,
		condition_type TEXT NOT NULL,
		threshold_days INTEGER NOT NULL DEFAULT 0,
		quiet_start TEXT,
		quiet_end TEXT,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		channels_json TEXT,
		message TEXT,
		created_by TEXT,
		last_triggered_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_enabled
		ON recurring_rules(enabled);

	-- Singleton settings row
	CREATE TABLE IF NOT EXISTS reminder_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		overdue_threshold_days INTEGER NOT NULL,
		rate_limit_minutes INTEGER NOT NULL,
		recurring_window_minutes INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- In-app notifications
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		thread_id TEXT,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_employee
		ON notifications(employee_id, created_at DESC);

	-- Push tokens
	CREATE TABLE IF NOT EXISTS push_tokens (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		token TEXT NOT NULL,
		platform TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		UNIQUE(employee_id, token)
	);

	CREATE INDEX IF NOT EXISTS idx_push_tokens_employee_active
		ON push_tokens(employee_id, active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DIRECTORY (reminder.Directory interface)
// =============================================================================

// SaveEmployee upserts a profile row.
func (s *Store) SaveEmployee(ctx context.Context, e reminder.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO profiles
		(id, name, email, role, default_location, suspended, notifications_enabled,
		 last_order_at, last_active_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			default_location = excluded.default_location,
			suspended = excluded.suspended,
			notifications_enabled = excluded.notifications_enabled,
			last_order_at = excluded.last_order_at,
			last_active_at = excluded.last_active_at
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Name, e.Email, e.Role,
		nullLocation(e.DefaultLocation),
		e.Suspended, e.NotificationsEnabled,
		nullTime(e.LastOrderAt), nullTime(e.LastActiveAt),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetEmployee retrieves a profile by ID. Returns nil, nil when absent.
func (s *Store) GetEmployee(ctx context.Context, id reminder.EmployeeID) (*reminder.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, default_location, suspended, notifications_enabled,
		       last_order_at, last_active_at
		FROM profiles WHERE id = ?`, id)

	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListEmployees returns profiles matching the filter, ordered by name.
func (s *Store) ListEmployees(ctx context.Context, filter reminder.EmployeeFilter) ([]reminder.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, email, role, default_location, suspended, notifications_enabled,
		       last_order_at, last_active_at
		FROM profiles WHERE 1=1`
	var args []any

	if !filter.IncludeSuspended {
		query += " AND suspended = FALSE"
	}
	if !filter.IncludeManagers {
		query += " AND role != ?"
		args = append(args, reminder.RoleManager)
	}
	if filter.LocationID != nil {
		query += " AND default_location = ?"
		args = append(args, *filter.LocationID)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var employees []reminder.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *e)
	}
	return employees, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*reminder.Employee, error) {
	var (
		e               reminder.Employee
		email           sql.NullString
		defaultLocation sql.NullString
		lastOrderAt     sql.NullString
		lastActiveAt    sql.NullString
	)
	err := row.Scan(&e.ID, &e.Name, &email, &e.Role, &defaultLocation,
		&e.Suspended, &e.NotificationsEnabled, &lastOrderAt, &lastActiveAt)
	if err != nil {
		return nil, err
	}
	e.Email = email.String
	if defaultLocation.Valid {
		loc := reminder.LocationID(defaultLocation.String)
		e.DefaultLocation = &loc
	}
	e.LastOrderAt = parseTimePtr(lastOrderAt)
	e.LastActiveAt = parseTimePtr(lastActiveAt)
	return &e, nil
}

// =============================================================================
// ORDERS (reminder.OrderStore interface)
// =============================================================================

// SaveOrder appends an order row and, for non-draft orders, advances the
// profile's denormalized last_order_at. Orders are immutable: no upsert.
func (s *Store) SaveOrder(ctx context.Context, o reminder.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := o.CreatedAt.UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, employee_id, location_id, status, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.EmployeeID, o.LocationID, o.Status, o.Total.String(), createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if o.Status != reminder.OrderDraft {
		_, err = tx.ExecContext(ctx, `
			UPDATE profiles SET last_order_at = ?
			WHERE id = ? AND (last_order_at IS NULL OR last_order_at < ?)`,
			createdAt, o.EmployeeID, createdAt)
		if err != nil {
			return fmt.Errorf("failed to stamp last_order_at: %w", err)
		}
	}

	return tx.Commit()
}

// GetLatestOrder returns the most recent non-draft order for an employee.
func (s *Store) GetLatestOrder(ctx context.Context, employeeID reminder.EmployeeID) (*reminder.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, location_id, status, total, created_at
		FROM orders
		WHERE employee_id = ? AND status != 'draft'
		ORDER BY created_at DESC
		LIMIT 1`, employeeID)

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetLatestOrders batches the latest non-draft order per employee.
func (s *Store) GetLatestOrders(ctx context.Context, employeeIDs []reminder.EmployeeID) (map[reminder.EmployeeID]reminder.Order, error) {
	result := make(map[reminder.EmployeeID]reminder.Order)
	if len(employeeIDs) == 0 {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.Repeat("?,", len(employeeIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(employeeIDs))
	for i, id := range employeeIDs {
		args[i] = id
	}

	query := `
		SELECT o.id, o.employee_id, o.location_id, o.status, o.total, o.created_at
		FROM orders o
		WHERE o.status != 'draft'
		  AND o.employee_id IN (` + placeholders + `)
		  AND o.created_at = (
			SELECT MAX(o2.created_at) FROM orders o2
			WHERE o2.employee_id = o.employee_id AND o2.status != 'draft'
		  )`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result[o.EmployeeID] = *o
	}
	return result, rows.Err()
}

func scanOrder(row rowScanner) (*reminder.Order, error) {
	var (
		o         reminder.Order
		total     string
		createdAt string
	)
	if err := row.Scan(&o.ID, &o.EmployeeID, &o.LocationID, &o.Status, &total, &createdAt); err != nil {
		return nil, err
	}
	o.Total = parseDecimal(total)
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &o, nil
}

// =============================================================================
// THREADS (reminder.ThreadStore interface)
// =============================================================================

// SaveThread inserts a new thread row. An insert colliding with the
// single-active index means another trigger created the thread first;
// callers retry into the bump path.
func (s *Store) SaveThread(ctx context.Context, t reminder.ReminderThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_threads
		(id, employee_id, manager_id, location_id, status, created_at,
		 last_reminded_at, reminder_count, resolved_at, resolved_by_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EmployeeID, nullEmployee(t.ManagerID), nullLocation(t.LocationID),
		t.Status,
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.LastRemindedAt.UTC().Format(time.RFC3339),
		t.ReminderCount,
		nullTime(t.ResolvedAt),
		nullOrder(t.ResolvedByOrder),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("active thread exists for %s: %w", t.EmployeeID, reminder.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to insert thread: %w", err)
	}
	return nil
}

// GetThread retrieves a thread by ID. Returns nil, nil when absent.
func (s *Store) GetThread(ctx context.Context, id reminder.ThreadID) (*reminder.ReminderThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, manager_id, location_id, status, created_at,
		       last_reminded_at, reminder_count, resolved_at, resolved_by_order
		FROM reminder_threads WHERE id = ?`, id)

	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetActiveThreads returns active threads for the exact (employee,
// location-or-NULL) pair, newest first.
func (s *Store) GetActiveThreads(ctx context.Context, employeeID reminder.EmployeeID, locationID *reminder.LocationID) ([]reminder.ReminderThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, manager_id, location_id, status, created_at,
		       last_reminded_at, reminder_count, resolved_at, resolved_by_order
		FROM reminder_threads
		WHERE employee_id = ? AND status = 'active'`
	args := []any{employeeID}

	if locationID == nil {
		query += " AND location_id IS NULL"
	} else {
		query += " AND location_id = ?"
		args = append(args, *locationID)
	}
	query += " ORDER BY created_at DESC"

	return s.queryThreads(ctx, query, args...)
}

// ListActiveThreads returns all active threads, optionally scoped to a
// location. NULL-location threads belong to every location.
func (s *Store) ListActiveThreads(ctx context.Context, locationID *reminder.LocationID) ([]reminder.ReminderThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, manager_id, location_id, status, created_at,
		       last_reminded_at, reminder_count, resolved_at, resolved_by_order
		FROM reminder_threads
		WHERE status = 'active'`
	var args []any

	if locationID != nil {
		query += " AND (location_id = ? OR location_id IS NULL)"
		args = append(args, *locationID)
	}
	query += " ORDER BY created_at DESC"

	return s.queryThreads(ctx, query, args...)
}

// BumpThread applies the re-reminder mutation, guarded on the count the
// caller just read. Returns false on a guard miss.
func (s *Store) BumpThread(ctx context.Context, id reminder.ThreadID, expectCount int, managerID *reminder.EmployeeID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reminder_threads
		SET reminder_count = reminder_count + 1,
		    last_reminded_at = ?,
		    manager_id = ?
		WHERE id = ? AND status = 'active' AND reminder_count = ?`,
		now.UTC().Format(time.RFC3339), nullEmployee(managerID), id, expectCount)
	if err != nil {
		return false, fmt.Errorf("failed to bump thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ResolveStaleThreads flips every active thread of the employee created
// strictly before the order, in one statement.
func (s *Store) ResolveStaleThreads(ctx context.Context, employeeID reminder.EmployeeID, orderID reminder.OrderID, orderCreatedAt, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reminder_threads
		SET status = 'resolved',
		    resolved_at = ?,
		    resolved_by_order = ?
		WHERE employee_id = ? AND status = 'active' AND created_at < ?`,
		now.UTC().Format(time.RFC3339), orderID, employeeID,
		orderCreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve stale threads: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) queryThreads(ctx context.Context, query string, args ...any) ([]reminder.ReminderThread, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var threads []reminder.ReminderThread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

func scanThread(row rowScanner) (*reminder.ReminderThread, error) {
	var (
		t               reminder.ReminderThread
		managerID       sql.NullString
		locationID      sql.NullString
		createdAt       string
		lastRemindedAt  string
		resolvedAt      sql.NullString
		resolvedByOrder sql.NullString
	)
	err := row.Scan(&t.ID, &t.EmployeeID, &managerID, &locationID, &t.Status,
		&createdAt, &lastRemindedAt, &t.ReminderCount, &resolvedAt, &resolvedByOrder)
	if err != nil {
		return nil, err
	}

	if managerID.Valid {
		id := reminder.EmployeeID(managerID.String)
		t.ManagerID = &id
	}
	if locationID.Valid {
		loc := reminder.LocationID(locationID.String)
		t.LocationID = &loc
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.LastRemindedAt, _ = time.Parse(time.RFC3339, lastRemindedAt)
	t.ResolvedAt = parseTimePtr(resolvedAt)
	if resolvedByOrder.Valid {
		oid := reminder.OrderID(resolvedByOrder.String)
		t.ResolvedByOrder = &oid
	}
	return &t, nil
}

// =============================================================================
// EVENTS (reminder.EventStore interface)
// =============================================================================

// AppendEvent writes one audit row. Append-only: no update, no delete.
func (s *Store) AppendEvent(ctx context.Context, e reminder.ReminderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channelsJSON, _ := json.Marshal(e.Channels)
	resultJSON, _ := json.Marshal(e.Result)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_events
		(id, thread_id, employee_id, event_type, source, channels_json, result_json, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ThreadID, e.EmployeeID, e.Type, e.Source,
		string(channelsJSON), string(resultJSON),
		e.SentAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEventsByThread returns a thread's events, oldest first.
func (s *Store) ListEventsByThread(ctx context.Context, threadID reminder.ThreadID) ([]reminder.ReminderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, employee_id, event_type, source, channels_json, result_json, sent_at
		FROM reminder_events
		WHERE thread_id = ?
		ORDER BY sent_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []reminder.ReminderEvent
	for rows.Next() {
		var (
			e            reminder.ReminderEvent
			channelsJSON string
			resultJSON   string
			sentAt       string
		)
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.EmployeeID, &e.Type, &e.Source,
			&channelsJSON, &resultJSON, &sentAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(channelsJSON), &e.Channels)
		json.Unmarshal([]byte(resultJSON), &e.Result)
		e.SentAt, _ = time.Parse(time.RFC3339, sentAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// RULES (reminder.RuleStore interface)
// =============================================================================

// SaveRule upserts a rule. last_triggered_at is deliberately untouched
// on update: editing a rule must not let it re-fire the same day. Only
// StampRuleTriggered writes that column.
func (s *Store) SaveRule(ctx context.Context, r reminder.RecurringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	daysJSON, _ := json.Marshal(r.Days)
	channelsJSON, _ := json.Marshal(r.Channels)
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO recurring_rules
		(id, name, scope, target_id, days_json, time_of_day, timezone,
		 condition_type, threshold_days, quiet_start, quiet_end, enabled,
		 channels_json, message, created_by, last_triggered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scope = excluded.scope,
			target_id = excluded.target_id,
			days_json = excluded.days_json,
			time_of_day = excluded.time_of_day,
			timezone = excluded.timezone,
			condition_type = excluded.condition_type,
			threshold_days = excluded.threshold_days,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			enabled = excluded.enabled,
			channels_json = excluded.channels_json,
			message = excluded.message,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, r.Scope, r.TargetID, string(daysJSON), r.TimeOfDay, r.Timezone,
		r.Condition, r.ThresholdDays,
		nullString(r.QuietStart), nullString(r.QuietEnd),
		r.Enabled, string(channelsJSON), r.Message, r.CreatedBy,
		nullTime(r.LastTriggeredAt), now, now)
	return err
}

// GetRule retrieves a rule by ID. Returns nil, nil when absent.
func (s *Store) GetRule(ctx context.Context, id reminder.RuleID) (*reminder.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, ruleSelect+" WHERE id = ?", id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

const ruleSelect = `
	SELECT id, name, scope, target_id, days_json, time_of_day, timezone,
	       condition_type, threshold_days, quiet_start, quiet_end, enabled,
	       channels_json, message, created_by, last_triggered_at, created_at, updated_at
	FROM recurring_rules`

// ListRules returns rules ordered by name.
func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]reminder.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := ruleSelect
	if enabledOnly {
		query += " WHERE enabled = TRUE"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []reminder.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule. Missing rules report ErrRuleNotFound.
func (s *Store) DeleteRule(ctx context.Context, id reminder.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM recurring_rules WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reminder.ErrRuleNotFound
	}
	return nil
}

// StampRuleTriggered records the firing instant for the daily dedup guard.
func (s *Store) StampRuleTriggered(ctx context.Context, id reminder.RuleID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := at.UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE recurring_rules SET last_triggered_at = ?, updated_at = ? WHERE id = ?`,
		stamp, stamp, id)
	if err != nil {
		return fmt.Errorf("failed to stamp rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reminder.ErrRuleNotFound
	}
	return nil
}

func scanRule(row rowScanner) (*reminder.RecurringRule, error) {
	var (
		r               reminder.RecurringRule
		daysJSON        string
		quietStart      sql.NullString
		quietEnd        sql.NullString
		channelsJSON    sql.NullString
		message         sql.NullString
		createdBy       sql.NullString
		lastTriggeredAt sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Scope, &r.TargetID, &daysJSON, &r.TimeOfDay,
		&r.Timezone, &r.Condition, &r.ThresholdDays, &quietStart, &quietEnd,
		&r.Enabled, &channelsJSON, &message, &createdBy, &lastTriggeredAt,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(daysJSON), &r.Days)
	if channelsJSON.Valid && channelsJSON.String != "" {
		json.Unmarshal([]byte(channelsJSON.String), &r.Channels)
	}
	r.QuietStart = quietStart.String
	r.QuietEnd = quietEnd.String
	r.Message = message.String
	r.CreatedBy = reminder.EmployeeID(createdBy.String)
	r.LastTriggeredAt = parseTimePtr(lastTriggeredAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// =============================================================================
// SETTINGS (reminder.SettingsStore interface)
// =============================================================================

// GetSettings returns the singleton row, or defaults when unset.
func (s *Store) GetSettings(ctx context.Context) (reminder.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out reminder.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT overdue_threshold_days, rate_limit_minutes, recurring_window_minutes
		FROM reminder_settings WHERE id = 1`).
		Scan(&out.OverdueThresholdDays, &out.RateLimitMinutes, &out.RecurringWindowMinutes)
	if err == sql.ErrNoRows {
		return reminder.DefaultSettings(), nil
	}
	if err != nil {
		return reminder.Settings{}, err
	}
	return out, nil
}

// SaveSettings upserts the singleton row.
func (s *Store) SaveSettings(ctx context.Context, settings reminder.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_settings
		(id, overdue_threshold_days, rate_limit_minutes, recurring_window_minutes, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			overdue_threshold_days = excluded.overdue_threshold_days,
			rate_limit_minutes = excluded.rate_limit_minutes,
			recurring_window_minutes = excluded.recurring_window_minutes,
			updated_at = excluded.updated_at`,
		settings.OverdueThresholdDays, settings.RateLimitMinutes,
		settings.RecurringWindowMinutes, time.Now().UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// NOTIFICATIONS (reminder.NotificationStore interface)
// =============================================================================

func (s *Store) SaveNotification(ctx context.Context, n reminder.InAppNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, employee_id, title, body, thread_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.EmployeeID, n.Title, n.Body, nullString(string(n.ThreadID)),
		n.Read, n.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, employeeID reminder.EmployeeID, unreadOnly bool) ([]reminder.InAppNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, title, body, thread_id, read, created_at
		FROM notifications
		WHERE employee_id = ?`
	if unreadOnly {
		query += " AND read = FALSE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []reminder.InAppNotification
	for rows.Next() {
		var (
			n         reminder.InAppNotification
			threadID  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.EmployeeID, &n.Title, &n.Body, &threadID, &n.Read, &createdAt); err != nil {
			return nil, err
		}
		n.ThreadID = reminder.ThreadID(threadID.String)
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id reminder.NotificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "UPDATE notifications SET read = TRUE WHERE id = ?", id)
	return err
}

// =============================================================================
// PUSH TOKENS (reminder.TokenStore interface)
// =============================================================================

func (s *Store) GetActivePushTokens(ctx context.Context, employeeID reminder.EmployeeID) ([]reminder.PushToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, token, platform, active, created_at
		FROM push_tokens
		WHERE employee_id = ? AND active = TRUE
		ORDER BY created_at`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []reminder.PushToken
	for rows.Next() {
		var (
			t         reminder.PushToken
			platform  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.EmployeeID, &t.Token, &platform, &t.Active, &createdAt); err != nil {
			return nil, err
		}
		t.Platform = platform.String
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// SavePushToken upserts on (employee_id, token) so re-registering a
// device reactivates it instead of duplicating it.
func (s *Store) SavePushToken(ctx context.Context, t reminder.PushToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_tokens (id, employee_id, token, platform, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, token) DO UPDATE SET
			platform = excluded.platform,
			active = excluded.active`,
		t.ID, t.EmployeeID, t.Token, nullString(t.Platform), t.Active,
		t.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"reminder_events", "reminder_threads", "recurring_rules",
		"notifications", "push_tokens", "orders", "profiles", "reminder_settings",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullLocation(id *reminder.LocationID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullEmployee(id *reminder.EmployeeID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullOrder(id *reminder.OrderID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
