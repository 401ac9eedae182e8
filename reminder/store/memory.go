// Package store provides reminder.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements reminder.Store with maps behind one RWMutex.
// Unlike the SQLite store it does NOT enforce the single-active-thread
// constraint on insert: tests seed the forbidden duplicate state through
// SaveThread to exercise the integrity-warning paths.
type Memory struct {
	mu            sync.RWMutex
	employees     map[reminder.EmployeeID]reminder.Employee
	orders        []reminder.Order
	threads       map[reminder.ThreadID]reminder.ReminderThread
	events        []reminder.ReminderEvent
	rules         map[reminder.RuleID]reminder.RecurringRule
	settings      *reminder.Settings
	notifications []reminder.InAppNotification
	tokens        []reminder.PushToken
}

func NewMemory() *Memory {
	m := &Memory{}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.employees = make(map[reminder.EmployeeID]reminder.Employee)
	m.orders = nil
	m.threads = make(map[reminder.ThreadID]reminder.ReminderThread)
	m.events = nil
	m.rules = make(map[reminder.RuleID]reminder.RecurringRule)
	m.settings = nil
	m.notifications = nil
	m.tokens = nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) GetEmployee(_ context.Context, id reminder.EmployeeID) (*reminder.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context, filter reminder.EmployeeFilter) ([]reminder.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.Employee
	for _, e := range m.employees {
		if e.Suspended && !filter.IncludeSuspended {
			continue
		}
		if e.Role == reminder.RoleManager && !filter.IncludeManagers {
			continue
		}
		if filter.LocationID != nil {
			if e.DefaultLocation == nil || *e.DefaultLocation != *filter.LocationID {
				continue
			}
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) SaveEmployee(_ context.Context, e reminder.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

// =============================================================================
// ORDERS
// =============================================================================

func (m *Memory) GetLatestOrder(_ context.Context, employeeID reminder.EmployeeID) (*reminder.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestOrderLocked(employeeID), nil
}

func (m *Memory) GetLatestOrders(_ context.Context, employeeIDs []reminder.EmployeeID) (map[reminder.EmployeeID]reminder.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[reminder.EmployeeID]reminder.Order)
	for _, id := range employeeIDs {
		if o := m.latestOrderLocked(id); o != nil {
			result[id] = *o
		}
	}
	return result, nil
}

func (m *Memory) latestOrderLocked(employeeID reminder.EmployeeID) *reminder.Order {
	var latest *reminder.Order
	for i := range m.orders {
		o := m.orders[i]
		if o.EmployeeID != employeeID || o.Status == reminder.OrderDraft {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = &o
		}
	}
	if latest == nil {
		return nil
	}
	cp := *latest
	return &cp
}

func (m *Memory) SaveOrder(_ context.Context, o reminder.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, o)
	return nil
}

// =============================================================================
// THREADS
// =============================================================================

func (m *Memory) GetThread(_ context.Context, id reminder.ThreadID) (*reminder.ReminderThread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) GetActiveThreads(_ context.Context, employeeID reminder.EmployeeID, locationID *reminder.LocationID) ([]reminder.ReminderThread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.ReminderThread
	for _, t := range m.threads {
		if t.Status != reminder.ThreadActive || t.EmployeeID != employeeID {
			continue
		}
		if !sameLocation(t.LocationID, locationID) {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func sameLocation(a, b *reminder.LocationID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *Memory) ListActiveThreads(_ context.Context, locationID *reminder.LocationID) ([]reminder.ReminderThread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.ReminderThread
	for _, t := range m.threads {
		if t.Status != reminder.ThreadActive {
			continue
		}
		// Nil-location threads belong to every location.
		if locationID != nil && t.LocationID != nil && *t.LocationID != *locationID {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) SaveThread(_ context.Context, t reminder.ReminderThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[t.ID] = t
	return nil
}

func (m *Memory) BumpThread(_ context.Context, id reminder.ThreadID, expectCount int, managerID *reminder.EmployeeID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[id]
	if !ok || t.Status != reminder.ThreadActive || t.ReminderCount != expectCount {
		return false, nil
	}
	t.ReminderCount++
	t.LastRemindedAt = now
	t.ManagerID = managerID
	m.threads[id] = t
	return true, nil
}

func (m *Memory) ResolveStaleThreads(_ context.Context, employeeID reminder.EmployeeID, orderID reminder.OrderID, orderCreatedAt, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resolved := 0
	for id, t := range m.threads {
		if t.EmployeeID != employeeID || t.Status != reminder.ThreadActive {
			continue
		}
		if !t.CreatedAt.Before(orderCreatedAt) {
			continue
		}
		t.Status = reminder.ThreadResolved
		at := now
		oid := orderID
		t.ResolvedAt = &at
		t.ResolvedByOrder = &oid
		m.threads[id] = t
		resolved++
	}
	return resolved, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, e reminder.ReminderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) ListEventsByThread(_ context.Context, threadID reminder.ThreadID) ([]reminder.ReminderEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.ReminderEvent
	for _, e := range m.events {
		if e.ThreadID == threadID {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) GetRule(_ context.Context, id reminder.RuleID) (*reminder.RecurringRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListRules(_ context.Context, enabledOnly bool) ([]reminder.RecurringRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.RecurringRule
	for _, r := range m.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// SaveRule upserts a rule. Replacement keeps the original creation time
// and trigger stamp so an edited rule cannot re-fire the same day.
func (m *Memory) SaveRule(_ context.Context, r reminder.RecurringRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rules[r.ID]; ok {
		r.CreatedAt = existing.CreatedAt
		r.LastTriggeredAt = existing.LastTriggeredAt
	}
	m.rules[r.ID] = r
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, id reminder.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return reminder.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) StampRuleTriggered(_ context.Context, id reminder.RuleID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return reminder.ErrRuleNotFound
	}
	stamp := at
	r.LastTriggeredAt = &stamp
	r.UpdatedAt = at
	m.rules[id] = r
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) GetSettings(_ context.Context) (reminder.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return reminder.DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *Memory) SaveSettings(_ context.Context, s reminder.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}

// =============================================================================
// NOTIFICATIONS AND TOKENS
// =============================================================================

func (m *Memory) SaveNotification(_ context.Context, n reminder.InAppNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, employeeID reminder.EmployeeID, unreadOnly bool) ([]reminder.InAppNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.InAppNotification
	for _, n := range m.notifications {
		if n.EmployeeID != employeeID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id reminder.NotificationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].Read = true
			return nil
		}
	}
	return nil
}

func (m *Memory) GetActivePushTokens(_ context.Context, employeeID reminder.EmployeeID) ([]reminder.PushToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.PushToken
	for _, t := range m.tokens {
		if t.EmployeeID == employeeID && t.Active {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *Memory) SavePushToken(_ context.Context, t reminder.PushToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, t)
	return nil
}
