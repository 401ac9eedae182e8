/*
overview.go - Manager dashboard snapshot

PURPOSE:
  The read side. Joins employees, latest non-draft orders, and active
  reminder threads into one consistent response: per-employee status
  rows plus the three at-a-glance stats. Stats are computed from the
  same rows returned, never from a separate cached count.

INLINE RESOLUTION:
  While scanning active threads, any thread older than its employee's
  latest order is resolved on the spot. The overview is the secondary
  path keeping thread state eventually consistent when the send path's
  lazy resolution never ran. A failed resolve still excludes the thread
  from the pending count (it is stale by data) and surfaces a warning.

STATUS PRIORITY:
  reminder_active > overdue > ok. Overdue means no non-draft order
  within the threshold days, or no order history at all.

SEE ALSO:
  - threads.go: ResolveStale
  - api/handlers.go: the overview endpoint
*/
package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// OVERVIEW TYPES
// =============================================================================

type EmployeeStatus string

const (
	StatusReminderActive EmployeeStatus = "reminder_active"
	StatusOverdue        EmployeeStatus = "overdue"
	StatusOK             EmployeeStatus = "ok"
)

// OverviewRow is one employee's dashboard line.
type OverviewRow struct {
	Employee       Employee
	Status         EmployeeStatus
	LastOrderAt    *time.Time
	LastOrderTotal *decimal.Decimal
	DaysSinceOrder *int // nil when no order history
	ActiveThread   *ReminderThread
}

// OverviewStats are the dashboard's at-a-glance numbers, internally
// consistent with the rows in the same response.
type OverviewStats struct {
	PendingReminders           int
	OverdueCount               int
	NotificationsDisabledCount int
}

type Overview struct {
	Rows        []OverviewRow
	Stats       OverviewStats
	Warnings    []string
	GeneratedAt time.Time
}

// OverviewRequest narrows the snapshot. A nil threshold uses the org
// settings value.
type OverviewRequest struct {
	LocationID           *LocationID
	IncludeManagers      bool
	OverdueThresholdDays *int
	Now                  time.Time
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	store   Store
	threads *ThreadService
	log     *logrus.Logger
}

func NewAggregator(store Store, threads *ThreadService, log *logrus.Logger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{store: store, threads: threads, log: log}
}

// BuildOverview assembles the snapshot. Suspended employees are excluded:
// they cannot order, so counting them as overdue would only add noise.
func (a *Aggregator) BuildOverview(ctx context.Context, req OverviewRequest) (*Overview, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	threshold, err := a.overdueThreshold(ctx, req)
	if err != nil {
		return nil, err
	}

	employees, err := a.store.ListEmployees(ctx, EmployeeFilter{
		LocationID:      req.LocationID,
		IncludeManagers: req.IncludeManagers,
	})
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}

	ids := make([]EmployeeID, len(employees))
	for i, e := range employees {
		ids[i] = e.ID
	}
	latestOrders, err := a.store.GetLatestOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("latest orders: %w", err)
	}

	active, err := a.store.ListActiveThreads(ctx, req.LocationID)
	if err != nil {
		return nil, fmt.Errorf("list active threads: %w", err)
	}

	overview := &Overview{GeneratedAt: now}
	surviving := a.resolveStaleInline(ctx, active, latestOrders, now, overview)

	byEmployee := make(map[EmployeeID][]ReminderThread)
	for _, t := range surviving {
		byEmployee[t.EmployeeID] = append(byEmployee[t.EmployeeID], t)
	}
	a.flagDuplicateActives(byEmployee, overview)

	for _, emp := range employees {
		row := OverviewRow{Employee: emp}

		if order, ok := latestOrders[emp.ID]; ok {
			at := order.CreatedAt
			total := order.Total
			days := DaysBetweenLocal(order.CreatedAt, now, time.UTC)
			row.LastOrderAt = &at
			row.LastOrderTotal = &total
			row.DaysSinceOrder = &days
		}

		threads := byEmployee[emp.ID]
		if len(threads) > 0 {
			newest := threads[0]
			for _, t := range threads[1:] {
				if t.CreatedAt.After(newest.CreatedAt) {
					newest = t
				}
			}
			row.ActiveThread = &newest
			row.Status = StatusReminderActive
			overview.Stats.PendingReminders += len(threads)
		} else if row.DaysSinceOrder == nil || *row.DaysSinceOrder >= threshold {
			row.Status = StatusOverdue
			overview.Stats.OverdueCount++
		} else {
			row.Status = StatusOK
		}

		if !emp.NotificationsEnabled {
			overview.Stats.NotificationsDisabledCount++
		}
		overview.Rows = append(overview.Rows, row)
	}

	sort.Slice(overview.Rows, func(i, j int) bool {
		return overview.Rows[i].Employee.Name < overview.Rows[j].Employee.Name
	})
	return overview, nil
}

func (a *Aggregator) overdueThreshold(ctx context.Context, req OverviewRequest) (int, error) {
	if req.OverdueThresholdDays != nil {
		return *req.OverdueThresholdDays, nil
	}
	settings, err := a.store.GetSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	return settings.OverdueThresholdDays, nil
}

// resolveStaleInline splits threads into surviving and stale, resolving
// the stale ones (once per employee, the store call flips all of them).
func (a *Aggregator) resolveStaleInline(ctx context.Context, active []ReminderThread, latestOrders map[EmployeeID]Order, now time.Time, overview *Overview) []ReminderThread {
	resolvedFor := make(map[EmployeeID]bool)
	surviving := make([]ReminderThread, 0, len(active))

	for _, t := range active {
		order, ok := latestOrders[t.EmployeeID]
		if !ok || !t.CreatedAt.Before(order.CreatedAt) {
			surviving = append(surviving, t)
			continue
		}
		// Stale: excluded from pending either way, resolved once per employee.
		if resolvedFor[t.EmployeeID] {
			continue
		}
		resolvedFor[t.EmployeeID] = true
		if _, err := a.threads.ResolveStale(ctx, t.EmployeeID, &order, now); err != nil {
			overview.Warnings = append(overview.Warnings,
				fmt.Sprintf("stale resolution failed for employee %s: %v", t.EmployeeID, err))
			a.log.WithError(err).WithField("employee_id", t.EmployeeID).
				Warn("[Overview] inline stale resolution failed")
		}
	}
	return surviving
}

// flagDuplicateActives surfaces pairs holding more than one active
// thread. Display still picks the newest; the duplicates are a data
// defect for operators, not something to merge here.
func (a *Aggregator) flagDuplicateActives(byEmployee map[EmployeeID][]ReminderThread, overview *Overview) {
	for empID, threads := range byEmployee {
		byPair := make(map[string][]ThreadID)
		for _, t := range threads {
			key := ""
			if t.LocationID != nil {
				key = string(*t.LocationID)
			}
			byPair[key] = append(byPair[key], t.ID)
		}
		for key, ids := range byPair {
			if len(ids) < 2 {
				continue
			}
			var loc *LocationID
			if key != "" {
				l := LocationID(key)
				loc = &l
			}
			violation := &InvariantViolationError{EmployeeID: empID, LocationID: loc, ThreadIDs: ids}
			overview.Warnings = append(overview.Warnings, violation.Error())
			a.log.WithField("employee_id", empID).Warn("[Overview] " + violation.Error())
		}
	}
}
