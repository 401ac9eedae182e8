/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates profiles, orders,
	threads, and rules that demonstrate specific engine behavior.

AVAILABLE SCENARIOS:

	quiet-crew:    One location, several employees days behind on orders,
	               a weekday-morning rule with overnight quiet hours
	busy-location: Mixed activity - some ordered today, some overdue, one
	               freshly reminded employee (shows the rate limit)
	stale-threads: Active threads whose employees have since ordered -
	               shows inline resolution in the overview

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create profiles (manager + employees)
 3. Seed orders, threads, and their audit trails
 4. Create recurring rules

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-location"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: writeJSON/writeError helpers
  - reminder/types.go: Seeded domain types
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "quiet-crew",
		Name:        "Quiet Crew",
		Description: "Downtown crew days behind on orders, morning rule with overnight quiet hours",
	},
	{
		ID:          "busy-location",
		Name:        "Busy Location",
		Description: "Airport crew with mixed activity and a freshly reminded employee (rate limit demo)",
	},
	{
		ID:          "stale-threads",
		Name:        "Stale Threads",
		Description: "Active threads outlived by newer orders - overview resolves them inline",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "quiet-crew":
		err = h.loadQuietCrewScenario(ctx)
	case "busy-location":
		err = h.loadBusyLocationScenario(ctx)
	case "stale-threads":
		err = h.loadStaleThreadsScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const (
	locDowntown = "loc-downtown"
	locAirport  = "loc-airport"
)

// loadQuietCrewScenario seeds a downtown crew that is days behind on
// ordering, plus a weekday-morning rule with overnight quiet hours.
func (h *Handler) loadQuietCrewScenario(ctx context.Context) error {
	now := time.Now().UTC()

	profiles := []reminder.Employee{
		{
			ID: "mgr-dana", Name: "Dana Whitfield", Email: "dana@example.com",
			Role: reminder.RoleManager, DefaultLocation: locPtr(locDowntown),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-aiko", Name: "Aiko Tanaka", Email: "aiko@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locDowntown),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-marcus", Name: "Marcus Webb", Email: "marcus@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locDowntown),
			NotificationsEnabled: false, // push lands as not_delivered_push_disabled
		},
		{
			ID: "emp-priya", Name: "Priya Sharma", Email: "priya@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locDowntown),
			NotificationsEnabled: true, // never ordered at all
		},
	}
	for _, p := range profiles {
		if err := h.Store.SaveEmployee(ctx, p); err != nil {
			return err
		}
	}

	orders := []reminder.Order{
		{
			ID: "ord-aiko-1", EmployeeID: "emp-aiko", LocationID: locDowntown,
			Status: reminder.OrderCompleted, Total: decimal.NewFromFloat(11.50),
			CreatedAt: now.AddDate(0, 0, -4),
		},
		{
			ID: "ord-marcus-1", EmployeeID: "emp-marcus", LocationID: locDowntown,
			Status: reminder.OrderCompleted, Total: decimal.NewFromFloat(9.25),
			CreatedAt: now.AddDate(0, 0, -2),
		},
	}
	for _, o := range orders {
		if err := h.Store.SaveOrder(ctx, o); err != nil {
			return err
		}
	}

	tokens := []reminder.PushToken{
		{ID: "tok-aiko-1", EmployeeID: "emp-aiko", Token: "expo-token-aiko", Platform: "ios", Active: true, CreatedAt: now},
		{ID: "tok-priya-1", EmployeeID: "emp-priya", Token: "expo-token-priya", Platform: "android", Active: true, CreatedAt: now},
	}
	for _, t := range tokens {
		if err := h.Store.SavePushToken(ctx, t); err != nil {
			return err
		}
	}

	rule := reminder.RecurringRule{
		ID:        "rule-morning-nudge",
		Name:      "Morning order nudge",
		Scope:     reminder.ScopeLocation,
		TargetID:  locDowntown,
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		TimeOfDay: "10:00",
		Timezone:  "America/New_York",
		Condition: reminder.CondNoOrderToday,
		QuietStart: "22:00",
		QuietEnd:   "06:00",
		Enabled:    true,
		Message:    "Morning! Lock in your shift meal before the lunch rush.",
		CreatedBy:  "mgr-dana",
	}
	return h.Store.SaveRule(ctx, rule)
}

// loadBusyLocationScenario seeds mixed activity: two employees ordered
// today, one is overdue, and one was reminded an hour ago so an
// immediate manual re-send trips the default 60 minute rate limit.
func (h *Handler) loadBusyLocationScenario(ctx context.Context) error {
	now := time.Now().UTC()

	profiles := []reminder.Employee{
		{
			ID: "mgr-felix", Name: "Felix Grant", Email: "felix@example.com",
			Role: reminder.RoleManager, DefaultLocation: locPtr(locAirport),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-sana", Name: "Sana Idris", Email: "sana@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locAirport),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-leo", Name: "Leo Martins", Email: "leo@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locAirport),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-tessa", Name: "Tessa Kowalski", Email: "tessa@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locAirport),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-ravi", Name: "Ravi Chandran", Email: "ravi@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locAirport),
			NotificationsEnabled: true,
		},
	}
	for _, p := range profiles {
		if err := h.Store.SaveEmployee(ctx, p); err != nil {
			return err
		}
	}

	orders := []reminder.Order{
		{
			ID: "ord-sana-1", EmployeeID: "emp-sana", LocationID: locAirport,
			Status: reminder.OrderCompleted, Total: decimal.NewFromFloat(12.40),
			CreatedAt: now.Add(-2 * time.Hour),
		},
		{
			ID: "ord-leo-1", EmployeeID: "emp-leo", LocationID: locAirport,
			Status: reminder.OrderPlaced, Total: decimal.NewFromFloat(8.75),
			CreatedAt: now.Add(-30 * time.Minute),
		},
		{
			ID: "ord-ravi-1", EmployeeID: "emp-ravi", LocationID: locAirport,
			Status: reminder.OrderCompleted, Total: decimal.NewFromFloat(10.00),
			CreatedAt: now.AddDate(0, 0, -6),
		},
	}
	for _, o := range orders {
		if err := h.Store.SaveOrder(ctx, o); err != nil {
			return err
		}
	}

	// Tessa was reminded an hour ago; re-sending without override trips
	// the default rate limit until the hour is up.
	remindedAt := now.Add(-59 * time.Minute)
	thread := reminder.ReminderThread{
		ID:             "thread-tessa",
		EmployeeID:     "emp-tessa",
		ManagerID:      empPtr("mgr-felix"),
		LocationID:     locPtr(locAirport),
		Status:         reminder.ThreadActive,
		CreatedAt:      remindedAt,
		LastRemindedAt: remindedAt,
		ReminderCount:  1,
	}
	if err := h.Store.SaveThread(ctx, thread); err != nil {
		return err
	}
	if err := h.seedReminderTrail(ctx, thread, "Time to place your shift meal order.", remindedAt); err != nil {
		return err
	}

	rule := reminder.RecurringRule{
		ID:            "rule-afternoon-sweep",
		Name:          "Afternoon sweep",
		Scope:         reminder.ScopeLocation,
		TargetID:      locAirport,
		Days:          allWeekdays(),
		TimeOfDay:     "15:30",
		Timezone:      "America/Chicago",
		Condition:     reminder.CondDaysSinceOrderGte,
		ThresholdDays: 3,
		Enabled:       true,
		Message:       "It's been a few days since your last shift meal. Hungry?",
		CreatedBy:     "mgr-felix",
	}
	return h.Store.SaveRule(ctx, rule)
}

// loadStaleThreadsScenario seeds threads that newer orders have outlived.
// Noel ordered after the reminder, so the overview resolves that thread
// inline; Wren has not, so that thread stays active.
func (h *Handler) loadStaleThreadsScenario(ctx context.Context) error {
	now := time.Now().UTC()

	profiles := []reminder.Employee{
		{
			ID: "mgr-iris", Name: "Iris Beaumont", Email: "iris@example.com",
			Role: reminder.RoleManager, DefaultLocation: locPtr(locDowntown),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-noel", Name: "Noel Fitzgerald", Email: "noel@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locDowntown),
			NotificationsEnabled: true,
		},
		{
			ID: "emp-wren", Name: "Wren Okafor", Email: "wren@example.com",
			Role: reminder.RoleEmployee, DefaultLocation: locPtr(locDowntown),
			NotificationsEnabled: true,
		},
	}
	for _, p := range profiles {
		if err := h.Store.SaveEmployee(ctx, p); err != nil {
			return err
		}
	}

	noelReminded := now.AddDate(0, 0, -3)
	wrenReminded := now.AddDate(0, 0, -2)

	threads := []reminder.ReminderThread{
		{
			ID: "thread-noel", EmployeeID: "emp-noel", ManagerID: empPtr("mgr-iris"),
			LocationID: locPtr(locDowntown), Status: reminder.ThreadActive,
			CreatedAt: noelReminded, LastRemindedAt: noelReminded, ReminderCount: 2,
		},
		{
			ID: "thread-wren", EmployeeID: "emp-wren", ManagerID: empPtr("mgr-iris"),
			LocationID: locPtr(locDowntown), Status: reminder.ThreadActive,
			CreatedAt: wrenReminded, LastRemindedAt: wrenReminded, ReminderCount: 1,
		},
	}
	for _, t := range threads {
		if err := h.Store.SaveThread(ctx, t); err != nil {
			return err
		}
		if err := h.seedReminderTrail(ctx, t, "Don't forget your shift meal order.", t.LastRemindedAt); err != nil {
			return err
		}
	}

	// Noel ordered yesterday, a day after the reminder thread was opened.
	order := reminder.Order{
		ID: "ord-noel-1", EmployeeID: "emp-noel", LocationID: locDowntown,
		Status: reminder.OrderCompleted, Total: decimal.NewFromFloat(13.10),
		CreatedAt: now.AddDate(0, 0, -1),
	}
	return h.Store.SaveOrder(ctx, order)
}

// seedReminderTrail writes the notification and event rows a real
// dispatch would have produced for an already-seeded thread.
func (h *Handler) seedReminderTrail(ctx context.Context, t reminder.ReminderThread, message string, at time.Time) error {
	notification := reminder.InAppNotification{
		ID:         reminder.NotificationID("ntf-" + string(t.ID)),
		EmployeeID: t.EmployeeID,
		Title:      "Order reminder",
		Body:       message,
		ThreadID:   t.ID,
		CreatedAt:  at,
	}
	if err := h.Store.SaveNotification(ctx, notification); err != nil {
		return err
	}

	eventType := reminder.EventSent
	if t.ReminderCount > 1 {
		eventType = reminder.EventRemindedAgain
	}
	event := reminder.ReminderEvent{
		ID:         reminder.EventID("evt-" + string(t.ID)),
		ThreadID:   t.ID,
		EmployeeID: t.EmployeeID,
		Type:       eventType,
		Source:     reminder.SourceManual,
		Channels:   reminder.DefaultChannels(),
		Result: reminder.DeliveryResult{
			NotificationsEnabled: true,
			InAppID:              notification.ID,
			Push: &reminder.PushOutcome{
				Status: reminder.PushNoTokens,
			},
		},
		SentAt: at,
	}
	return h.Store.AppendEvent(ctx, event)
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func locPtr(id string) *reminder.LocationID {
	loc := reminder.LocationID(id)
	return &loc
}

func empPtr(id string) *reminder.EmployeeID {
	emp := reminder.EmployeeID(id)
	return &emp
}

func allWeekdays() []time.Weekday {
	return []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
}
