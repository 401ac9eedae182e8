/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Auth tiers (bearer roles, service key, suspended profiles)
- Manual reminders (send, rate limiting, override)
- Manager overview and settings
- Recurring rules CRUD and evaluation passes
- In-app feed, push tokens, thread audit trail
- Order recording and demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/reminder-engine/reminder"
	"github.com/warp/reminder-engine/reminder/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stubGateway acknowledges every push message without leaving the process.
type stubGateway struct{}

func (stubGateway) Send(_ context.Context, messages []reminder.PushMessage) ([]reminder.PushDelivery, error) {
	deliveries := make([]reminder.PushDelivery, len(messages))
	for i := range deliveries {
		deliveries[i] = reminder.PushDelivery{OK: true}
	}
	return deliveries, nil
}

// newTestAPI builds a full router over an in-memory store.
func newTestAPI(t *testing.T) (http.Handler, *store.Memory, *Authenticator) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	mem := store.NewMemory()
	auth := NewAuthenticator([]byte("test-secret"), "svc-key", mem, log)
	handler := NewHandler(mem, stubGateway{}, auth, log)
	return NewRouter(handler), mem, auth
}

// seedStaff creates the manager and employee most tests operate on.
func seedStaff(t *testing.T, mem *store.Memory) {
	t.Helper()

	ctx := context.Background()
	loc := reminder.LocationID("loc-1")
	staff := []reminder.Employee{
		{ID: "mgr-1", Name: "Dana", Role: reminder.RoleManager, DefaultLocation: &loc, NotificationsEnabled: true},
		{ID: "emp-1", Name: "Aiko", Role: reminder.RoleEmployee, DefaultLocation: &loc, NotificationsEnabled: true},
	}
	for _, emp := range staff {
		if err := mem.SaveEmployee(ctx, emp); err != nil {
			t.Fatalf("Failed to seed employee %s: %v", emp.ID, err)
		}
	}
}

// bearer mints an Authorization header value for the given profile.
func bearer(t *testing.T, auth *Authenticator, id string) string {
	t.Helper()

	token, err := auth.GenerateToken(reminder.EmployeeID(id), time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token for %s: %v", id, err)
	}
	return "Bearer " + token
}

// doRequest runs one request through the router and records the response.
func doRequest(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// sendReminder fires a manual reminder as mgr-1 and returns the receipt.
func sendReminder(t *testing.T, router http.Handler, auth *Authenticator, employeeID string, override bool) SendReminderResponse {
	t.Helper()

	rec := doRequest(t, router, http.MethodPost, "/api/reminders/send",
		SendReminderRequest{EmployeeID: employeeID, OverrideRateLimit: override},
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})
	if rec.Code != http.StatusOK {
		t.Fatalf("Send reminder failed: status %d, body %s", rec.Code, rec.Body.String())
	}

	var resp SendReminderResponse
	decodeBody(t, rec, &resp)
	return resp
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_MissingToken(t *testing.T) {
	// GIVEN: A router with no credentials on the request
	router, mem, _ := newTestAPI(t)
	seedStaff(t, mem)

	// WHEN: A manager route is called without an Authorization header
	rec := doRequest(t, router, http.MethodGet, "/api/reminders/overview", nil, nil)

	// THEN: The request is rejected as unauthorized
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error != "Unauthorized" {
		t.Errorf("Expected Unauthorized error, got %q", errResp.Error)
	}
}

func TestAuth_EmployeeBlockedFromManagerRoutes(t *testing.T) {
	// GIVEN: A signed-in employee
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	headers := map[string]string{"Authorization": bearer(t, auth, "emp-1")}

	// WHEN: The employee calls a manager-only route
	rec := doRequest(t, router, http.MethodGet, "/api/reminders/overview", nil, headers)

	// THEN: The role check rejects the call
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuth_SuspendedProfileRejected(t *testing.T) {
	// GIVEN: A suspended employee holding a valid token
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	if err := mem.SaveEmployee(context.Background(), reminder.Employee{
		ID: "emp-x", Name: "Xan", Role: reminder.RoleEmployee, Suspended: true,
	}); err != nil {
		t.Fatalf("Failed to seed employee: %v", err)
	}
	headers := map[string]string{"Authorization": bearer(t, auth, "emp-x")}

	// WHEN: The suspended profile calls any authenticated route
	rec := doRequest(t, router, http.MethodGet, "/api/employees/emp-x/notifications", nil, headers)

	// THEN: The profile is forbidden even though the token verifies
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for suspended profile, got %d", rec.Code)
	}
}

func TestAuth_MalformedToken(t *testing.T) {
	router, mem, _ := newTestAPI(t)
	seedStaff(t, mem)

	rec := doRequest(t, router, http.MethodGet, "/api/reminders/overview", nil,
		map[string]string{"Authorization": "Bearer not-a-jwt"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for malformed token, got %d", rec.Code)
	}
}

// =============================================================================
// MANUAL REMINDERS
// =============================================================================

func TestSendReminder_CreatesThreadAndEvent(t *testing.T) {
	// GIVEN: A manager and an eligible employee
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)

	// WHEN: The manager sends a manual reminder
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/send",
		SendReminderRequest{EmployeeID: "emp-1", Message: "Lunch closes at 2"},
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})

	// THEN: The receipt carries the new thread and its audit event
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SendReminderResponse
	decodeBody(t, rec, &resp)

	if resp.Reminder.EmployeeID != "emp-1" {
		t.Errorf("Expected thread for emp-1, got %s", resp.Reminder.EmployeeID)
	}
	if resp.Reminder.Status != string(reminder.ThreadActive) {
		t.Errorf("Expected active thread, got %s", resp.Reminder.Status)
	}
	if resp.Reminder.ReminderCount != 1 {
		t.Errorf("Expected reminder count 1, got %d", resp.Reminder.ReminderCount)
	}
	if resp.Reminder.ManagerID != "mgr-1" {
		t.Errorf("Expected manager mgr-1 on thread, got %s", resp.Reminder.ManagerID)
	}
	if resp.Event.Type != string(reminder.EventSent) {
		t.Errorf("Expected sent event, got %s", resp.Event.Type)
	}
	if resp.Event.Source != string(reminder.SourceManual) {
		t.Errorf("Expected manual source, got %s", resp.Event.Source)
	}
	if resp.Event.ThreadID != resp.Reminder.ID {
		t.Errorf("Event thread %s does not match reminder %s", resp.Event.ThreadID, resp.Reminder.ID)
	}
	if resp.Push == nil || resp.Push.Status != reminder.PushNoTokens {
		t.Errorf("Expected no_tokens push outcome, got %+v", resp.Push)
	}
	if !resp.NotificationsEnabled {
		t.Error("Expected notifications_enabled true")
	}
}

func TestSendReminder_RateLimited(t *testing.T) {
	// GIVEN: An employee who was just reminded
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	first := sendReminder(t, router, auth, "emp-1", false)

	// WHEN: The manager sends again inside the rate-limit window
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/send",
		SendReminderRequest{EmployeeID: "emp-1"},
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})

	// THEN: The call is rejected with the thread and the wait time
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Code != "rate_limited" {
		t.Errorf("Expected rate_limited code, got %q", errResp.Code)
	}
	details, ok := errResp.Details.(map[string]any)
	if !ok {
		t.Fatalf("Expected details object, got %T", errResp.Details)
	}
	if details["thread_id"] != first.Reminder.ID {
		t.Errorf("Expected thread %s in details, got %v", first.Reminder.ID, details["thread_id"])
	}
	retry, ok := details["retry_after_seconds"].(float64)
	if !ok || retry < 1 {
		t.Errorf("Expected positive retry_after_seconds, got %v", details["retry_after_seconds"])
	}
}

func TestSendReminder_OverrideBumpsThread(t *testing.T) {
	// GIVEN: An employee inside the rate-limit window
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	first := sendReminder(t, router, auth, "emp-1", false)

	// WHEN: The manager overrides the rate limit
	second := sendReminder(t, router, auth, "emp-1", true)

	// THEN: The same thread is bumped instead of duplicated
	if second.Reminder.ID != first.Reminder.ID {
		t.Errorf("Expected bump of thread %s, got %s", first.Reminder.ID, second.Reminder.ID)
	}
	if second.Reminder.ReminderCount != 2 {
		t.Errorf("Expected reminder count 2, got %d", second.Reminder.ReminderCount)
	}
	if second.Event.Type != string(reminder.EventRemindedAgain) {
		t.Errorf("Expected reminded_again event, got %s", second.Event.Type)
	}
}

func TestSendReminder_Validation(t *testing.T) {
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	headers := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}

	// Missing employee_id
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/send",
		SendReminderRequest{}, headers)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing employee_id, got %d", rec.Code)
	}

	// Unknown employee
	rec = doRequest(t, router, http.MethodPost, "/api/reminders/send",
		SendReminderRequest{EmployeeID: "ghost"}, headers)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown employee, got %d", rec.Code)
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Code != "not_found" {
		t.Errorf("Expected not_found code, got %q", errResp.Code)
	}
}

// =============================================================================
// OVERVIEW
// =============================================================================

func TestGetOverview_FlagsOverdue(t *testing.T) {
	// GIVEN: An employee whose last order is five days old
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	if err := mem.SaveOrder(context.Background(), reminder.Order{
		ID:         "ord-1",
		EmployeeID: "emp-1",
		LocationID: "loc-1",
		Status:     reminder.OrderCompleted,
		Total:      decimal.RequireFromString("11.50"),
		CreatedAt:  time.Now().UTC().AddDate(0, 0, -5),
	}); err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}

	// WHEN: The manager loads the overview
	rec := doRequest(t, router, http.MethodGet, "/api/reminders/overview", nil,
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})

	// THEN: The employee shows up overdue with order details
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var overview OverviewDTO
	decodeBody(t, rec, &overview)

	if len(overview.Rows) != 1 {
		t.Fatalf("Expected 1 row (managers excluded), got %d", len(overview.Rows))
	}
	row := overview.Rows[0]
	if row.Employee.ID != "emp-1" {
		t.Errorf("Expected row for emp-1, got %s", row.Employee.ID)
	}
	if row.Status != string(reminder.StatusOverdue) {
		t.Errorf("Expected overdue status, got %s", row.Status)
	}
	if row.DaysSinceOrder == nil || *row.DaysSinceOrder != 5 {
		t.Errorf("Expected 5 days since order, got %v", row.DaysSinceOrder)
	}
	if row.LastOrderTotal != "11.50" {
		t.Errorf("Expected total 11.50, got %q", row.LastOrderTotal)
	}
	if overview.Stats.OverdueCount != 1 {
		t.Errorf("Expected overdue count 1, got %d", overview.Stats.OverdueCount)
	}
	if overview.GeneratedAt == "" {
		t.Error("Expected generated_at timestamp")
	}
}

func TestGetOverview_RejectsBadThreshold(t *testing.T) {
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	headers := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}

	for _, raw := range []string{"0", "-2", "abc"} {
		rec := doRequest(t, router, http.MethodGet,
			"/api/reminders/overview?overdue_threshold_days="+raw, nil, headers)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for threshold %q, got %d", raw, rec.Code)
		}
	}
}

// =============================================================================
// EVALUATION
// =============================================================================

func TestEvaluatePass_DryRunLeavesNoTrace(t *testing.T) {
	// GIVEN: A rule due right now for an employee with no orders
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := mem.SaveRule(ctx, reminder.RecurringRule{
		ID:        "rule-live",
		Name:      "Due now",
		Scope:     reminder.ScopeLocation,
		TargetID:  "loc-1",
		Days:      []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
		TimeOfDay: now.Format("15:04"),
		Timezone:  "UTC",
		Condition: reminder.CondNoOrderToday,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Failed to seed rule: %v", err)
	}

	// WHEN: A dry-run pass is requested
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/evaluate?dry_run=1", nil,
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})

	// THEN: The report counts the send but nothing is persisted
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report PassReportDTO
	decodeBody(t, rec, &report)

	if !report.DryRun {
		t.Error("Expected dry_run true in report")
	}
	if report.EvaluatedRules != 1 || report.DueRules != 1 {
		t.Errorf("Expected 1 rule evaluated and due, got %d/%d", report.EvaluatedRules, report.DueRules)
	}
	if report.RemindersSent != 1 {
		t.Errorf("Expected 1 reminder counted, got %d", report.RemindersSent)
	}

	threads, err := mem.ListActiveThreads(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to list threads: %v", err)
	}
	if len(threads) != 0 {
		t.Errorf("Expected no threads after dry run, got %d", len(threads))
	}
	rule, err := mem.GetRule(ctx, "rule-live")
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if rule.LastTriggeredAt != nil {
		t.Error("Expected no trigger stamp after dry run")
	}
}

func TestEvaluatePass_ServiceKey(t *testing.T) {
	// GIVEN: A router with the service tier configured
	router, mem, _ := newTestAPI(t)
	seedStaff(t, mem)

	// WHEN: The scheduler calls evaluate with the shared key
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/evaluate", nil,
		map[string]string{"X-Service-Key": "svc-key"})

	// THEN: The pass runs without a bearer token
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with service key, got %d: %s", rec.Code, rec.Body.String())
	}
	var report PassReportDTO
	decodeBody(t, rec, &report)
	if report.EvaluatedRules != 0 {
		t.Errorf("Expected empty pass, got %d rules", report.EvaluatedRules)
	}

	// WHEN: The key is wrong and no bearer is presented
	rec = doRequest(t, router, http.MethodPost, "/api/reminders/evaluate", nil,
		map[string]string{"X-Service-Key": "wrong"})

	// THEN: The request is unauthorized
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad key, got %d", rec.Code)
	}
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_GetDefaults(t *testing.T) {
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)

	rec := doRequest(t, router, http.MethodGet, "/api/reminders/settings", nil,
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var settings SettingsDTO
	decodeBody(t, rec, &settings)
	if settings.OverdueThresholdDays != 3 || settings.RateLimitMinutes != 60 || settings.RecurringWindowMinutes != 30 {
		t.Errorf("Expected default settings 3/60/30, got %+v", settings)
	}
}

func TestSettings_PatchRoundTrip(t *testing.T) {
	// GIVEN: Default settings
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	headers := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}

	// WHEN: Only the rate limit is patched
	rec := doRequest(t, router, http.MethodPut, "/api/reminders/settings",
		map[string]any{"rate_limit_minutes": 15}, headers)

	// THEN: The patched field changes and the rest stay at defaults
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var settings SettingsDTO
	decodeBody(t, rec, &settings)
	if settings.RateLimitMinutes != 15 {
		t.Errorf("Expected rate limit 15, got %d", settings.RateLimitMinutes)
	}
	if settings.OverdueThresholdDays != 3 {
		t.Errorf("Expected threshold untouched at 3, got %d", settings.OverdueThresholdDays)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/reminders/settings", nil, headers)
	decodeBody(t, rec, &settings)
	if settings.RateLimitMinutes != 15 {
		t.Errorf("Expected patched value to persist, got %d", settings.RateLimitMinutes)
	}
}

func TestSettings_RejectsInvalidPatch(t *testing.T) {
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)

	rec := doRequest(t, router, http.MethodPut, "/api/reminders/settings",
		map[string]any{"overdue_threshold_days": 0},
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero threshold, got %d", rec.Code)
	}
}

// =============================================================================
// RULES
// =============================================================================

func TestRules_CreateListDelete(t *testing.T) {
	// GIVEN: A manager creating a recurring rule
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	headers := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}

	// WHEN: The rule is posted without an ID
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/rules",
		UpsertRuleRequest{
			Name:      "Morning nudge",
			Scope:     string(reminder.ScopeLocation),
			TargetID:  "loc-1",
			Days:      []int{1, 2, 3, 4, 5},
			TimeOfDay: "10:00",
			Timezone:  "America/New_York",
			Condition: string(reminder.CondNoOrderToday),
		}, headers)

	// THEN: A new rule is created with a generated ID and defaults
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var rule RuleDTO
	decodeBody(t, rec, &rule)
	if rule.ID == "" {
		t.Error("Expected generated rule ID")
	}
	if rule.CreatedBy != "mgr-1" {
		t.Errorf("Expected created_by mgr-1, got %s", rule.CreatedBy)
	}
	if !rule.Enabled {
		t.Error("Expected rule enabled by default")
	}

	// List shows it
	rec = doRequest(t, router, http.MethodGet, "/api/reminders/rules", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 listing rules, got %d", rec.Code)
	}
	var rules []RuleDTO
	decodeBody(t, rec, &rules)
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(rules))
	}

	// Delete removes it
	rec = doRequest(t, router, http.MethodDelete, "/api/reminders/rules/"+rule.ID, nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 deleting rule, got %d", rec.Code)
	}
	var deleted map[string]string
	decodeBody(t, rec, &deleted)
	if deleted["status"] != "deleted" {
		t.Errorf("Expected deleted status, got %v", deleted)
	}

	// Second delete is a 404
	rec = doRequest(t, router, http.MethodDelete, "/api/reminders/rules/"+rule.ID, nil, headers)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing rule, got %d", rec.Code)
	}
}

func TestRules_UpsertKeepsID(t *testing.T) {
	// GIVEN: A rule posted with a fixed ID
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	headers := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}
	req := UpsertRuleRequest{
		ID:        "rule-fixed",
		Name:      "Evening sweep",
		Scope:     string(reminder.ScopeLocation),
		TargetID:  "loc-1",
		Days:      []int{1, 3, 5},
		TimeOfDay: "17:30",
		Timezone:  "UTC",
		Condition: string(reminder.CondNoOrderToday),
	}

	// WHEN: The same ID is posted twice
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/rules", req, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for explicit ID, got %d: %s", rec.Code, rec.Body.String())
	}
	req.Name = "Evening sweep v2"
	rec = doRequest(t, router, http.MethodPost, "/api/reminders/rules", req, headers)

	// THEN: The rule is replaced in place, not duplicated
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replace, got %d", rec.Code)
	}
	var rule RuleDTO
	decodeBody(t, rec, &rule)
	if rule.ID != "rule-fixed" || rule.Name != "Evening sweep v2" {
		t.Errorf("Expected replaced rule-fixed, got %s %q", rule.ID, rule.Name)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/reminders/rules", nil, headers)
	var rules []RuleDTO
	decodeBody(t, rec, &rules)
	if len(rules) != 1 {
		t.Errorf("Expected 1 rule after replace, got %d", len(rules))
	}
}

func TestRules_ValidationErrorShape(t *testing.T) {
	// GIVEN: A rule with a malformed time of day
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)

	// WHEN: The rule is posted
	rec := doRequest(t, router, http.MethodPost, "/api/reminders/rules",
		UpsertRuleRequest{
			Name:      "Bad clock",
			Scope:     string(reminder.ScopeLocation),
			TargetID:  "loc-1",
			Days:      []int{1},
			TimeOfDay: "9am",
			Timezone:  "UTC",
			Condition: string(reminder.CondNoOrderToday),
		},
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})

	// THEN: The response names the offending field
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Code != "validation" {
		t.Errorf("Expected validation code, got %q", errResp.Code)
	}
	details, ok := errResp.Details.(map[string]any)
	if !ok || details["field"] != "time_of_day" {
		t.Errorf("Expected field time_of_day in details, got %v", errResp.Details)
	}
}

// =============================================================================
// FEED
// =============================================================================

func TestNotifications_FeedAndOwnership(t *testing.T) {
	// GIVEN: A reminder that landed in emp-1's feed
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	receipt := sendReminder(t, router, auth, "emp-1", false)
	empHeaders := map[string]string{"Authorization": bearer(t, auth, "emp-1")}

	// WHEN: The employee reads their own feed
	rec := doRequest(t, router, http.MethodGet, "/api/employees/emp-1/notifications", nil, empHeaders)

	// THEN: The reminder notification is there, unread
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var feed []NotificationDTO
	decodeBody(t, rec, &feed)
	if len(feed) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(feed))
	}
	if feed[0].Title != "Order reminder" {
		t.Errorf("Expected reminder title, got %q", feed[0].Title)
	}
	if feed[0].Read {
		t.Error("Expected notification unread")
	}
	if feed[0].ThreadID != receipt.Reminder.ID {
		t.Errorf("Expected notification linked to thread %s, got %s", receipt.Reminder.ID, feed[0].ThreadID)
	}

	// Employees cannot read another profile's feed
	rec = doRequest(t, router, http.MethodGet, "/api/employees/mgr-1/notifications", nil, empHeaders)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign feed, got %d", rec.Code)
	}

	// Managers can
	rec = doRequest(t, router, http.MethodGet, "/api/employees/emp-1/notifications", nil,
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for manager read, got %d", rec.Code)
	}
}

func TestNotifications_MarkRead(t *testing.T) {
	// GIVEN: One unread notification in emp-1's feed
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	sendReminder(t, router, auth, "emp-1", false)
	empHeaders := map[string]string{"Authorization": bearer(t, auth, "emp-1")}

	rec := doRequest(t, router, http.MethodGet, "/api/employees/emp-1/notifications", nil, empHeaders)
	var feed []NotificationDTO
	decodeBody(t, rec, &feed)
	if len(feed) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(feed))
	}

	// WHEN: The employee marks it read
	rec = doRequest(t, router, http.MethodPost, "/api/notifications/"+feed[0].ID+"/read", nil, empHeaders)

	// THEN: The notification flips and leaves the unread view
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var marked NotificationDTO
	decodeBody(t, rec, &marked)
	if !marked.Read {
		t.Error("Expected notification marked read")
	}

	rec = doRequest(t, router, http.MethodGet, "/api/employees/emp-1/notifications?unread_only=true", nil, empHeaders)
	var unread []NotificationDTO
	decodeBody(t, rec, &unread)
	if len(unread) != 0 {
		t.Errorf("Expected empty unread view, got %d", len(unread))
	}

	// Another caller's feed does not contain the ID, so marking is a 404
	rec = doRequest(t, router, http.MethodPost, "/api/notifications/"+feed[0].ID+"/read", nil,
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for foreign notification, got %d", rec.Code)
	}
}

// =============================================================================
// PUSH TOKENS
// =============================================================================

func TestPushTokens_RegisterAndDeliver(t *testing.T) {
	// GIVEN: An employee registering their device
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)

	// WHEN: The token is posted
	rec := doRequest(t, router, http.MethodPost, "/api/employees/emp-1/push-tokens",
		RegisterPushTokenRequest{Token: "tok-abc", Platform: "ios"},
		map[string]string{"Authorization": bearer(t, auth, "emp-1")})

	// THEN: The token is registered and the next reminder reaches it
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var registered map[string]string
	decodeBody(t, rec, &registered)
	if registered["id"] == "" || registered["status"] != "registered" {
		t.Errorf("Expected registered token, got %v", registered)
	}

	receipt := sendReminder(t, router, auth, "emp-1", false)
	if receipt.Push == nil || receipt.Push.Status != reminder.PushSent {
		t.Fatalf("Expected push sent, got %+v", receipt.Push)
	}
	if receipt.Push.Requested != 1 || receipt.Push.Delivered != 1 {
		t.Errorf("Expected 1/1 delivery, got %d/%d", receipt.Push.Requested, receipt.Push.Delivered)
	}
}

func TestPushTokens_Ownership(t *testing.T) {
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)

	// Employees cannot register for someone else
	rec := doRequest(t, router, http.MethodPost, "/api/employees/mgr-1/push-tokens",
		RegisterPushTokenRequest{Token: "tok-x"},
		map[string]string{"Authorization": bearer(t, auth, "emp-1")})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign registration, got %d", rec.Code)
	}

	// Managers can, but the employee must exist
	mgrHeaders := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}
	rec = doRequest(t, router, http.MethodPost, "/api/employees/ghost/push-tokens",
		RegisterPushTokenRequest{Token: "tok-x"}, mgrHeaders)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown employee, got %d", rec.Code)
	}

	// Empty tokens are rejected
	rec = doRequest(t, router, http.MethodPost, "/api/employees/emp-1/push-tokens",
		RegisterPushTokenRequest{}, mgrHeaders)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty token, got %d", rec.Code)
	}
}

// =============================================================================
// THREAD EVENTS
// =============================================================================

func TestThreadEvents_AuditTrail(t *testing.T) {
	// GIVEN: A thread reminded twice
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	first := sendReminder(t, router, auth, "emp-1", false)
	sendReminder(t, router, auth, "emp-1", true)
	headers := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}

	// WHEN: The audit trail is read
	rec := doRequest(t, router, http.MethodGet, "/api/threads/"+first.Reminder.ID+"/events", nil, headers)

	// THEN: Both events come back oldest first
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var events []EventDTO
	decodeBody(t, rec, &events)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Type != string(reminder.EventSent) || events[1].Type != string(reminder.EventRemindedAgain) {
		t.Errorf("Expected sent then reminded_again, got %s then %s", events[0].Type, events[1].Type)
	}

	// Unknown threads are a 404
	rec = doRequest(t, router, http.MethodGet, "/api/threads/ghost/events", nil, headers)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown thread, got %d", rec.Code)
	}
}

// =============================================================================
// ORDERS
// =============================================================================

func TestRecordOrder_RequiresServiceKey(t *testing.T) {
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	body := RecordOrderRequest{EmployeeID: "emp-1", LocationID: "loc-1"}

	// No credentials
	rec := doRequest(t, router, http.MethodPost, "/api/orders", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", rec.Code)
	}

	// A manager bearer token is not the service tier
	rec = doRequest(t, router, http.MethodPost, "/api/orders", body,
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bearer on service route, got %d", rec.Code)
	}
}

func TestRecordOrder_ResolvesActiveThreads(t *testing.T) {
	// GIVEN: An active reminder thread for emp-1
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	sendReminder(t, router, auth, "emp-1", false)
	svcHeaders := map[string]string{"X-Service-Key": "svc-key"}

	// WHEN: The ordering system reports a completed order
	rec := doRequest(t, router, http.MethodPost, "/api/orders",
		RecordOrderRequest{EmployeeID: "emp-1", LocationID: "loc-1", Total: "12.40"}, svcHeaders)

	// THEN: The order is recorded and the thread resolves
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp RecordOrderResponse
	decodeBody(t, rec, &resp)
	if resp.OrderID == "" {
		t.Error("Expected generated order ID")
	}
	if resp.ResolvedThreads != 1 {
		t.Errorf("Expected 1 resolved thread, got %d", resp.ResolvedThreads)
	}

	threads, err := mem.ListActiveThreads(context.Background(), nil)
	if err != nil {
		t.Fatalf("Failed to list threads: %v", err)
	}
	if len(threads) != 0 {
		t.Errorf("Expected no active threads after order, got %d", len(threads))
	}
}

func TestRecordOrder_DraftResolvesNothing(t *testing.T) {
	// GIVEN: An active reminder thread for emp-1
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	sendReminder(t, router, auth, "emp-1", false)

	// WHEN: Only a draft order arrives
	rec := doRequest(t, router, http.MethodPost, "/api/orders",
		RecordOrderRequest{EmployeeID: "emp-1", LocationID: "loc-1", Status: string(reminder.OrderDraft)},
		map[string]string{"X-Service-Key": "svc-key"})

	// THEN: The draft is stored but the thread stays active
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp RecordOrderResponse
	decodeBody(t, rec, &resp)
	if resp.ResolvedThreads != 0 {
		t.Errorf("Expected no resolution for draft, got %d", resp.ResolvedThreads)
	}

	threads, err := mem.ListActiveThreads(context.Background(), nil)
	if err != nil {
		t.Fatalf("Failed to list threads: %v", err)
	}
	if len(threads) != 1 {
		t.Errorf("Expected thread still active, got %d", len(threads))
	}
}

func TestRecordOrder_Validation(t *testing.T) {
	router, mem, _ := newTestAPI(t)
	seedStaff(t, mem)
	headers := map[string]string{"X-Service-Key": "svc-key"}

	cases := []struct {
		name string
		body RecordOrderRequest
		want int
	}{
		{"missing location", RecordOrderRequest{EmployeeID: "emp-1"}, http.StatusBadRequest},
		{"bad status", RecordOrderRequest{EmployeeID: "emp-1", LocationID: "loc-1", Status: "snack"}, http.StatusBadRequest},
		{"bad total", RecordOrderRequest{EmployeeID: "emp-1", LocationID: "loc-1", Total: "abc"}, http.StatusBadRequest},
		{"bad created_at", RecordOrderRequest{EmployeeID: "emp-1", LocationID: "loc-1", CreatedAt: "yesterday"}, http.StatusBadRequest},
		{"unknown employee", RecordOrderRequest{EmployeeID: "ghost", LocationID: "loc-1"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := doRequest(t, router, http.MethodPost, "/api/orders", tc.body, headers)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_ListLoadReset(t *testing.T) {
	// GIVEN: A fresh instance with seeded staff
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)
	mgrHeaders := map[string]string{"Authorization": bearer(t, auth, "mgr-1")}

	// Scenario catalog is fixed
	rec := doRequest(t, router, http.MethodGet, "/api/scenarios", nil, mgrHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var scenarios []ScenarioDTO
	decodeBody(t, rec, &scenarios)
	if len(scenarios) != 3 {
		t.Fatalf("Expected 3 scenarios, got %d", len(scenarios))
	}
	found := false
	for _, s := range scenarios {
		if s.ID == "quiet-crew" {
			found = true
		}
	}
	if !found {
		t.Error("Expected quiet-crew in the catalog")
	}

	// Nothing loaded yet
	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil, mgrHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var current *ScenarioDTO
	decodeBody(t, rec, &current)
	if current != nil {
		t.Errorf("Expected no current scenario, got %+v", current)
	}

	// WHEN: quiet-crew is loaded (this wipes the seeded staff, so later
	// calls authenticate as the scenario's own manager)
	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "quiet-crew"}, mgrHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 loading scenario, got %d: %s", rec.Code, rec.Body.String())
	}
	var loaded map[string]string
	decodeBody(t, rec, &loaded)
	if loaded["status"] != "loaded" || loaded["scenario"] != "quiet-crew" {
		t.Errorf("Expected loaded quiet-crew, got %v", loaded)
	}

	danaHeaders := map[string]string{"Authorization": bearer(t, auth, "mgr-dana")}
	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil, danaHeaders)
	decodeBody(t, rec, &current)
	if current == nil || current.ID != "quiet-crew" {
		t.Errorf("Expected current scenario quiet-crew, got %+v", current)
	}

	// THEN: The overview reflects the scenario crew
	rec = doRequest(t, router, http.MethodGet, "/api/reminders/overview", nil, danaHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 overview, got %d", rec.Code)
	}
	var overview OverviewDTO
	decodeBody(t, rec, &overview)
	if len(overview.Rows) != 3 {
		t.Errorf("Expected 3 crew rows, got %d", len(overview.Rows))
	}
	if overview.Stats.OverdueCount != 2 {
		t.Errorf("Expected 2 overdue, got %d", overview.Stats.OverdueCount)
	}
	if overview.Stats.NotificationsDisabledCount != 1 {
		t.Errorf("Expected 1 notifications-disabled, got %d", overview.Stats.NotificationsDisabledCount)
	}

	// Reset empties everything
	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/reset", nil, danaHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 resetting, got %d", rec.Code)
	}
	var reset map[string]string
	decodeBody(t, rec, &reset)
	if reset["status"] != "reset" {
		t.Errorf("Expected reset status, got %v", reset)
	}
}

func TestScenarios_UnknownID(t *testing.T) {
	router, mem, auth := newTestAPI(t)
	seedStaff(t, mem)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "does-not-exist"},
		map[string]string{"Authorization": bearer(t, auth, "mgr-1")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown scenario, got %d", rec.Code)
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth_Public(t *testing.T) {
	router, _, _ := newTestAPI(t)

	rec := doRequest(t, router, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "ok" {
		t.Errorf("Expected ok status, got %v", health)
	}
}
