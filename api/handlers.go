/*
handlers.go - HTTP API handlers for the reminder engine

PURPOSE:
  Exposes the reminder engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Reminders:
    POST   /api/reminders/send       Send a manual reminder
    GET    /api/reminders/overview   Manager overview (status per employee)
    POST   /api/reminders/evaluate   Run a recurring-rule pass (?dry_run=1)

  Settings:
    GET    /api/reminders/settings   Current org settings
    PUT    /api/reminders/settings   Patch org settings

  Rules:
    GET    /api/reminders/rules      List recurring rules
    POST   /api/reminders/rules      Create or replace a rule
    DELETE /api/reminders/rules/{id} Delete a rule

  Feed:
    GET    /api/employees/{id}/notifications   In-app feed
    POST   /api/notifications/{id}/read        Mark a feed entry read
    POST   /api/employees/{id}/push-tokens     Register a device token

  Audit:
    GET    /api/threads/{id}/events  Event trail for one thread

  Orders:
    POST   /api/orders               Order recording hook (service key)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Sender/Engine/Overview/Threads: Domain services
  - Auth: Credential verification (used by the router, not handlers)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (sender, engine, aggregator)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing or invalid credentials
  - 403: Role or ownership violations, suspended profiles
  - 404: Resource not found
  - 409: Conflict (concurrent thread modification)
  - 429: Rate limited (includes retry_after_seconds)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Credential middleware
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    reminder.Store
	Sender   *reminder.Sender
	Engine   *reminder.Engine
	Overview *reminder.Aggregator
	Threads  *reminder.ThreadService
	Auth     *Authenticator
	Log      *logrus.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services around the given store and gateway.
func NewHandler(store reminder.Store, gateway reminder.PushGateway, auth *Authenticator, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	threads := reminder.NewThreadService(store, log)
	dispatcher := reminder.NewDispatcher(store, store, store, gateway, log)
	sender := reminder.NewSender(store, threads, dispatcher, log)

	return &Handler{
		Store:    store,
		Sender:   sender,
		Engine:   reminder.NewEngine(store, sender, log),
		Overview: reminder.NewAggregator(store, threads, log),
		Threads:  threads,
		Auth:     auth,
		Log:      log,
	}
}

// =============================================================================
// REMINDER HANDLERS
// =============================================================================

// SendReminder sends a manual reminder to one employee.
// POST /api/reminders/send
func (h *Handler) SendReminder(w http.ResponseWriter, r *http.Request) {
	var req SendReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}

	caller, _ := CallerFrom(r.Context())

	sendReq := reminder.SendRequest{
		EmployeeID:        reminder.EmployeeID(req.EmployeeID),
		ManagerID:         &caller.Employee.ID,
		Message:           req.Message,
		OverrideRateLimit: req.OverrideRateLimit,
		Source:            reminder.SourceManual,
	}
	if req.LocationID != nil {
		loc := reminder.LocationID(*req.LocationID)
		sendReq.LocationID = &loc
	}
	for _, c := range req.Channels {
		sendReq.Channels = append(sendReq.Channels, reminder.Channel(c))
	}

	receipt, err := h.Sender.Send(r.Context(), sendReq)
	if err != nil {
		writeDomainError(w, "Failed to send reminder", err)
		return
	}

	writeJSON(w, http.StatusOK, SendReminderResponse{
		Reminder:             toThreadDTO(receipt.Thread),
		Event:                toEventDTO(receipt.Event),
		Push:                 receipt.Push,
		NotificationsEnabled: receipt.NotificationsEnabled,
		Warnings:             receipt.Warnings,
	})
}

// GetOverview returns the per-employee reminder status board.
// GET /api/reminders/overview?location_id=&include_managers=&overdue_threshold_days=
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	req := reminder.OverviewRequest{}

	if loc := r.URL.Query().Get("location_id"); loc != "" {
		locID := reminder.LocationID(loc)
		req.LocationID = &locID
	}
	if r.URL.Query().Get("include_managers") == "true" {
		req.IncludeManagers = true
	}
	if raw := r.URL.Query().Get("overdue_threshold_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			writeError(w, http.StatusBadRequest, "overdue_threshold_days must be a positive integer", err)
			return
		}
		req.OverdueThresholdDays = &days
	}

	overview, err := h.Overview.BuildOverview(r.Context(), req)
	if err != nil {
		writeDomainError(w, "Failed to build overview", err)
		return
	}

	writeJSON(w, http.StatusOK, toOverviewDTO(*overview))
}

// EvaluatePass runs one recurring-rule evaluation pass.
// POST /api/reminders/evaluate?dry_run=1
func (h *Handler) EvaluatePass(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	switch r.URL.Query().Get("dry_run") {
	case "1", "true":
		dryRun = true
	}

	report, err := h.Engine.Evaluate(r.Context(), dryRun)
	if err != nil {
		writeDomainError(w, "Failed to evaluate rules", err)
		return
	}

	writeJSON(w, http.StatusOK, toPassReportDTO(*report))
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the org-wide reminder settings.
// GET /api/reminders/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

// UpdateSettings patches the org-wide reminder settings. Absent fields
// keep their current value.
// PUT /api/reminders/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	current, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get settings", err)
		return
	}

	patch := reminder.SettingsPatch{
		OverdueThresholdDays:   req.OverdueThresholdDays,
		RateLimitMinutes:       req.RateLimitMinutes,
		RecurringWindowMinutes: req.RecurringWindowMinutes,
	}
	patched := patch.Apply(current)
	if err := patched.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}

	if err := h.Store.SaveSettings(r.Context(), patched); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}

	writeJSON(w, http.StatusOK, toSettingsDTO(patched))
}

func toSettingsDTO(s reminder.Settings) SettingsDTO {
	return SettingsDTO{
		OverdueThresholdDays:   s.OverdueThresholdDays,
		RateLimitMinutes:       s.RateLimitMinutes,
		RecurringWindowMinutes: s.RecurringWindowMinutes,
	}
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all recurring rules.
// GET /api/reminders/rules?enabled_only=true
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled_only") == "true"

	rules, err := h.Store.ListRules(r.Context(), enabledOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTOs(rules))
}

// UpsertRule creates a rule, or replaces it when the body carries an id.
// The last-triggered stamp survives replacement so an edited rule cannot
// re-fire the same day.
// POST /api/reminders/rules
func (h *Handler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	var req UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule := ruleFromRequest(req)
	created := rule.ID == ""
	if created {
		rule.ID = reminder.RuleID(uuid.New().String())
	}

	caller, _ := CallerFrom(r.Context())
	now := time.Now().UTC()
	rule.CreatedBy = caller.Employee.ID
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := rule.Validate(); err != nil {
		writeDomainError(w, "Invalid rule", err)
		return
	}

	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toRuleDTO(rule))
}

// DeleteRule removes a recurring rule.
// DELETE /api/reminders/rules/{id}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := reminder.RuleID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteRule(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete rule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": string(id)})
}

// =============================================================================
// FEED HANDLERS
// =============================================================================

// ListNotifications returns an employee's in-app feed, newest first.
// Managers may read any feed; employees only their own.
// GET /api/employees/{id}/notifications?unread_only=true
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	employeeID := reminder.EmployeeID(chi.URLParam(r, "id"))

	caller, _ := CallerFrom(r.Context())
	if !caller.IsManager() && caller.Employee.ID != employeeID {
		writeError(w, http.StatusForbidden, "Cannot read another employee's feed", nil)
		return
	}

	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	notifications, err := h.Store.ListNotifications(r.Context(), employeeID, unreadOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notifications", err)
		return
	}

	dtos := make([]NotificationDTO, len(notifications))
	for i, n := range notifications {
		dtos[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkNotificationRead marks one of the caller's own feed entries read.
// POST /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := reminder.NotificationID(chi.URLParam(r, "id"))
	caller, _ := CallerFrom(r.Context())

	// Ownership check: the entry must be in the caller's own feed.
	notifications, err := h.Store.ListNotifications(r.Context(), caller.Employee.ID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notifications", err)
		return
	}
	var owned *reminder.InAppNotification
	for i := range notifications {
		if notifications[i].ID == id {
			owned = &notifications[i]
			break
		}
	}
	if owned == nil {
		writeError(w, http.StatusNotFound, "Notification not found", nil)
		return
	}

	if err := h.Store.MarkNotificationRead(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to mark notification read", err)
		return
	}

	owned.Read = true
	writeJSON(w, http.StatusOK, toNotificationDTO(*owned))
}

// RegisterPushToken registers a device token for push delivery.
// Managers may register for anyone; employees only for themselves.
// POST /api/employees/{id}/push-tokens
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	employeeID := reminder.EmployeeID(chi.URLParam(r, "id"))

	caller, _ := CallerFrom(r.Context())
	if !caller.IsManager() && caller.Employee.ID != employeeID {
		writeError(w, http.StatusForbidden, "Cannot register a token for another employee", nil)
		return
	}

	var req RegisterPushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required", nil)
		return
	}

	emp, err := h.Store.GetEmployee(r.Context(), employeeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	token := reminder.PushToken{
		ID:         reminder.TokenID(uuid.New().String()),
		EmployeeID: employeeID,
		Token:      req.Token,
		Platform:   req.Platform,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SavePushToken(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save push token", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": string(token.ID), "status": "registered"})
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListThreadEvents returns the audit trail for one thread, oldest first.
// GET /api/threads/{id}/events
func (h *Handler) ListThreadEvents(w http.ResponseWriter, r *http.Request) {
	threadID := reminder.ThreadID(chi.URLParam(r, "id"))

	thread, err := h.Store.GetThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get thread", err)
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "Thread not found", nil)
		return
	}

	events, err := h.Store.ListEventsByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// RecordOrder records an order fact from the ordering system and awaits
// stale-thread resolution before responding, so the caller knows the
// reminder state is consistent when the call returns.
// POST /api/orders (service key)
func (h *Handler) RecordOrder(w http.ResponseWriter, r *http.Request) {
	var req RecordOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.LocationID == "" {
		writeError(w, http.StatusBadRequest, "employee_id and location_id are required", nil)
		return
	}

	status := reminder.OrderStatus(req.Status)
	if req.Status == "" {
		status = reminder.OrderCompleted
	}
	switch status {
	case reminder.OrderDraft, reminder.OrderPlaced, reminder.OrderCompleted, reminder.OrderCancelled:
	default:
		writeError(w, http.StatusBadRequest, "Invalid order status", nil)
		return
	}

	total := decimal.Zero
	if req.Total != "" {
		parsed, err := decimal.NewFromString(req.Total)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid total (use a decimal string)", err)
			return
		}
		total = parsed
	}

	createdAt := time.Now().UTC()
	if req.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid created_at (use RFC3339)", err)
			return
		}
		createdAt = parsed.UTC()
	}

	emp, err := h.Store.GetEmployee(r.Context(), reminder.EmployeeID(req.EmployeeID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	order := reminder.Order{
		ID:         reminder.OrderID(req.ID),
		EmployeeID: reminder.EmployeeID(req.EmployeeID),
		LocationID: reminder.LocationID(req.LocationID),
		Status:     status,
		Total:      total,
		CreatedAt:  createdAt,
	}
	if order.ID == "" {
		order.ID = reminder.OrderID(uuid.New().String())
	}

	if err := h.Store.SaveOrder(r.Context(), order); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save order", err)
		return
	}

	// Draft orders are not ordering activity; nothing to resolve.
	resolved := 0
	if status != reminder.OrderDraft {
		resolved, err = h.Threads.ResolveStale(r.Context(), order.EmployeeID, &order, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Order saved but thread resolution failed", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, RecordOrderResponse{
		OrderID:         string(order.ID),
		ResolvedThreads: resolved,
	})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health is the liveness probe.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses. Anything
// unrecognized is a 500 carrying the given message.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var rateErr *reminder.RateLimitError
	var ruleErr *reminder.RuleValidationError

	switch {
	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: "Reminder rate limited",
			Code:  "rate_limited",
			Details: map[string]any{
				"thread_id":           string(rateErr.ThreadID),
				"retry_after_seconds": rateErr.RetryAfterSeconds(),
			},
		})
	case errors.As(err, &ruleErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Rule validation failed",
			Code:  "validation",
			Details: map[string]any{
				"field":  ruleErr.Field,
				"reason": ruleErr.Reason,
			},
		})
	case errors.Is(err, reminder.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, message, err)
	case reminder.IsNotFound(err):
		writeErrorCode(w, http.StatusNotFound, message, "not_found", err)
	case errors.Is(err, reminder.ErrForbidden):
		writeErrorCode(w, http.StatusForbidden, message, "forbidden", err)
	case errors.Is(err, reminder.ErrUnauthorized):
		writeErrorCode(w, http.StatusUnauthorized, message, "unauthorized", err)
	case reminder.IsRetryable(err):
		writeErrorCode(w, http.StatusConflict, message, "conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
