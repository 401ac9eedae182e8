/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reminders:
    SendReminderRequest, SendReminderResponse, ThreadDTO, EventDTO

  Overview:
    OverviewDTO, OverviewRowDTO, OverviewStatsDTO

  Rules:
    RuleDTO, UpsertRuleRequest, PassReportDTO

  Settings:
    SettingsDTO, UpdateSettingsRequest

  Feed:
    NotificationDTO, RegisterPushTokenRequest

  Orders:
    RecordOrderRequest, RecordOrderResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

CONVENTIONS:
  Instants are RFC3339 strings; absent instants are omitted. Weekdays
  are integers 0-6 with 0 = Sunday. Money totals are decimal strings.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - reminder/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee profile in API responses.
type EmployeeDTO struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Email                string `json:"email,omitempty"`
	Role                 string `json:"role"`
	DefaultLocation      string `json:"default_location,omitempty"`
	Suspended            bool   `json:"suspended"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	LastOrderAt          string `json:"last_order_at,omitempty"`
	LastActiveAt         string `json:"last_active_at,omitempty"`
}

// ThreadDTO represents a reminder thread.
type ThreadDTO struct {
	ID              string `json:"id"`
	EmployeeID      string `json:"employee_id"`
	ManagerID       string `json:"manager_id,omitempty"`
	LocationID      string `json:"location_id,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	LastRemindedAt  string `json:"last_reminded_at"`
	ReminderCount   int    `json:"reminder_count"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
	ResolvedByOrder string `json:"resolved_by_order,omitempty"`
}

// EventDTO represents one audit trail entry.
type EventDTO struct {
	ID         string                  `json:"id"`
	ThreadID   string                  `json:"thread_id"`
	EmployeeID string                  `json:"employee_id"`
	Type       string                  `json:"type"`
	Source     string                  `json:"source"`
	Channels   []reminder.Channel      `json:"channels"`
	Result     reminder.DeliveryResult `json:"result"`
	SentAt     string                  `json:"sent_at"`
}

// SendReminderRequest is the request to send a manual reminder.
type SendReminderRequest struct {
	EmployeeID        string   `json:"employee_id"`
	LocationID        *string  `json:"location_id,omitempty"`
	Message           string   `json:"message,omitempty"`
	Channels          []string `json:"channels,omitempty"`
	OverrideRateLimit bool     `json:"override_rate_limit,omitempty"`
}

// SendReminderResponse is the receipt for a delivered reminder.
type SendReminderResponse struct {
	Reminder             ThreadDTO             `json:"reminder"`
	Event                EventDTO              `json:"event"`
	Push                 *reminder.PushOutcome `json:"push,omitempty"`
	NotificationsEnabled bool                  `json:"notifications_enabled"`
	Warnings             []string              `json:"warnings,omitempty"`
}

// OverviewRowDTO is one employee line of the manager overview.
type OverviewRowDTO struct {
	Employee       EmployeeDTO `json:"employee"`
	Status         string      `json:"status"`
	LastOrderAt    string      `json:"last_order_at,omitempty"`
	LastOrderTotal string      `json:"last_order_total,omitempty"`
	DaysSinceOrder *int        `json:"days_since_order,omitempty"`
	ActiveThread   *ThreadDTO  `json:"active_thread,omitempty"`
}

// OverviewStatsDTO aggregates the overview rows.
type OverviewStatsDTO struct {
	PendingReminders           int `json:"pending_reminders"`
	OverdueCount               int `json:"overdue_count"`
	NotificationsDisabledCount int `json:"notifications_disabled_count"`
}

// OverviewDTO is the manager overview response.
type OverviewDTO struct {
	Rows        []OverviewRowDTO `json:"rows"`
	Stats       OverviewStatsDTO `json:"stats"`
	Warnings    []string         `json:"warnings,omitempty"`
	GeneratedAt string           `json:"generated_at"`
}

// RuleDTO represents a recurring rule.
type RuleDTO struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Scope           string   `json:"scope"`
	TargetID        string   `json:"target_id"`
	Days            []int    `json:"days"`
	TimeOfDay       string   `json:"time_of_day"`
	Timezone        string   `json:"timezone"`
	Condition       string   `json:"condition"`
	ThresholdDays   int      `json:"threshold_days,omitempty"`
	QuietStart      string   `json:"quiet_start,omitempty"`
	QuietEnd        string   `json:"quiet_end,omitempty"`
	Enabled         bool     `json:"enabled"`
	Channels        []string `json:"channels,omitempty"`
	Message         string   `json:"message,omitempty"`
	CreatedBy       string   `json:"created_by,omitempty"`
	LastTriggeredAt string   `json:"last_triggered_at,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
	UpdatedAt       string   `json:"updated_at,omitempty"`
}

// UpsertRuleRequest creates or replaces a recurring rule.
type UpsertRuleRequest struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name"`
	Scope         string   `json:"scope"`
	TargetID      string   `json:"target_id"`
	Days          []int    `json:"days"`
	TimeOfDay     string   `json:"time_of_day"`
	Timezone      string   `json:"timezone"`
	Condition     string   `json:"condition"`
	ThresholdDays int      `json:"threshold_days,omitempty"`
	QuietStart    string   `json:"quiet_start,omitempty"`
	QuietEnd      string   `json:"quiet_end,omitempty"`
	Enabled       *bool    `json:"enabled,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// SettingsDTO is the org-wide reminder configuration.
type SettingsDTO struct {
	OverdueThresholdDays   int `json:"overdue_threshold_days"`
	RateLimitMinutes       int `json:"rate_limit_minutes"`
	RecurringWindowMinutes int `json:"recurring_window_minutes"`
}

// UpdateSettingsRequest patches the settings; absent fields keep their value.
type UpdateSettingsRequest struct {
	OverdueThresholdDays   *int `json:"overdue_threshold_days,omitempty"`
	RateLimitMinutes       *int `json:"rate_limit_minutes,omitempty"`
	RecurringWindowMinutes *int `json:"recurring_window_minutes,omitempty"`
}

// PassReportDTO summarizes one evaluation pass.
type PassReportDTO struct {
	At                 string         `json:"at"`
	DryRun             bool           `json:"dry_run"`
	EvaluatedRules     int            `json:"evaluated_rules"`
	DueRules           int            `json:"due_rules"`
	QuietSuppressed    int            `json:"quiet_suppressed"`
	RemindersSent      int            `json:"reminders_sent"`
	SkippedByCondition int            `json:"skipped_by_condition"`
	SkippedByRateLimit int            `json:"skipped_by_rate_limit"`
	Errors             []PassErrorDTO `json:"errors"`
	Warnings           []string       `json:"warnings,omitempty"`
}

// PassErrorDTO is one isolated per-rule or per-employee failure.
type PassErrorDTO struct {
	RuleID     string `json:"rule_id,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
	Message    string `json:"message"`
}

// NotificationDTO is one in-app feed entry.
type NotificationDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	ThreadID   string `json:"thread_id,omitempty"`
	Read       bool   `json:"read"`
	CreatedAt  string `json:"created_at"`
}

// RegisterPushTokenRequest registers a device token for push delivery.
type RegisterPushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}

// RecordOrderRequest is posted by the ordering system when an order lands.
type RecordOrderRequest struct {
	ID         string `json:"id,omitempty"`
	EmployeeID string `json:"employee_id"`
	LocationID string `json:"location_id"`
	Status     string `json:"status,omitempty"`
	Total      string `json:"total,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// RecordOrderResponse reports the recorded order and what it resolved.
type RecordOrderResponse struct {
	OrderID         string `json:"order_id"`
	ResolvedThreads int    `json:"resolved_threads"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEmployeeDTO(e reminder.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:                   string(e.ID),
		Name:                 e.Name,
		Email:                e.Email,
		Role:                 string(e.Role),
		Suspended:            e.Suspended,
		NotificationsEnabled: e.NotificationsEnabled,
	}
	if e.DefaultLocation != nil {
		dto.DefaultLocation = string(*e.DefaultLocation)
	}
	if e.LastOrderAt != nil {
		dto.LastOrderAt = e.LastOrderAt.Format(time.RFC3339)
	}
	if e.LastActiveAt != nil {
		dto.LastActiveAt = e.LastActiveAt.Format(time.RFC3339)
	}
	return dto
}

func toThreadDTO(t reminder.ReminderThread) ThreadDTO {
	dto := ThreadDTO{
		ID:             string(t.ID),
		EmployeeID:     string(t.EmployeeID),
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		LastRemindedAt: t.LastRemindedAt.Format(time.RFC3339),
		ReminderCount:  t.ReminderCount,
	}
	if t.ManagerID != nil {
		dto.ManagerID = string(*t.ManagerID)
	}
	if t.LocationID != nil {
		dto.LocationID = string(*t.LocationID)
	}
	if t.ResolvedAt != nil {
		dto.ResolvedAt = t.ResolvedAt.Format(time.RFC3339)
	}
	if t.ResolvedByOrder != nil {
		dto.ResolvedByOrder = string(*t.ResolvedByOrder)
	}
	return dto
}

func toEventDTO(e reminder.ReminderEvent) EventDTO {
	return EventDTO{
		ID:         string(e.ID),
		ThreadID:   string(e.ThreadID),
		EmployeeID: string(e.EmployeeID),
		Type:       string(e.Type),
		Source:     string(e.Source),
		Channels:   e.Channels,
		Result:     e.Result,
		SentAt:     e.SentAt.Format(time.RFC3339),
	}
}

func toRuleDTO(r reminder.RecurringRule) RuleDTO {
	days := make([]int, len(r.Days))
	for i, d := range r.Days {
		days[i] = int(d)
	}
	channels := make([]string, len(r.Channels))
	for i, c := range r.Channels {
		channels[i] = string(c)
	}
	dto := RuleDTO{
		ID:            string(r.ID),
		Name:          r.Name,
		Scope:         string(r.Scope),
		TargetID:      r.TargetID,
		Days:          days,
		TimeOfDay:     r.TimeOfDay,
		Timezone:      r.Timezone,
		Condition:     string(r.Condition),
		ThresholdDays: r.ThresholdDays,
		QuietStart:    r.QuietStart,
		QuietEnd:      r.QuietEnd,
		Enabled:       r.Enabled,
		Channels:      channels,
		Message:       r.Message,
		CreatedBy:     string(r.CreatedBy),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.Format(time.RFC3339),
	}
	if r.LastTriggeredAt != nil {
		dto.LastTriggeredAt = r.LastTriggeredAt.Format(time.RFC3339)
	}
	return dto
}

func toRuleDTOs(rules []reminder.RecurringRule) []RuleDTO {
	dtos := make([]RuleDTO, len(rules))
	for i, r := range rules {
		dtos[i] = toRuleDTO(r)
	}
	return dtos
}

func toNotificationDTO(n reminder.InAppNotification) NotificationDTO {
	return NotificationDTO{
		ID:         string(n.ID),
		EmployeeID: string(n.EmployeeID),
		Title:      n.Title,
		Body:       n.Body,
		ThreadID:   string(n.ThreadID),
		Read:       n.Read,
		CreatedAt:  n.CreatedAt.Format(time.RFC3339),
	}
}

func toPassReportDTO(report reminder.PassReport) PassReportDTO {
	errs := make([]PassErrorDTO, len(report.Errors))
	for i, e := range report.Errors {
		errs[i] = PassErrorDTO{
			RuleID:     string(e.RuleID),
			EmployeeID: string(e.EmployeeID),
			Message:    e.Message,
		}
	}
	return PassReportDTO{
		At:                 report.At.Format(time.RFC3339),
		DryRun:             report.DryRun,
		EvaluatedRules:     report.EvaluatedRules,
		DueRules:           report.DueRules,
		QuietSuppressed:    report.QuietSuppressed,
		RemindersSent:      report.RemindersSent,
		SkippedByCondition: report.SkippedByCondition,
		SkippedByRateLimit: report.SkippedByRateLimit,
		Errors:             errs,
		Warnings:           report.Warnings,
	}
}

func toOverviewDTO(o reminder.Overview) OverviewDTO {
	rows := make([]OverviewRowDTO, len(o.Rows))
	for i, row := range o.Rows {
		dto := OverviewRowDTO{
			Employee:       toEmployeeDTO(row.Employee),
			Status:         string(row.Status),
			DaysSinceOrder: row.DaysSinceOrder,
		}
		if row.LastOrderAt != nil {
			dto.LastOrderAt = row.LastOrderAt.Format(time.RFC3339)
		}
		if row.LastOrderTotal != nil {
			dto.LastOrderTotal = row.LastOrderTotal.StringFixed(2)
		}
		if row.ActiveThread != nil {
			thread := toThreadDTO(*row.ActiveThread)
			dto.ActiveThread = &thread
		}
		rows[i] = dto
	}
	return OverviewDTO{
		Rows: rows,
		Stats: OverviewStatsDTO{
			PendingReminders:           o.Stats.PendingReminders,
			OverdueCount:               o.Stats.OverdueCount,
			NotificationsDisabledCount: o.Stats.NotificationsDisabledCount,
		},
		Warnings:    o.Warnings,
		GeneratedAt: o.GeneratedAt.Format(time.RFC3339),
	}
}

func ruleFromRequest(req UpsertRuleRequest) reminder.RecurringRule {
	days := make([]time.Weekday, len(req.Days))
	for i, d := range req.Days {
		days[i] = time.Weekday(d)
	}
	channels := make([]reminder.Channel, len(req.Channels))
	for i, c := range req.Channels {
		channels[i] = reminder.Channel(c)
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return reminder.RecurringRule{
		ID:            reminder.RuleID(req.ID),
		Name:          req.Name,
		Scope:         reminder.RuleScope(req.Scope),
		TargetID:      req.TargetID,
		Days:          days,
		TimeOfDay:     req.TimeOfDay,
		Timezone:      req.Timezone,
		Condition:     reminder.ConditionType(req.Condition),
		ThresholdDays: req.ThresholdDays,
		QuietStart:    req.QuietStart,
		QuietEnd:      req.QuietEnd,
		Enabled:       enabled,
		Channels:      channels,
		Message:       req.Message,
	}
}
