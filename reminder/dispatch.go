/*
dispatch.go - Channel fanout and event recording

PURPOSE:
  Fans one reminder out to its channels and writes the audit row.

CHANNEL SEMANTICS:
  in_app  One notification row addressed to the employee. This is the
          primary delivery guarantee: a write failure here is fatal to
          the whole dispatch and the push channel is not attempted.
  push    Skipped outright (not_delivered_push_disabled) when the
          employee profile has notifications off, regardless of what the
          rule configured. Otherwise all active tokens are sent in
          chunks of 100 through the gateway. A chunk whose call errors
          counts every token in it as failed; a response with fewer
          results than messages counts the missing ones as failed.

AUDIT:
  Every dispatch attempt writes EXACTLY ONE event row, success or not.
  A dispatch that reached no channel at all still leaves its event, so
  the trail stays authoritative.

SEE ALSO:
  - push/client.go: the gateway implementation
  - store.go: NotificationStore / TokenStore / EventStore
*/
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	pushChunkSize = 100

	defaultTitle   = "Order reminder"
	defaultMessage = "Time to place your shift meal order."
)

// =============================================================================
// PUSH GATEWAY - Consumed interface, implemented by push.Client
// =============================================================================

// PushMessage is one gateway payload item.
type PushMessage struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushDelivery is the gateway's per-message verdict.
type PushDelivery struct {
	OK     bool
	Detail string
}

// PushGateway sends a batch and returns one delivery per message, in
// order. Implementations apply their own bounded per-call timeout.
type PushGateway interface {
	Send(ctx context.Context, messages []PushMessage) ([]PushDelivery, error)
}

// =============================================================================
// DISPATCHER
// =============================================================================

type Dispatcher struct {
	notifications NotificationStore
	tokens        TokenStore
	events        EventStore
	gateway       PushGateway
	log           *logrus.Logger
}

func NewDispatcher(notifications NotificationStore, tokens TokenStore, events EventStore, gateway PushGateway, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		notifications: notifications,
		tokens:        tokens,
		events:        events,
		gateway:       gateway,
		log:           log,
	}
}

// DispatchInput describes one reminder to deliver. Empty Channels means
// DefaultChannels; empty Message gets the stock wording.
type DispatchInput struct {
	Thread   ReminderThread
	Employee Employee
	Type     EventType
	Source   Source
	Channels []Channel
	Message  string
	Now      time.Time
}

// Dispatch delivers the reminder and appends its event row. The returned
// event reflects what was attempted and what got through. In-app write
// failures return ErrInAppDeliveryFailed after the event is recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) (*ReminderEvent, error) {
	channels := in.Channels
	if len(channels) == 0 {
		channels = DefaultChannels()
	}
	message := in.Message
	if message == "" {
		message = defaultMessage
	}

	result := DeliveryResult{NotificationsEnabled: in.Employee.NotificationsEnabled}

	if HasChannel(channels, ChannelInApp) {
		n := InAppNotification{
			ID:         NotificationID(uuid.New().String()),
			EmployeeID: in.Employee.ID,
			Title:      defaultTitle,
			Body:       message,
			ThreadID:   in.Thread.ID,
			CreatedAt:  in.Now,
		}
		if err := d.notifications.SaveNotification(ctx, n); err != nil {
			result.Error = err.Error()
			d.appendEvent(ctx, in, channels, result)
			return nil, fmt.Errorf("notification row for %s: %v: %w", in.Employee.ID, err, ErrInAppDeliveryFailed)
		}
		result.InAppID = n.ID
	}

	if HasChannel(channels, ChannelPush) {
		result.Push = d.sendPush(ctx, in, message)
	}

	event, err := d.appendEvent(ctx, in, channels, result)
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"employee_id": in.Employee.ID,
		"thread_id":   in.Thread.ID,
		"type":        in.Type,
		"source":      in.Source,
	}
	if result.Push != nil {
		fields["push"] = result.Push.Status
	}
	d.log.WithFields(fields).Info("[Dispatch] reminder delivered")
	return event, nil
}

// sendPush runs the push leg and never fails the dispatch: its outcome,
// good or bad, is data on the event row.
func (d *Dispatcher) sendPush(ctx context.Context, in DispatchInput, message string) *PushOutcome {
	if !in.Employee.NotificationsEnabled {
		return &PushOutcome{Status: PushDisabled}
	}

	tokens, err := d.tokens.GetActivePushTokens(ctx, in.Employee.ID)
	if err != nil {
		d.log.WithError(err).WithField("employee_id", in.Employee.ID).
			Error("[Dispatch] push token read failed")
		return &PushOutcome{Status: PushFailed}
	}
	if len(tokens) == 0 {
		return &PushOutcome{Status: PushNoTokens}
	}

	data := map[string]string{
		"thread_id": string(in.Thread.ID),
		"type":      string(in.Type),
		"source":    string(in.Source),
	}
	messages := make([]PushMessage, len(tokens))
	for i, t := range tokens {
		messages[i] = PushMessage{Token: t.Token, Title: defaultTitle, Body: message, Data: data}
	}

	outcome := &PushOutcome{Requested: len(messages)}
	for start := 0; start < len(messages); start += pushChunkSize {
		end := start + pushChunkSize
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]

		deliveries, err := d.gateway.Send(ctx, chunk)
		if err != nil {
			// Transport failure: the whole chunk counts as failed, not unknown.
			outcome.Failed += len(chunk)
			d.log.WithError(err).WithFields(logrus.Fields{
				"employee_id": in.Employee.ID,
				"chunk_size":  len(chunk),
			}).Warn("[Dispatch] push chunk failed")
			continue
		}
		for i := range chunk {
			if i < len(deliveries) && deliveries[i].OK {
				outcome.Delivered++
			} else {
				// Missing trailing results count as failures.
				outcome.Failed++
			}
		}
	}

	switch {
	case outcome.Failed == 0:
		outcome.Status = PushSent
	case outcome.Delivered == 0:
		outcome.Status = PushFailed
	default:
		outcome.Status = PushPartial
	}
	return outcome
}

// appendEvent writes the one audit row per dispatch attempt.
func (d *Dispatcher) appendEvent(ctx context.Context, in DispatchInput, channels []Channel, result DeliveryResult) (*ReminderEvent, error) {
	event := ReminderEvent{
		ID:         EventID(uuid.New().String()),
		ThreadID:   in.Thread.ID,
		EmployeeID: in.Employee.ID,
		Type:       in.Type,
		Source:     in.Source,
		Channels:   channels,
		Result:     result,
		SentAt:     in.Now,
	}
	if err := d.events.AppendEvent(ctx, event); err != nil {
		d.log.WithError(err).WithField("thread_id", in.Thread.ID).
			Error("[Dispatch] event append failed")
		return nil, fmt.Errorf("append event: %w", err)
	}
	return &event, nil
}
