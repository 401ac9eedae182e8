/*
Package push is the HTTP client for the push gateway.

PURPOSE:
  The gateway is an opaque collaborator: it accepts an array of
  {token, title, body, data} and answers with a per-message status in
  the same order. This client does the POST, applies a bounded per-call
  timeout, and translates the response; everything about retries,
  chunking, and failure accounting lives in the dispatcher.

CONTRACT NOTES:
  - A non-2xx response or transport error fails the whole call; the
    dispatcher then counts every message in the chunk as failed.
  - The gateway may return fewer results than messages sent. The client
    passes the short array through untouched; missing entries count as
    failures upstream.

SEE ALSO:
  - reminder/dispatch.go: the only consumer
*/
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/reminder-engine/reminder"
)

const defaultTimeout = 10 * time.Second

// =============================================================================
// CLIENT
// =============================================================================

// Client posts message batches to a configured gateway endpoint.
type Client struct {
	endpoint  string
	authToken string
	timeout   time.Duration
	http      *http.Client
	log       *logrus.Logger
}

// NewClient builds a gateway client. endpoint is the full URL the batch
// is POSTed to; authToken, when set, goes out as a bearer token. A zero
// timeout uses the 10s default.
func NewClient(endpoint, authToken string, timeout time.Duration, log *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		endpoint:  endpoint,
		authToken: authToken,
		timeout:   timeout,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

type gatewayResult struct {
	Status  string `json:"status"` // "ok" | "error"
	Message string `json:"message,omitempty"`
}

type gatewayResponse struct {
	Results []gatewayResult `json:"results"`
}

// Send posts one chunk and returns per-message deliveries in order. The
// context is bounded by the client timeout for this one call.
func (c *Client) Send(ctx context.Context, messages []reminder.PushMessage) ([]reminder.PushDelivery, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("push gateway: encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("push gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a little of the body for the log, then fail the chunk.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(snippet),
		}).Warn("[Push] gateway rejected batch")
		return nil, fmt.Errorf("push gateway: status %d", resp.StatusCode)
	}

	var decoded gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("push gateway: decode response: %w", err)
	}

	deliveries := make([]reminder.PushDelivery, len(decoded.Results))
	for i, r := range decoded.Results {
		deliveries[i] = reminder.PushDelivery{OK: r.Status == "ok", Detail: r.Message}
	}
	return deliveries, nil
}

// =============================================================================
// NOOP GATEWAY - For dev setups without a configured endpoint
// =============================================================================

// Noop reports every message delivered without calling anywhere.
type Noop struct {
	log *logrus.Logger
}

func NewNoop(log *logrus.Logger) *Noop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Noop{log: log}
}

func (n *Noop) Send(_ context.Context, messages []reminder.PushMessage) ([]reminder.PushDelivery, error) {
	n.log.WithField("messages", len(messages)).Debug("[Push] noop gateway, reporting delivered")
	deliveries := make([]reminder.PushDelivery, len(messages))
	for i := range deliveries {
		deliveries[i] = reminder.PushDelivery{OK: true}
	}
	return deliveries, nil
}
