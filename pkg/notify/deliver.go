package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Deliverer forwards a notification to an external channel.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// WebhookDeliverer posts notifications to a Slack-compatible incoming webhook.
// Each notification is attempted once; there are no retries.
type WebhookDeliverer struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWebhookDeliverer creates a deliverer for url allowing at most
// perMinute posts per minute. perMinute <= 0 disables throttling.
func NewWebhookDeliverer(url string, perMinute int, client *http.Client, logger *slog.Logger) *WebhookDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}

	return &WebhookDeliverer{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type   string       `json:"type"`
	Text   *textObject  `json:"text,omitempty"`
	Fields []textObject `json:"fields,omitempty"`
}

type webhookPayload struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

// Payload builds the webhook body for a notification: a header with the
// title, a section with the message and a field section with job details.
func Payload(n Notification) ([]byte, error) {
	info := JobInfo{}
	if n.JobInfo != nil {
		info = *n.JobInfo
	}

	p := webhookPayload{
		Text: n.Title,
		Blocks: []block{
			{Type: "header", Text: &textObject{Type: "plain_text", Text: n.Title}},
			{Type: "section", Text: &textObject{Type: "mrkdwn", Text: n.Message}},
			{Type: "section", Fields: []textObject{
				{Type: "mrkdwn", Text: "*Job ID:*\n" + orUnknown(info.JobID)},
				{Type: "mrkdwn", Text: "*Backend:*\n" + orUnknown(info.Backend)},
				{Type: "mrkdwn", Text: "*Status:*\n" + orUnknown(info.Status)},
			}},
		},
	}
	return json.Marshal(p)
}

// Deliver implements Deliverer. It waits for the rate limiter, so callers
// must not hold it on a request path. Any 2xx response counts as delivered.
func (w *WebhookDeliverer) Deliver(ctx context.Context, n Notification) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := Payload(n)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	w.logger.Debug("webhook delivered", "notification_id", n.ID)
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
