// Package notify delivers outbound webhook notifications to agents.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
	"resty.dev/v3"
)

// Webhook posts message notifications to an agent's registered webhook URL.
// Delivery is at-most-once and fire-and-forget: failures are logged, never
// retried, never surfaced to the sender.
type Webhook struct {
	client  *resty.Client
	timeout time.Duration
}

// NewWebhook creates a webhook notifier with a bounded delivery timeout.
func NewWebhook(timeout time.Duration) *Webhook {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Webhook{client: client, timeout: timeout}
}

// Close releases the underlying HTTP client.
func (w *Webhook) Close() {
	if err := w.client.Close(); err != nil {
		slog.Debug("Failed to close webhook client", "error", err)
	}
}

type messagePayload struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MessageReceived notifies the counterpart's webhook about a new message.
// Returns immediately; delivery happens in the background.
func (w *Webhook) MessageReceived(webhookURL string, msg *domain.Message, fromName string) {
	payload := messagePayload{
		Event:     "message",
		SessionID: msg.SessionID,
		From:      fromName,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UnixMilli(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		resp, err := w.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post(webhookURL)
		if err != nil {
			slog.Warn("Webhook delivery failed",
				"error", err, "session_id", msg.SessionID)
			return
		}
		if resp.IsError() {
			slog.Warn("Webhook delivery rejected",
				"status", resp.StatusCode(), "session_id", msg.SessionID)
		}
	}()
}
