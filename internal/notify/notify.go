// Package notify delivers best-effort outbound notifications. Failures are
// logged and never propagated to the caller's control path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// #region interface

// Notifier is the outbound notification channel.
type Notifier interface {
	Send(ctx context.Context, target, message, severity string) error
}

// #endregion interface

// #region webhook

// Webhook posts JSON payloads to an HTTP endpoint with a bounded timeout.
type Webhook struct {
	client  *http.Client
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewWebhook creates a webhook notifier. timeout <= 0 defaults to 5s.
func NewWebhook(timeout time.Duration, log *zap.SugaredLogger) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

// Send posts {message, severity, sent_at} to target. The call is aborted
// past the configured timeout and the error returned for the caller to log.
func (w *Webhook) Send(ctx context.Context, target, message, severity string) error {
	body, err := json.Marshal(map[string]string{
		"message":  message,
		"severity": severity,
		"sent_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: status %d", resp.StatusCode)
	}
	w.log.Debugw("notification delivered", "target", target, "severity", severity)
	return nil
}

// #endregion webhook

// #region nop

// Nop discards all notifications. Used when no channel is configured.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string, string, string) error { return nil }

// #endregion nop
