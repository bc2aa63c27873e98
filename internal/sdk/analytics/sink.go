package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/TimurManjosov/goflagship/internal/webhook"
)

// WebhookSink posts analytics events as webhooks, reusing the control
// plane's webhook.Event envelope and webhook.ComputeHMAC signing so an
// analytics event is delivered the same way a flag-change webhook is,
// grounded on webhook.Dispatcher.deliverWithRetry's exponential backoff
// (1s, 2s, 4s, ...) for up to MaxRetries retries after the first attempt.
type WebhookSink struct {
	URL        string
	Secret     string
	Project    string
	HTTPClient *http.Client
	MaxRetries int
	Logger     *slog.Logger
}

// NewWebhookSink constructs a WebhookSink posting signed events to url.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		URL:        url,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		MaxRetries: 3,
		Logger:     slog.Default(),
	}
}

// Track wraps event in a webhook.Event and delivers it, retrying with
// exponential backoff on transport errors or non-2xx responses.
func (s *WebhookSink) Track(ctx context.Context, event Event) error {
	whEvent := webhook.Event{
		Type:      event.EventType,
		Timestamp: time.UnixMilli(event.TimeMillis),
		Project:   s.Project,
		Resource: webhook.Resource{
			Type: "analytics",
			Key:  event.InsertID,
		},
		Data: webhook.EventData{
			After: event.EventProperties,
			Changes: map[string]any{
				"user_properties_set":   event.UserPropertiesSet,
				"user_properties_unset": event.UserPropertiesUnset,
			},
		},
	}

	payload, err := json.Marshal(whEvent)
	if err != nil {
		return fmt.Errorf("marshal analytics event: %w", err)
	}
	signature := webhook.ComputeHMAC(payload, s.Secret)

	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build analytics request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Amp-Signature", signature)
		req.Header.Set("X-Amp-Event-Type", event.EventType)

		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("analytics sink returned status %d", resp.StatusCode)
		}

		if attempt < s.MaxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("analytics event delivery failed after %d attempts: %w", s.MaxRetries+1, lastErr)
}

// NoopSink discards every event; useful when analytics tracking is disabled.
type NoopSink struct{}

// Track implements Sink by doing nothing.
func (NoopSink) Track(ctx context.Context, event Event) error { return nil }
