package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/rs/zerolog"
)

// Event is the wire payload POSTed to a notification's webhook_url
// (spec.md §4.7), carrying the terminal delivery outcome.
type Event struct {
	RequestID      uuid.UUID `json:"request_id"`
	ClientID       string    `json:"client_id"`
	NotificationID uuid.UUID `json:"notification_id"`
	Status         string    `json:"status"` // "DELIVERED" | "FAILED"
	Channel        string    `json:"channel"`
	Message        *string   `json:"message,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Dispatcher posts delivery-outcome webhooks with bounded exponential
// backoff. No teacher equivalent exists: the teacher never calls an
// external HTTP callback. The retry/backoff loop is grounded on the
// teacher's own `consumer.calculateExponentialBackoff` shape (warn-then-
// retry zerolog logging, same doubling idiom) here computing `1s *
// 2^(n-1)` per spec.md §4.7 instead of the teacher's `5s * 2^n`.
type Dispatcher struct {
	client *http.Client
	cfg    config.WebhookConfig
	logger zerolog.Logger
}

// NewDispatcher creates a new webhook Dispatcher.
func NewDispatcher(cfg *config.Config, logger *zerolog.Logger) *Dispatcher {
	timeout := time.Duration(cfg.Webhook.TimeoutMS) * time.Millisecond
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg.Webhook,
		logger: logger.With().Str("component", "webhook_dispatcher").Logger(),
	}
}

// Dispatch POSTs event as JSON to url, retrying on network error or a
// response status >= 500, up to cfg.MaxRetries attempts. 4xx responses are
// never retried. A webhook failure is only logged, never propagated, per
// spec.md §4.7 ("webhook failure never blocks the store update").
func (d *Dispatcher) Dispatch(ctx context.Context, event Event, url string) {
	if url == "" {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error().Err(err).Stringer("notification_id", event.NotificationID).Msg("failed to marshal webhook payload")
		return
	}

	log := d.logger.With().Stringer("notification_id", event.NotificationID).Str("status", event.Status).Logger()

	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		ok, retry, err := d.attempt(ctx, url, body, attempt)
		if ok {
			log.Info().Int("attempt", attempt).Msg("webhook delivered")
			return
		}
		if !retry {
			log.Warn().Err(err).Int("attempt", attempt).Msg("webhook rejected by receiver, not retrying")
			return
		}

		if attempt == d.cfg.MaxRetries {
			log.Error().Err(err).Int("attempt", attempt).Msg("webhook delivery exhausted retries, giving up")
			return
		}

		backoff := computeBackoff(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("webhook attempt failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attempt performs a single POST. ok reports success (2xx); retry reports
// whether the failure is retryable (network error or 5xx).
func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte, attemptNum int) (ok bool, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, false, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Attempt", fmt.Sprintf("%d", attemptNum))

	resp, err := d.client.Do(req)
	if err != nil {
		return false, true, fmt.Errorf("webhook: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, false, nil
	}
	if resp.StatusCode >= 500 {
		return false, true, fmt.Errorf("webhook: receiver returned %d", resp.StatusCode)
	}
	return false, false, fmt.Errorf("webhook: receiver returned %d", resp.StatusCode)
}

// computeBackoff implements spec.md §4.7's `1s * 2^(n-1)`.
func computeBackoff(attempt int) time.Duration {
	delay := math.Pow(2, float64(attempt-1))
	return time.Duration(delay) * time.Second
}
