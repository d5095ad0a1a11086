package logonly

import (
	"context"

	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	"github.com/ilindan-dev/notifyforge/internal/plugins"
	"github.com/ilindan-dev/notifyforge/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Provider is a mock Provider that logs the notification instead of
// sending it through a real channel, grounded near-verbatim on the
// teacher's `notifiers.LogNotifier` — used as the zero-config development
// fallback exactly as the teacher's "log_only" mode did, now serving any
// channel rather than just email/telegram.
type Provider struct {
	logger zerolog.Logger
}

var _ plugins.Provider = (*Provider)(nil)

// New creates a new log-only Provider.
func New(logger *zerolog.Logger) *Provider {
	return &Provider{
		logger: logger.With().Str("component", "logonly_provider").Logger(),
	}
}

// Manifest identifies this provider.
func (p *Provider) Manifest() plugins.Manifest {
	return plugins.Manifest{Channel: "*", Name: "logonly", Version: "1.0"}
}

// ValidateNotification never rejects: log-only has no delivery requirements.
func (p *Provider) ValidateNotification(*model.Notification) error {
	return nil
}

// RateLimit advertises a generous default since nothing is actually sent.
func (p *Provider) RateLimit() ratelimit.Config {
	return ratelimit.Config{MaxTokens: 1000, RefillPerSecond: 1000}
}

// Initialize is a no-op.
func (p *Provider) Initialize(context.Context) error { return nil }

// HealthCheck always succeeds.
func (p *Provider) HealthCheck(context.Context) error { return nil }

// Send logs the notification and reports success.
func (p *Provider) Send(_ context.Context, n *model.Notification) (plugins.SendResult, error) {
	p.logger.Info().
		Stringer("notification_id", n.NotificationID).
		Str("channel", n.Channel).
		Interface("recipient", n.Recipient).
		Interface("content", n.Content).
		Msg(">>> MOCK SEND: notification dispatched")

	return plugins.SendResult{ProviderMessageID: "logonly-" + n.NotificationID.String()}, nil
}

// Shutdown is a no-op.
func (p *Provider) Shutdown(context.Context) error { return nil }
