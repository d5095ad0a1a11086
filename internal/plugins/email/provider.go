package email

import (
	"context"
	"fmt"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	"github.com/ilindan-dev/notifyforge/internal/plugins"
	"github.com/ilindan-dev/notifyforge/internal/ratelimit"
	"github.com/rs/zerolog"
	gomail "gopkg.in/gomail.v2"
)

// Provider sends notifications via SMTP, grounded on the teacher's
// `notifiers.EmailNotifier`, adapted from the teacher's typed
// `notification.Email.To`/`Subject`/`Message` fields to the generalized
// `Recipient`/`Content` string maps: `recipient["to"]`, `content["subject"]`,
// `content["body"]`.
type Provider struct {
	dialer *gomail.Dialer
	from   string
	logger zerolog.Logger
}

var _ plugins.Provider = (*Provider)(nil)

// New creates a new email Provider.
func New(cfg config.EmailConfig, logger *zerolog.Logger) *Provider {
	return &Provider{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger.With().Str("component", "email_provider").Logger(),
	}
}

// Manifest identifies this provider.
func (p *Provider) Manifest() plugins.Manifest {
	return plugins.Manifest{Channel: "email", Name: "smtp", Version: "1.0"}
}

// ValidateNotification requires a "to" recipient and a "body".
func (p *Provider) ValidateNotification(n *model.Notification) error {
	if n.Recipient["to"] == "" {
		return fmt.Errorf("email: missing recipient \"to\"")
	}
	if n.Content["body"] == "" {
		return fmt.Errorf("email: missing content \"body\"")
	}
	return nil
}

// RateLimit advertises a conservative SMTP-friendly default.
func (p *Provider) RateLimit() ratelimit.Config {
	return ratelimit.Config{MaxTokens: 50, RefillPerSecond: 5}
}

// Initialize is a no-op; gomail.Dialer connects lazily per send.
func (p *Provider) Initialize(context.Context) error { return nil }

// HealthCheck opens and immediately closes an SMTP connection.
func (p *Provider) HealthCheck(context.Context) error {
	closer, err := p.dialer.Dial()
	if err != nil {
		return fmt.Errorf("email: health check dial: %w", err)
	}
	return closer.Close()
}

// Send dispatches the notification via SMTP.
func (p *Provider) Send(_ context.Context, n *model.Notification) (plugins.SendResult, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", n.Recipient["to"])
	m.SetHeader("Subject", n.Content["subject"])
	m.SetBody("text/plain", n.Content["body"])

	if err := p.dialer.DialAndSend(m); err != nil {
		p.logger.Error().Err(err).Stringer("notification_id", n.NotificationID).Msg("failed to send email")
		return plugins.SendResult{}, &plugins.SendError{Code: "smtp_error", Message: err.Error(), Retryable: true}
	}

	p.logger.Info().Stringer("notification_id", n.NotificationID).Str("recipient", n.Recipient["to"]).Msg("email sent successfully")
	return plugins.SendResult{ProviderMessageID: n.NotificationID.String()}, nil
}

// Shutdown is a no-op.
func (p *Provider) Shutdown(context.Context) error { return nil }
