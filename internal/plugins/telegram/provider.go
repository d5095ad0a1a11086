package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	"github.com/ilindan-dev/notifyforge/internal/plugins"
	"github.com/ilindan-dev/notifyforge/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Provider sends notifications via a Telegram bot, grounded on the
// teacher's `notifiers.TelegramNotifier`, adapted from the teacher's
// typed `notification.Telegram.ChatID` field to the generalized
// `Recipient`/`Content` string maps: `recipient["chat_id"]`,
// `content["subject"]`, `content["body"]`.
type Provider struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

var _ plugins.Provider = (*Provider)(nil)

// New creates a new telegram Provider.
func New(cfg config.TelegramConfig, logger *zerolog.Logger) (*Provider, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot api: %w", err)
	}
	return &Provider{
		bot:    bot,
		logger: logger.With().Str("component", "telegram_provider").Logger(),
	}, nil
}

// Manifest identifies this provider.
func (p *Provider) Manifest() plugins.Manifest {
	return plugins.Manifest{Channel: "telegram", Name: "telegram_bot", Version: "1.0"}
}

// ValidateNotification requires a parseable "chat_id" recipient.
func (p *Provider) ValidateNotification(n *model.Notification) error {
	if _, err := strconv.ParseInt(n.Recipient["chat_id"], 10, 64); err != nil {
		return fmt.Errorf("telegram: invalid or missing recipient \"chat_id\": %w", err)
	}
	return nil
}

// RateLimit advertises Telegram's documented ~30 messages/second ceiling.
func (p *Provider) RateLimit() ratelimit.Config {
	return ratelimit.Config{MaxTokens: 30, RefillPerSecond: 30}
}

// Initialize is a no-op; tgbotapi.NewBotAPI already validated the token.
func (p *Provider) Initialize(context.Context) error { return nil }

// HealthCheck calls GetMe to confirm the bot token is still valid.
func (p *Provider) HealthCheck(context.Context) error {
	_, err := p.bot.GetMe()
	if err != nil {
		return fmt.Errorf("telegram: health check: %w", err)
	}
	return nil
}

// Send dispatches the notification via the Telegram bot API.
func (p *Provider) Send(_ context.Context, n *model.Notification) (plugins.SendResult, error) {
	chatID, err := strconv.ParseInt(n.Recipient["chat_id"], 10, 64)
	if err != nil {
		return plugins.SendResult{}, &plugins.SendError{Code: "invalid_chat_id", Message: err.Error(), Retryable: false}
	}

	fullMessage := fmt.Sprintf("*%s*\n\n%s", n.Content["subject"], n.Content["body"])
	msg := tgbotapi.NewMessage(chatID, fullMessage)
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := p.bot.Send(msg)
	if err != nil {
		p.logger.Error().Err(err).Stringer("notification_id", n.NotificationID).Msg("failed to send telegram message")
		return plugins.SendResult{}, &plugins.SendError{Code: "telegram_api_error", Message: err.Error(), Retryable: true}
	}

	p.logger.Info().Stringer("notification_id", n.NotificationID).Int64("chat_id", chatID).Msg("telegram message sent successfully")
	return plugins.SendResult{ProviderMessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Shutdown is a no-op.
func (p *Provider) Shutdown(context.Context) error { return nil }
