package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	"github.com/ilindan-dev/notifyforge/internal/plugins"
	"github.com/ilindan-dev/notifyforge/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Provider sends notifications via the WhatsApp Business Cloud API's
// `POST /{phone-number-id}/messages` endpoint. No WhatsApp SDK appears
// anywhere in the retrieval pack (checked all five example repos' go.mod
// and all other_examples manifests), so this calls the documented Graph
// API endpoint directly via net/http, in the same single-purpose-struct
// shape as the teacher's `notifiers.EmailNotifier`/`TelegramNotifier`.
// Recipient convention: `recipient["phone_number"]`; content convention:
// `content["body"]` (free-form text message).
type Provider struct {
	client        *http.Client
	baseURL       string
	phoneNumberID string
	accessToken   string
	apiVersion    string
	logger        zerolog.Logger
}

var _ plugins.Provider = (*Provider)(nil)

// New creates a new WhatsApp Provider.
func New(cfg config.WhatsAppConfig, logger *zerolog.Logger) *Provider {
	return &Provider{
		client:        &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond},
		baseURL:       cfg.BaseURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		apiVersion:    cfg.APIVersion,
		logger:        logger.With().Str("component", "whatsapp_provider").Logger(),
	}
}

// Manifest identifies this provider.
func (p *Provider) Manifest() plugins.Manifest {
	return plugins.Manifest{Channel: "whatsapp", Name: "whatsapp_cloud_api", Version: "1.0"}
}

// ValidateNotification requires a "phone_number" recipient and a "body".
func (p *Provider) ValidateNotification(n *model.Notification) error {
	if n.Recipient["phone_number"] == "" {
		return fmt.Errorf("whatsapp: missing recipient \"phone_number\"")
	}
	if n.Content["body"] == "" {
		return fmt.Errorf("whatsapp: missing content \"body\"")
	}
	return nil
}

// RateLimit advertises the WhatsApp Cloud API's default messaging tier.
func (p *Provider) RateLimit() ratelimit.Config {
	return ratelimit.Config{MaxTokens: 80, RefillPerSecond: 20}
}

// Initialize is a no-op; the access token is validated lazily on first send.
func (p *Provider) Initialize(context.Context) error { return nil }

// HealthCheck fetches the phone number's registration status.
func (p *Provider) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s/%s", p.baseURL, p.apiVersion, p.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("whatsapp: build health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("whatsapp: health check returned status %d", resp.StatusCode)
	}
	return nil
}

type textMessage struct {
	Body string `json:"body"`
}

type outboundMessage struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textMessage `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Send dispatches the notification via the WhatsApp Business Cloud API.
func (p *Provider) Send(ctx context.Context, n *model.Notification) (plugins.SendResult, error) {
	body := outboundMessage{
		MessagingProduct: "whatsapp",
		To:               n.Recipient["phone_number"],
		Type:             "text",
		Text:             textMessage{Body: n.Content["body"]},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return plugins.SendResult{}, fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", p.baseURL, p.apiVersion, p.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return plugins.SendResult{}, fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return plugins.SendResult{}, &plugins.SendError{Code: "network_error", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return plugins.SendResult{}, &plugins.SendError{Code: "invalid_response", Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode >= 300 {
		message := "whatsapp api error"
		if decoded.Error != nil {
			message = decoded.Error.Message
		}
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return plugins.SendResult{}, &plugins.SendError{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: message, Retryable: retryable}
	}

	p.logger.Info().Stringer("notification_id", n.NotificationID).Str("recipient", n.Recipient["phone_number"]).Msg("whatsapp message sent successfully")

	providerMessageID := n.NotificationID.String()
	if len(decoded.Messages) > 0 {
		providerMessageID = decoded.Messages[0].ID
	}
	return plugins.SendResult{ProviderMessageID: providerMessageID}, nil
}

// Shutdown is a no-op.
func (p *Provider) Shutdown(context.Context) error { return nil }
