package http

import (
	"time"

	"github.com/google/uuid"
)

// CreateNotificationRequest defines the structure for a new multi-channel
// notification intake request. Recipient and Content are channel-shaped
// maps: their keys depend on the channel being addressed (e.g. email uses
// "to", whatsapp uses "phone_number").
type CreateNotificationRequest struct {
	ClientID    string            `json:"client_id" binding:"required"`
	Channels    []string          `json:"channels" binding:"required,min=1"`
	Recipient   map[string]string `json:"recipient" binding:"required"`
	Content     map[string]string `json:"content" binding:"required"`
	Variables   map[string]string `json:"variables,omitempty"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
}

// NotificationResponse defines the structure for a single channel's
// notification in an intake response. We don't expose all internal
// fields to the client.
type NotificationResponse struct {
	ID          uuid.UUID  `json:"id"`
	RequestID   uuid.UUID  `json:"request_id"`
	Channel     string     `json:"channel"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SubmitResponse wraps the per-channel notifications created by a single
// intake request.
type SubmitResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
}

// ErrorResponse defines a standard structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
