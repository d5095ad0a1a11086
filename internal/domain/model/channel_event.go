package model

import (
	"time"

	"github.com/google/uuid"
)

// ChannelEvent is the fully materialized payload published to a channel
// topic (<channel>_notification) or embedded inside a DelayedEvent. It is
// built once at intake time so that downstream stages never need to read
// the Notification row back from the store.
type ChannelEvent struct {
	NotificationID uuid.UUID         `json:"notification_id"`
	RequestID      uuid.UUID         `json:"request_id"`
	ClientID       string            `json:"client_id"`
	Channel        string            `json:"channel"`
	Recipient      map[string]string `json:"recipient"`
	Content        map[string]string `json:"content"`
	Variables      map[string]string `json:"variables"`
	WebhookURL     string            `json:"webhook_url"`
	RetryCount     int               `json:"retry_count"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewChannelEvent materializes a ChannelEvent from a Notification.
func NewChannelEvent(n *Notification) *ChannelEvent {
	return &ChannelEvent{
		NotificationID: n.NotificationID,
		RequestID:      n.RequestID,
		ClientID:       n.ClientID,
		Channel:        n.Channel,
		Recipient:      n.Recipient,
		Content:        n.Content,
		Variables:      n.Variables,
		WebhookURL:     n.WebhookURL,
		RetryCount:     n.RetryCount,
		CreatedAt:      n.CreatedAt,
	}
}
