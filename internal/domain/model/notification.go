package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationStatus represents the current state of a notification.
type NotificationStatus string

const (
	StatusPending    NotificationStatus = "pending"
	StatusProcessing NotificationStatus = "processing"
	StatusDelivered  NotificationStatus = "delivered"
	StatusFailed     NotificationStatus = "failed"
)

// IsTerminal reports whether s is one of the two terminal states.
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Notification is the logical intent for one (request_id, channel) pair.
// It is technology-agnostic and carries no DB, JSON, or bus tags.
type Notification struct {
	NotificationID uuid.UUID
	RequestID      uuid.UUID
	ClientID       string
	Channel        string

	// Recipient and Content are channel-shaped maps: their keys depend on
	// the plug-in bound to Channel (e.g. email uses "to", whatsapp uses
	// "phone_number").
	Recipient map[string]string
	Content   map[string]string
	Variables map[string]string

	WebhookURL string
	Status     NotificationStatus

	ScheduledAt *time.Time
	RetryCount  int

	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewNotification builds a Notification in its initial pending state.
// scheduledAt is nil for immediate delivery.
func NewNotification(requestID uuid.UUID, clientID, channel string, recipient, content, variables map[string]string, webhookURL string, scheduledAt *time.Time) *Notification {
	now := time.Now().UTC()
	return &Notification{
		NotificationID: uuid.New(),
		RequestID:      requestID,
		ClientID:       clientID,
		Channel:        channel,
		Recipient:      recipient,
		Content:        content,
		Variables:      variables,
		WebhookURL:     webhookURL,
		Status:         StatusPending,
		ScheduledAt:    scheduledAt,
		RetryCount:     0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsScheduled reports whether this notification is due at a future time.
func (n *Notification) IsScheduled() bool {
	return n.ScheduledAt != nil && n.ScheduledAt.After(time.Now().UTC())
}
