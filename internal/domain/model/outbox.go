package model

import (
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the lifecycle state of an OutboxEntry.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxPublished  OutboxStatus = "published"
)

// DelayedTopic is the outbox topic used for scheduled notifications; the
// delayed poller fans these out to their real channel topic once due.
const DelayedTopic = "delayed_notification"

// StatusTopic carries terminal delivery outcomes back to the status consumer.
const StatusTopic = "notification_status"

// ChannelTopic returns the bus topic a channel's immediate notifications
// are published to.
func ChannelTopic(channel string) string {
	return channel + "_notification"
}

// OutboxEntry is a durable pending handoff from the store to the bus.
type OutboxEntry struct {
	OutboxID       uuid.UUID
	NotificationID uuid.UUID
	Topic          string
	Payload        []byte
	Status         OutboxStatus
	ClaimedBy      *string
	ClaimedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOutboxEntry builds a pending OutboxEntry for a just-created notification.
func NewOutboxEntry(notificationID uuid.UUID, topic string, payload []byte) *OutboxEntry {
	now := time.Now().UTC()
	return &OutboxEntry{
		OutboxID:       uuid.New(),
		NotificationID: notificationID,
		Topic:          topic,
		Payload:        payload,
		Status:         OutboxPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
