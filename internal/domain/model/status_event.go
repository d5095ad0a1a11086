package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryOutcome is the terminal outcome carried by a StatusEvent.
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeFailed    DeliveryOutcome = "failed"
)

// StatusEvent is the bus payload published on StatusTopic, consumed
// exactly once per notification by the status consumer.
type StatusEvent struct {
	NotificationID uuid.UUID       `json:"notification_id"`
	RequestID      uuid.UUID       `json:"request_id"`
	ClientID       string          `json:"client_id"`
	Channel        string          `json:"channel"`
	Status         DeliveryOutcome `json:"status"`
	Message        *string         `json:"message,omitempty"`
	RetryCount     int             `json:"retry_count"`
	WebhookURL     string          `json:"webhook_url"`
	CreatedAt      time.Time       `json:"created_at"`
}
