package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// DelayedEvent is the member payload stored in the Redis delayed:queue
// sorted set. Its score in the set is the due epoch-millisecond timestamp.
type DelayedEvent struct {
	NotificationID uuid.UUID       `json:"notification_id"`
	RequestID      uuid.UUID       `json:"request_id"`
	ClientID       string          `json:"client_id"`
	TargetTopic    string          `json:"target_topic"`
	Payload        json.RawMessage `json:"payload"`
	PollerRetries  int             `json:"_pollerRetries"`
}

// DelayedClaim is the lease a worker holds over a DelayedEvent while it
// processes it, stored under delayed:claim:{notification_id} with a TTL.
type DelayedClaim struct {
	WorkerID  string `json:"worker_id"`
	ExpiresAt int64  `json:"expires_at"`
}
