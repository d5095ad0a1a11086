package keybuilder

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	Redis        string = "redis"
	Notification string = "notification"
)

// RedisNotificationKeyBuild builds the cache key for a cached Notification read.
func RedisNotificationKeyBuild(id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", Redis, Notification, id)
}

// DelayedQueueKey is the sorted-set key holding all pending delayed events.
const DelayedQueueKey = "delayed:queue"

// DelayedClaimKey builds the TTL claim key for a delayed event.
func DelayedClaimKey(notificationID uuid.UUID) string {
	return fmt.Sprintf("delayed:claim:%s", notificationID)
}

// IdempotencyKey builds the coordination-store key for a notification's
// idempotency record.
func IdempotencyKey(notificationID uuid.UUID) string {
	return fmt.Sprintf("idem:%s", notificationID)
}

// RateLimitTokensKey builds the key holding a channel's current token count.
func RateLimitTokensKey(channel string) string {
	return fmt.Sprintf("ratelimit:tokens:%s", channel)
}

// RateLimitLastRefillKey builds the key holding a channel's last refill timestamp.
func RateLimitLastRefillKey(channel string) string {
	return fmt.Sprintf("ratelimit:last_refill:%s", channel)
}
