package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
)

// NotificationOutboxPair is one channel's Notification + OutboxEntry,
// inserted together by SaveManyWithOutbox.
type NotificationOutboxPair struct {
	Notification *model.Notification
	Outbox       *model.OutboxEntry
}

// NotificationRepository defines the contract for notification persistence.
type NotificationRepository interface {
	// SaveWithOutbox persists a new notification and its outbox handoff row
	// inside a single store transaction. Duplicate (request_id, channel)
	// yields ErrDuplicateRecord.
	SaveWithOutbox(ctx context.Context, n *model.Notification, outbox *model.OutboxEntry) (*model.Notification, error)

	// SaveManyWithOutbox persists one Notification + OutboxEntry pair per
	// requested channel inside a single store transaction (spec.md §4.1
	// intake fan-out). Any duplicate (request_id, channel) pair rolls back
	// the whole batch and yields ErrDuplicateRecord.
	SaveManyWithOutbox(ctx context.Context, pairs []NotificationOutboxPair) ([]*model.Notification, error)

	// GetByID retrieves a notification by its unique ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)

	// UpdateStatus atomically applies a terminal or processing transition.
	// It never overwrites an existing terminal status with a non-terminal
	// one (monotonicity, spec invariant). found reports whether a row
	// existed to update.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, retryCount int, errorMessage *string) (found bool, err error)

	// ClaimProcessing re-finds a row and bumps its updated_at, used by the
	// recovery cron to take ownership of a stuck row before reconciling it.
	ClaimProcessing(ctx context.Context, id uuid.UUID) (found bool, err error)

	// ListStuckProcessing returns notifications stuck in "processing" past
	// the given threshold, oldest first, bounded by limit.
	ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.Notification, error)

	// ListOrphanedPending returns notifications stuck in "pending" past the
	// given threshold, oldest first, bounded by limit.
	ListOrphanedPending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Notification, error)

	// ResetForRetry implements the operator-driven failed->pending path,
	// resetting retry_count to 0.
	ResetForRetry(ctx context.Context, id uuid.UUID) error
}

// NotificationCache defines the contract for a read-through caching layer.
type NotificationCache interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	Set(ctx context.Context, n *model.Notification, expiration time.Duration) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// OutboxRepository defines the contract for the transactional outbox table.
type OutboxRepository interface {
	// ClaimBatch atomically claims up to limit rows that are pending, or
	// processing past staleBefore, sorted by created_at ascending.
	ClaimBatch(ctx context.Context, workerID string, staleBefore time.Time, limit int) ([]*model.OutboxEntry, error)

	// MarkPublished transitions claimed rows to published.
	MarkPublished(ctx context.Context, outboxIDs []uuid.UUID) error

	// DeletePublishedBefore removes published rows older than the retention
	// window, returning the number of rows removed.
	DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertRepository defines the contract for operator alert persistence.
type AlertRepository interface {
	// Upsert inserts or refreshes an alert keyed by (notification_id, alert_type),
	// always resetting Resolved to false on re-occurrence.
	Upsert(ctx context.Context, a *model.Alert) error
}
