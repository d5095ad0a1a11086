package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Ensure NotificationRepository implements the interface.
var _ repo.NotificationRepository = (*NotificationRepository)(nil)

// NotificationRepository implements repository.NotificationRepository using
// PostgreSQL as a backend, via a raw pgxpool.Pool (no codegen layer).
type NotificationRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewNotificationRepository creates a new instance of the NotificationRepository.
func NewNotificationRepository(pool *pgxpool.Pool, logger *zerolog.Logger) *NotificationRepository {
	return &NotificationRepository{
		pool:   pool,
		logger: logger.With().Str("layer", "postgres_repository").Logger(),
	}
}

// SaveWithOutbox persists a new notification and its outbox row inside a
// single transaction (spec §4.1: "inserts the Notification and one Outbox
// Entry" atomically).
func (r *NotificationRepository) SaveWithOutbox(ctx context.Context, n *model.Notification, outbox *model.OutboxEntry) (*model.Notification, error) {
	recipientJSON, err := json.Marshal(n.Recipient)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal recipient: %w", err)
	}
	contentJSON, err := json.Marshal(n.Content)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal content: %w", err)
	}
	variablesJSON, err := json.Marshal(n.Variables)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal variables: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications
			(notification_id, request_id, client_id, channel, recipient, content, variables,
			 webhook_url, status, scheduled_at, retry_count, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		n.NotificationID, n.RequestID, n.ClientID, n.Channel, recipientJSON, contentJSON, variablesJSON,
		n.WebhookURL, n.Status, n.ScheduledAt, n.RetryCount, n.ErrorMessage, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, repo.ErrDuplicateRecord
		}
		r.logger.Err(err).Msg("cannot insert notification")
		return nil, fmt.Errorf("postgres: insert notification: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_entries
			(outbox_id, notification_id, topic, payload, status, claimed_by, claimed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		outbox.OutboxID, outbox.NotificationID, outbox.Topic, outbox.Payload, outbox.Status,
		outbox.ClaimedBy, outbox.ClaimedAt, outbox.CreatedAt, outbox.UpdatedAt,
	)
	if err != nil {
		r.logger.Err(err).Msg("cannot insert outbox entry")
		return nil, fmt.Errorf("postgres: insert outbox entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit tx: %w", err)
	}

	return n, nil
}

// SaveManyWithOutbox persists one Notification + OutboxEntry pair per
// requested channel inside a single transaction, generalizing
// SaveWithOutbox's per-row insert loop to the multi-channel intake fan-out
// of spec.md §4.1.
func (r *NotificationRepository) SaveManyWithOutbox(ctx context.Context, pairs []repo.NotificationOutboxPair) ([]*model.Notification, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	notifications := make([]*model.Notification, 0, len(pairs))
	for _, pair := range pairs {
		n := pair.Notification
		outbox := pair.Outbox

		recipientJSON, err := json.Marshal(n.Recipient)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal recipient: %w", err)
		}
		contentJSON, err := json.Marshal(n.Content)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal content: %w", err)
		}
		variablesJSON, err := json.Marshal(n.Variables)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal variables: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO notifications
				(notification_id, request_id, client_id, channel, recipient, content, variables,
				 webhook_url, status, scheduled_at, retry_count, error_message, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`,
			n.NotificationID, n.RequestID, n.ClientID, n.Channel, recipientJSON, contentJSON, variablesJSON,
			n.WebhookURL, n.Status, n.ScheduledAt, n.RetryCount, n.ErrorMessage, n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return nil, repo.ErrDuplicateRecord
			}
			r.logger.Err(err).Str("channel", n.Channel).Msg("cannot insert notification")
			return nil, fmt.Errorf("postgres: insert notification: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO outbox_entries
				(outbox_id, notification_id, topic, payload, status, claimed_by, claimed_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			outbox.OutboxID, outbox.NotificationID, outbox.Topic, outbox.Payload, outbox.Status,
			outbox.ClaimedBy, outbox.ClaimedAt, outbox.CreatedAt, outbox.UpdatedAt,
		)
		if err != nil {
			r.logger.Err(err).Str("channel", n.Channel).Msg("cannot insert outbox entry")
			return nil, fmt.Errorf("postgres: insert outbox entry: %w", err)
		}

		notifications = append(notifications, n)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit tx: %w", err)
	}

	return notifications, nil
}

// GetByID retrieves a notification by its unique ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT notification_id, request_id, client_id, channel, recipient, content, variables,
		       webhook_url, status, scheduled_at, retry_count, error_message, created_at, updated_at
		FROM notifications WHERE notification_id = $1
	`, id)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		r.logger.Err(err).Stringer("id", id).Msg("cannot get notification")
		return nil, fmt.Errorf("postgres: get notification: %w", err)
	}
	return n, nil
}

// UpdateStatus atomically applies a status transition, refusing to
// overwrite an existing terminal status (spec §3 monotonicity invariant).
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, retryCount int, errorMessage *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, retry_count = $3, error_message = $4, updated_at = $5
		WHERE notification_id = $1
		  AND status NOT IN ('delivered','failed')
	`, id, status, retryCount, errorMessage, time.Now().UTC())
	if err != nil {
		r.logger.Err(err).Stringer("id", id).Msg("cannot update notification status")
		return false, fmt.Errorf("postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "row missing" from "row exists but is already terminal".
		_, getErr := r.GetByID(ctx, id)
		if errors.Is(getErr, repo.ErrNotFound) {
			return false, nil
		}
		return true, nil
	}
	return true, nil
}

// ClaimProcessing re-finds a row and bumps its updated_at, taking ownership
// of it before the recovery cron reconciles it.
func (r *NotificationRepository) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET updated_at = $2 WHERE notification_id = $1 AND status = 'processing'
	`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("postgres: claim processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListStuckProcessing returns notifications stuck in "processing" past the threshold.
func (r *NotificationRepository) ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT notification_id, request_id, client_id, channel, recipient, content, variables,
		       webhook_url, status, scheduled_at, retry_count, error_message, created_at, updated_at
		FROM notifications
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stuck processing: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ListOrphanedPending returns notifications stuck in "pending" past the threshold.
func (r *NotificationRepository) ListOrphanedPending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT notification_id, request_id, client_id, channel, recipient, content, variables,
		       webhook_url, status, scheduled_at, retry_count, error_message, created_at, updated_at
		FROM notifications
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orphaned pending: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ResetForRetry implements the operator-driven failed->pending path.
func (r *NotificationRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'pending', retry_count = 0, error_message = NULL, updated_at = $2
		WHERE notification_id = $1 AND status = 'failed'
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: reset for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var n model.Notification
	var recipientJSON, contentJSON, variablesJSON []byte
	if err := row.Scan(
		&n.NotificationID, &n.RequestID, &n.ClientID, &n.Channel, &recipientJSON, &contentJSON, &variablesJSON,
		&n.WebhookURL, &n.Status, &n.ScheduledAt, &n.RetryCount, &n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipientJSON, &n.Recipient); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal recipient: %w", err)
	}
	if err := json.Unmarshal(contentJSON, &n.Content); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal content: %w", err)
	}
	if err := json.Unmarshal(variablesJSON, &n.Variables); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal variables: %w", err)
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*model.Notification, error) {
	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
