package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Ensure OutboxRepository implements the interface.
var _ repo.OutboxRepository = (*OutboxRepository)(nil)

// OutboxRepository implements repository.OutboxRepository against PostgreSQL.
type OutboxRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOutboxRepository creates a new instance of the OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool, logger *zerolog.Logger) *OutboxRepository {
	return &OutboxRepository{
		pool:   pool,
		logger: logger.With().Str("layer", "postgres_outbox_repository").Logger(),
	}
}

// ClaimBatch atomically claims up to limit rows one at a time, matching
// spec §4.2 step 1: "status=pending OR (status=processing AND claimed_at <
// now - OUTBOX_CLAIM_TIMEOUT_MS)", sorted by created_at ascending.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, workerID string, staleBefore time.Time, limit int) ([]*model.OutboxEntry, error) {
	var claimed []*model.OutboxEntry
	now := time.Now().UTC()

	for len(claimed) < limit {
		row := r.pool.QueryRow(ctx, `
			UPDATE outbox_entries
			SET status = 'processing', claimed_by = $1, claimed_at = $2, updated_at = $2
			WHERE outbox_id = (
				SELECT outbox_id FROM outbox_entries
				WHERE status = 'pending' OR (status = 'processing' AND claimed_at < $3)
				ORDER BY created_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING outbox_id, notification_id, topic, payload, status, claimed_by, claimed_at, created_at, updated_at
		`, workerID, now, staleBefore)

		entry, err := scanOutboxEntry(row)
		if err != nil {
			if isNoRows(err) {
				break
			}
			return claimed, fmt.Errorf("postgres: claim outbox batch: %w", err)
		}
		claimed = append(claimed, entry)
	}
	return claimed, nil
}

// MarkPublished transitions claimed rows to published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, outboxIDs []uuid.UUID) error {
	if len(outboxIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_entries SET status = 'published', updated_at = $2
		WHERE outbox_id = ANY($1)
	`, outboxIDs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: mark published: %w", err)
	}
	return nil
}

// DeletePublishedBefore removes published rows past the retention window.
func (r *OutboxRepository) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_entries WHERE status = 'published' AND updated_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete published outbox rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOutboxEntry(row rowScanner) (*model.OutboxEntry, error) {
	var e model.OutboxEntry
	if err := row.Scan(
		&e.OutboxID, &e.NotificationID, &e.Topic, &e.Payload, &e.Status, &e.ClaimedBy, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
