package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/rs/zerolog"
)

// Ensure CachedNotificationRepository implements the interface
var _ repo.NotificationRepository = (*CachedNotificationRepository)(nil)

// CachedNotificationRepository is a decorator for a NotificationRepository
// that adds a read-through caching layer for GetByID using Redis. Writes
// always go to the primary store first; the cache is warmed or invalidated
// afterward so a cache failure never affects write durability.
type CachedNotificationRepository struct {
	primaryRepo repo.NotificationRepository
	cache       repo.NotificationCache
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewCachedNotificationRepository creates a new instance of the cached repository.
// It takes the primary repository and the cache as dependencies.
func NewCachedNotificationRepository(
	primaryRepo repo.NotificationRepository,
	cache repo.NotificationCache,
	logger *zerolog.Logger,
) *CachedNotificationRepository {
	return &CachedNotificationRepository{
		primaryRepo: primaryRepo,
		cache:       cache,
		logger:      logger.With().Str("layer", "cached_repository").Logger(),
		ttl:         time.Hour * 24, // Default cache TTL of 24 hours
	}
}

// SaveWithOutbox writes through to the primary repository, then warms the
// cache with the persisted row.
func (r *CachedNotificationRepository) SaveWithOutbox(ctx context.Context, n *model.Notification, outbox *model.OutboxEntry) (*model.Notification, error) {
	created, err := r.primaryRepo.SaveWithOutbox(ctx, n, outbox)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, created, r.ttl); err != nil {
		r.logger.Error().Err(err).Stringer("id", created.NotificationID).Msg("failed to cache notification after save")
	}

	return created, nil
}

// SaveManyWithOutbox writes through to the primary repository, then warms
// the cache for every channel's persisted row.
func (r *CachedNotificationRepository) SaveManyWithOutbox(ctx context.Context, pairs []repo.NotificationOutboxPair) ([]*model.Notification, error) {
	created, err := r.primaryRepo.SaveManyWithOutbox(ctx, pairs)
	if err != nil {
		return nil, err
	}

	for _, n := range created {
		if err := r.cache.Set(ctx, n, r.ttl); err != nil {
			r.logger.Error().Err(err).Stringer("id", n.NotificationID).Msg("failed to cache notification after batch save")
		}
	}

	return created, nil
}

// GetByID implements the cache-aside pattern. It first tries to fetch the
// data from the cache. On a miss it falls back to the primary repository
// and warms the cache with the result.
func (r *CachedNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	cached, err := r.cache.Get(ctx, id)
	if err == nil {
		r.logger.Debug().Stringer("id", id).Msg("cache hit")
		return cached, nil
	}

	if !errors.Is(err, repo.ErrNotFound) {
		r.logger.Error().Err(err).Stringer("id", id).Msg("cache get error, falling back to primary repository")
	} else {
		r.logger.Debug().Stringer("id", id).Msg("cache miss")
	}

	primary, err := r.primaryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, primary, r.ttl); err != nil {
		r.logger.Error().Err(err).Stringer("id", primary.NotificationID).Msg("failed to set cache after db fetch")
	}

	return primary, nil
}

// UpdateStatus writes through to the primary repository, then invalidates
// the cache entry so the next GetByID re-reads the fresh row.
func (r *CachedNotificationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, retryCount int, errorMessage *string) (bool, error) {
	found, err := r.primaryRepo.UpdateStatus(ctx, id, status, retryCount, errorMessage)
	if err != nil {
		return found, err
	}

	if err := r.cache.Delete(ctx, id); err != nil {
		r.logger.Error().Err(err).Stringer("id", id).Msg("failed to invalidate cache after status update")
	}

	return found, nil
}

// ClaimProcessing passes through untouched; it is a recovery-internal
// bookkeeping write that does not change the fields the cache stores.
func (r *CachedNotificationRepository) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.primaryRepo.ClaimProcessing(ctx, id)
}

// ListStuckProcessing passes through: a reconciliation scan, never cached.
func (r *CachedNotificationRepository) ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.Notification, error) {
	return r.primaryRepo.ListStuckProcessing(ctx, updatedBefore, limit)
}

// ListOrphanedPending passes through: a reconciliation scan, never cached.
func (r *CachedNotificationRepository) ListOrphanedPending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Notification, error) {
	return r.primaryRepo.ListOrphanedPending(ctx, createdBefore, limit)
}

// ResetForRetry writes through, then invalidates the cache entry.
func (r *CachedNotificationRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	if err := r.primaryRepo.ResetForRetry(ctx, id); err != nil {
		return err
	}

	if err := r.cache.Delete(ctx, id); err != nil {
		r.logger.Error().Err(err).Stringer("id", id).Msg("failed to invalidate cache after retry reset")
	}

	return nil
}
