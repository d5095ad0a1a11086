package postgres

import (
	"context"
	"fmt"

	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Ensure AlertRepository implements the interface.
var _ repo.AlertRepository = (*AlertRepository)(nil)

// AlertRepository implements repository.AlertRepository against PostgreSQL.
type AlertRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewAlertRepository creates a new instance of the AlertRepository.
func NewAlertRepository(pool *pgxpool.Pool, logger *zerolog.Logger) *AlertRepository {
	return &AlertRepository{
		pool:   pool,
		logger: logger.With().Str("layer", "postgres_alert_repository").Logger(),
	}
}

// Upsert inserts or refreshes an alert keyed by (notification_id, alert_type),
// always resetting resolved to false on re-occurrence (spec §4.8).
func (r *AlertRepository) Upsert(ctx context.Context, a *model.Alert) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO alerts
			(alert_id, notification_id, alert_type, severity, reason,
			 observed_coordination_status, observed_store_status, retry_count,
			 resolved, resolved_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,NULL,$9,$9)
		ON CONFLICT (notification_id, alert_type) DO UPDATE SET
			severity = EXCLUDED.severity,
			reason = EXCLUDED.reason,
			observed_coordination_status = EXCLUDED.observed_coordination_status,
			observed_store_status = EXCLUDED.observed_store_status,
			retry_count = EXCLUDED.retry_count,
			resolved = false,
			resolved_at = NULL,
			updated_at = EXCLUDED.updated_at
	`,
		a.AlertID, a.NotificationID, a.AlertType, a.Severity, a.Reason,
		a.ObservedCoordinationStatus, a.ObservedStoreStatus, a.RetryCount, a.CreatedAt,
	)
	if err != nil {
		r.logger.Err(err).Stringer("notification_id", a.NotificationID).Str("alert_type", string(a.AlertType)).Msg("cannot upsert alert")
		return fmt.Errorf("postgres: upsert alert: %w", err)
	}
	return nil
}
