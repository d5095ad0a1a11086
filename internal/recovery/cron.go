package recovery

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/idempotency"
	"github.com/ilindan-dev/notifyforge/internal/storage/kafka"
	"github.com/rs/zerolog"
)

// Cron implements the Recovery Cron (C10, spec.md §4.8): a single
// non-overlapping ticker that reconciles stuck-processing and
// orphaned-pending notifications against the Idempotency Registry,
// raising operator alerts or emitting recovery status events. Grounded on
// `internal/outbox.Poller`'s ticker/non-overlap shape, extended with the
// consecutive-failure backoff spec.md §4.8 calls for (the outbox poller
// has no equivalent — it always runs at a fixed interval).
type Cron struct {
	cfg         config.RecoveryConfig
	retryCfg    config.RetryConfig
	notifRepo   repo.NotificationRepository
	alertRepo   repo.AlertRepository
	idempotency *idempotency.Registry
	producer    *kafka.Producer
	logger      zerolog.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCron creates a new recovery Cron.
func NewCron(
	cfg *config.Config,
	notifRepo repo.NotificationRepository,
	alertRepo repo.AlertRepository,
	idemRegistry *idempotency.Registry,
	producer *kafka.Producer,
	logger *zerolog.Logger,
) *Cron {
	return &Cron{
		cfg:         cfg.Recovery,
		retryCfg:    cfg.Retry,
		notifRepo:   notifRepo,
		alertRepo:   alertRepo,
		idempotency: idemRegistry,
		producer:    producer,
		logger:      logger.With().Str("component", "recovery_cron").Logger(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// IsRunning reports whether a reconciliation tick is currently in flight.
func (c *Cron) IsRunning() bool {
	return c.running.Load()
}

// Start runs the reconciliation loop until Stop is called or ctx is
// cancelled. The interval grows (doubles, capped at 8x the configured
// base) after consecutive failing ticks and resets to the configured
// base on the next clean tick, so a struggling store/coordination-store
// dependency doesn't get hammered, per spec.md §4.8's "backs off ... but
// continues to run".
func (c *Cron) Start(ctx context.Context) {
	defer close(c.doneCh)

	baseInterval := time.Duration(c.cfg.PollIntervalMS) * time.Millisecond
	interval := baseInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	c.logger.Info().Dur("interval", interval).Msg("recovery cron started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("recovery cron stopping: context cancelled")
			return
		case <-c.stopCh:
			c.logger.Info().Msg("recovery cron stopping")
			return
		case <-ticker.C:
			failed := c.tick(ctx)

			if failed {
				consecutiveFailures++
			} else {
				consecutiveFailures = 0
			}

			nextInterval := baseInterval
			if consecutiveFailures >= c.cfg.MaxConsecutiveFailures {
				nextInterval = backoffInterval(baseInterval, consecutiveFailures, c.cfg.MaxConsecutiveFailures)
			}
			if nextInterval != interval {
				interval = nextInterval
				ticker.Reset(interval)
				c.logger.Warn().Dur("interval", interval).Int("consecutive_failures", consecutiveFailures).Msg("recovery cron backing off")
			}
		}
	}
}

// Stop signals the cron to exit and waits (bounded) for the in-flight
// tick to finish.
func (c *Cron) Stop(ctx context.Context) error {
	close(c.stopCh)
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs one reconciliation pass, returning true if any pass-level
// error occurred (counted toward the consecutive-failure backoff).
func (c *Cron) tick(ctx context.Context) bool {
	c.running.Store(true)
	defer c.running.Store(false)

	stuckErr := c.stuckProcessingPass(ctx)
	orphanErr := c.orphanedPendingPass(ctx)
	return stuckErr != nil || orphanErr != nil
}

// stuckProcessingPass implements spec.md §4.8's stuck-processing pass.
func (c *Cron) stuckProcessingPass(ctx context.Context) error {
	threshold := time.Now().UTC().Add(-time.Duration(c.cfg.ProcessingStuckThresholdMS) * time.Millisecond)
	stuck, err := c.notifRepo.ListStuckProcessing(ctx, threshold, c.cfg.BatchSize)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list stuck-processing notifications")
		return err
	}

	var lastErr error
	for _, n := range stuck {
		if err := c.reconcileStuck(ctx, n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Cron) reconcileStuck(ctx context.Context, n *model.Notification) error {
	log := c.logger.With().Stringer("notification_id", n.NotificationID).Logger()

	claimed, err := c.notifRepo.ClaimProcessing(ctx, n.NotificationID)
	if err != nil {
		log.Error().Err(err).Msg("failed to claim stuck-processing row")
		return err
	}
	if !claimed {
		return nil
	}

	record, err := c.idempotency.Get(ctx, n.NotificationID)
	if err != nil {
		log.Error().Err(err).Msg("failed to read idempotency record for stuck row")
		return err
	}

	switch {
	case record != nil && record.Status == idempotency.StatusDelivered:
		// Ghost delivery: the provider succeeded but the status event was
		// never consumed into the store.
		if _, err := c.notifRepo.UpdateStatus(ctx, n.NotificationID, model.StatusDelivered, n.RetryCount, nil); err != nil {
			log.Error().Err(err).Msg("failed to reconcile ghost delivery")
			return err
		}
		c.emitStatus(ctx, n, model.OutcomeDelivered, nil)
		return nil

	case record != nil && record.Status == idempotency.StatusFailed && n.RetryCount >= c.retryCfg.MaxRetryCount:
		reason := "recovered terminal failure"
		if _, err := c.notifRepo.UpdateStatus(ctx, n.NotificationID, model.StatusFailed, n.RetryCount, &reason); err != nil {
			log.Error().Err(err).Msg("failed to reconcile terminal failure")
			return err
		}
		c.emitStatus(ctx, n, model.OutcomeFailed, &reason)
		return nil

	case record != nil && record.Status == idempotency.StatusFailed:
		return c.upsertAlert(ctx, n, model.AlertStuckProcessing, model.SeverityWarning,
			"processor recorded failed but retries remain; awaiting operator retry", string(record.Status))

	default:
		observed := "missing"
		if record != nil {
			observed = string(record.Status)
		}
		return c.upsertAlert(ctx, n, model.AlertStuckProcessing, model.SeverityCritical,
			"notification stuck in processing with no resolving idempotency record", observed)
	}
}

// orphanedPendingPass implements spec.md §4.8's orphaned-pending pass.
func (c *Cron) orphanedPendingPass(ctx context.Context) error {
	threshold := time.Now().UTC().Add(-time.Duration(c.cfg.PendingStuckThresholdMS) * time.Millisecond)
	orphaned, err := c.notifRepo.ListOrphanedPending(ctx, threshold, c.cfg.BatchSize)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list orphaned-pending notifications")
		return err
	}

	var lastErr error
	for _, n := range orphaned {
		if err := c.upsertAlert(ctx, n, model.AlertOrphanedPending, model.SeverityWarning,
			"notification never materialized into an outbox publish", "pending"); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Cron) upsertAlert(ctx context.Context, n *model.Notification, alertType model.AlertType, severity model.AlertSeverity, reason, observedCoordination string) error {
	alert := model.NewAlert(n.NotificationID, alertType, severity, reason, observedCoordination, string(n.Status), n.RetryCount)
	if err := c.alertRepo.Upsert(ctx, alert); err != nil {
		c.logger.Error().Err(err).Stringer("notification_id", n.NotificationID).Str("alert_type", string(alertType)).Msg("failed to upsert alert")
		return err
	}
	return nil
}

func (c *Cron) emitStatus(ctx context.Context, n *model.Notification, outcome model.DeliveryOutcome, message *string) {
	status := model.StatusEvent{
		NotificationID: n.NotificationID,
		RequestID:      n.RequestID,
		ClientID:       n.ClientID,
		Channel:        n.Channel,
		Status:         outcome,
		Message:        message,
		RetryCount:     n.RetryCount,
		WebhookURL:     n.WebhookURL,
		CreatedAt:      time.Now().UTC(),
	}

	payload, err := json.Marshal(status)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal recovered status event")
		return
	}

	if err := c.producer.PublishBatch(ctx, []kafka.Message{{
		Topic: model.StatusTopic,
		Key:   []byte(n.NotificationID.String()),
		Value: payload,
	}}); err != nil {
		c.logger.Error().Err(err).Stringer("notification_id", n.NotificationID).Msg("failed to publish recovered status event")
	}
}

// backoffInterval doubles base once per MaxConsecutiveFailures failures
// beyond the threshold, capped at 8x base.
func backoffInterval(base time.Duration, consecutiveFailures, threshold int) time.Duration {
	multiplier := 1 << uint((consecutiveFailures-threshold)/threshold+1)
	if multiplier > 8 {
		multiplier = 8
	}
	return base * time.Duration(multiplier)
}
