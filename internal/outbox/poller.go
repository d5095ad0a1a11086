package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/storage/kafka"
	"github.com/rs/zerolog"
)

// Poller implements the transactional outbox poller (C4) of spec.md §4.2,
// grounded on the teacher's `internal/consumer/consumer.go` Start/ticker
// shape: a blocking `Start(ctx)` driven here by two independent tickers
// (claim+publish, and cleanup) instead of the teacher's worker pool, since
// the outbox claim statement itself already serializes concurrent access
// at the store layer.
type Poller struct {
	cfg      config.OutboxConfig
	workerID string
	outbox   repo.OutboxRepository
	producer *kafka.Producer
	logger   zerolog.Logger

	polling   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewPoller creates a new outbox Poller.
func NewPoller(cfg *config.Config, outbox repo.OutboxRepository, producer *kafka.Producer, logger *zerolog.Logger) *Poller {
	return &Poller{
		cfg:      cfg.Outbox,
		workerID: cfg.WorkerID,
		outbox:   outbox,
		producer: producer,
		logger:   logger.With().Str("component", "outbox_poller").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// IsRunning reports whether a claim-and-publish tick is currently in flight.
func (p *Poller) IsRunning() bool {
	return p.polling.Load()
}

// Start runs the claim/publish loop and the cleanup loop until Stop is
// called or ctx is cancelled. Blocking, intended to be launched as a
// goroutine from an fx.Hook.OnStart, matching the teacher's Consumer.Start.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.doneCh)

	claimTicker := time.NewTicker(time.Duration(p.cfg.PollIntervalMS) * time.Millisecond)
	defer claimTicker.Stop()
	cleanupTicker := time.NewTicker(time.Duration(p.cfg.CleanupIntervalMS) * time.Millisecond)
	defer cleanupTicker.Stop()

	p.logger.Info().Str("worker_id", p.workerID).Msg("outbox poller started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("outbox poller stopping: context cancelled")
			return
		case <-p.stopCh:
			p.logger.Info().Msg("outbox poller stopping")
			return
		case <-claimTicker.C:
			p.tick(ctx)
		case <-cleanupTicker.C:
			p.cleanupTick(ctx)
		}
	}
}

// Stop signals the poller to exit and waits (bounded) for the in-flight
// tick to finish, matching the teacher's graceful-shutdown convention.
func (p *Poller) Stop(ctx context.Context) error {
	close(p.stopCh)
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) tick(ctx context.Context) {
	p.polling.Store(true)
	defer p.polling.Store(false)

	staleBefore := time.Now().UTC().Add(-time.Duration(p.cfg.ClaimTimeoutMS) * time.Millisecond)
	claimed, err := p.outbox.ClaimBatch(ctx, p.workerID, staleBefore, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to claim outbox batch")
		return
	}
	if len(claimed) == 0 {
		return
	}

	valid, byTopic := p.validateAndGroup(claimed)
	if len(valid) == 0 {
		return
	}

	published := make([]uuid.UUID, 0, len(valid))
	for topic, entries := range byTopic {
		messages := make([]kafka.Message, 0, len(entries))
		for _, e := range entries {
			messages = append(messages, kafka.Message{
				Topic: topic,
				Key:   []byte(e.NotificationID.String()),
				Value: e.Payload,
			})
		}

		if err := p.producer.PublishBatch(ctx, messages); err != nil {
			p.logger.Error().Err(err).Str("topic", topic).Int("count", len(entries)).Msg("failed to publish outbox batch, leaving rows in processing")
			continue
		}
		for _, e := range entries {
			published = append(published, e.OutboxID)
		}
	}

	if len(published) > 0 {
		if err := p.outbox.MarkPublished(ctx, published); err != nil {
			p.logger.Error().Err(err).Int("count", len(published)).Msg("failed to mark outbox rows published")
		}
	}
}

// validateAndGroup validates each claimed entry's payload against the
// fixed envelope schema for its topic (delayed topic vs a channel topic),
// logging and skipping invalid rows. A skipped row stays in processing
// until ClaimBatch reclaims it after the claim timeout; its notification
// stays pending and is reported by the recovery cron's orphaned-pending
// pass.
func (p *Poller) validateAndGroup(claimed []*model.OutboxEntry) ([]*model.OutboxEntry, map[string][]*model.OutboxEntry) {
	valid := make([]*model.OutboxEntry, 0, len(claimed))
	byTopic := make(map[string][]*model.OutboxEntry)

	for _, e := range claimed {
		if err := validatePayload(e.Topic, e.Payload); err != nil {
			p.logger.Error().Err(err).Stringer("outbox_id", e.OutboxID).Str("topic", e.Topic).Msg("invalid outbox payload, skipping (left in processing)")
			continue
		}
		valid = append(valid, e)
		byTopic[e.Topic] = append(byTopic[e.Topic], e)
	}
	return valid, byTopic
}

// validatePayload checks the claimed entry's payload decodes into the
// envelope its topic expects.
func validatePayload(topic string, payload []byte) error {
	if topic == model.DelayedTopic {
		var event model.DelayedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("outbox: invalid delayed envelope: %w", err)
		}
		if event.NotificationID == uuid.Nil || event.TargetTopic == "" {
			return fmt.Errorf("outbox: delayed envelope missing required fields")
		}
		return nil
	}

	var event model.ChannelEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("outbox: invalid channel envelope: %w", err)
	}
	if event.NotificationID == uuid.Nil || event.Channel == "" {
		return fmt.Errorf("outbox: channel envelope missing required fields")
	}
	return nil
}

func (p *Poller) cleanupTick(ctx context.Context) {
	before := time.Now().UTC().Add(-time.Duration(p.cfg.RetentionMS) * time.Millisecond)
	deleted, err := p.outbox.DeletePublishedBefore(ctx, before)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to clean up published outbox rows")
		return
	}
	if deleted > 0 {
		p.logger.Info().Int64("deleted", deleted).Msg("cleaned up published outbox rows")
	}
}
