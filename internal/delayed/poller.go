package delayed

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	"github.com/ilindan-dev/notifyforge/internal/storage/kafka"
	redisstore "github.com/ilindan-dev/notifyforge/internal/storage/redis"
	"github.com/rs/zerolog"
)

// Poller implements the delayed-queue side of C5 (spec.md §4.3): claims
// due events from the Redis sorted set, routes each to its target channel
// topic, and confirms or reschedules with backoff. Grounded on the
// teacher's `internal/consumer/consumer.go` Start/ticker shape and its
// `calculateExponentialBackoff` formula (here the base and cap come from
// spec.md §4.3 directly: `min(5s * 2^retries, 60s)`).
type Poller struct {
	cfg      config.DelayedConfig
	workerID string
	queue    *redisstore.Queue
	producer *kafka.Producer
	logger   zerolog.Logger

	polling atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a new delayed-queue Poller.
func NewPoller(cfg *config.Config, queue *redisstore.Queue, producer *kafka.Producer, logger *zerolog.Logger) *Poller {
	return &Poller{
		cfg:      cfg.Delayed,
		workerID: cfg.WorkerID,
		queue:    queue,
		producer: producer,
		logger:   logger.With().Str("component", "delayed_poller").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// IsRunning reports whether a claim-and-process tick is currently in flight.
func (p *Poller) IsRunning() bool {
	return p.polling.Load()
}

// Start runs the claim loop until Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(time.Duration(p.cfg.PollIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	p.logger.Info().Str("worker_id", p.workerID).Msg("delayed poller started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("delayed poller stopping: context cancelled")
			return
		case <-p.stopCh:
			p.logger.Info().Msg("delayed poller stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stop signals the poller to exit and waits (bounded) for the in-flight
// tick to finish.
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

	claimTTL := time.Duration(p.cfg.ClaimTTLSeconds) * time.Second
	claimed, err := p.queue.Claim(ctx, p.workerID, p.cfg.BatchSize, claimTTL)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to claim delayed batch")
		return
	}

	// Sequential processing per tick, per spec.md §4.3.
	for _, c := range claimed {
		p.processOne(ctx, c)
	}
}

func (p *Poller) processOne(ctx context.Context, c redisstore.ClaimedEvent) {
	event := c.Event
	log := p.logger.With().Stringer("notification_id", event.NotificationID).Int("poller_retries", event.PollerRetries).Logger()

	if event.PollerRetries >= p.cfg.MaxPollerRetries {
		if err := p.publishFailureStatus(ctx, event); err != nil {
			log.Error().Err(err).Msg("failed to publish dead-letter failure status, leaving claim for retry")
			return
		}
		p.confirm(ctx, c, log)
		return
	}

	msg := kafka.Message{
		Topic: event.TargetTopic,
		Key:   []byte(event.NotificationID.String()),
		Value: event.Payload,
	}

	if err := p.producer.PublishBatch(ctx, []kafka.Message{msg}); err != nil {
		log.Warn().Err(err).Msg("publish failed, rescheduling with backoff")
		backoff := computeBackoff(event.PollerRetries)
		if err := p.queue.Reschedule(ctx, c, time.Now().UTC().Add(backoff)); err != nil {
			log.Error().Err(err).Msg("failed to reschedule delayed event")
		}
		return
	}

	p.confirm(ctx, c, log)
}

func (p *Poller) confirm(ctx context.Context, c redisstore.ClaimedEvent, log zerolog.Logger) {
	confirmed, err := p.queue.Confirm(ctx, p.workerID, c)
	if err != nil {
		log.Error().Err(err).Msg("failed to confirm delayed event")
		return
	}
	if !confirmed {
		log.Warn().Msg("claim lost to another worker or expired; leaving member in place to re-fire")
	}
}

// publishFailureStatus publishes a terminal failure StatusEvent once the
// dead-letter threshold is crossed, per spec.md §4.3 step 1.
func (p *Poller) publishFailureStatus(ctx context.Context, event *model.DelayedEvent) error {
	reason := "max poller retries exceeded"
	status := model.StatusEvent{
		NotificationID: event.NotificationID,
		RequestID:      event.RequestID,
		ClientID:       event.ClientID,
		Channel:        channelFromTopic(event.TargetTopic),
		Status:         model.OutcomeFailed,
		Message:        &reason,
		RetryCount:     event.PollerRetries,
		CreatedAt:      time.Now().UTC(),
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}

	return p.producer.PublishBatch(ctx, []kafka.Message{{
		Topic: model.StatusTopic,
		Key:   []byte(event.NotificationID.String()),
		Value: payload,
	}})
}

// channelFromTopic recovers the channel name from a "<channel>_notification" topic.
func channelFromTopic(topic string) string {
	return strings.TrimSuffix(topic, "_notification")
}

// computeBackoff implements spec.md §4.3's `min(5s * 2^retries, 60s)`.
func computeBackoff(retries int) time.Duration {
	delay := 5.0 * math.Pow(2, float64(retries))
	backoff := time.Duration(delay) * time.Second
	const maxBackoff = 60 * time.Second
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
