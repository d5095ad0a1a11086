package processor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/idempotency"
	"github.com/ilindan-dev/notifyforge/internal/plugins"
	"github.com/ilindan-dev/notifyforge/internal/ratelimit"
	"github.com/ilindan-dev/notifyforge/internal/storage/kafka"
	redisstore "github.com/ilindan-dev/notifyforge/internal/storage/redis"
	"github.com/rs/zerolog"
)

// sendTimeout bounds a single provider Send call (spec.md §4.6 step 5).
const sendTimeout = 30 * time.Second

// Processor implements the idempotent channel processor (C8, spec.md
// §4.6): one consumer group per channel, a pool of worker goroutines
// pulling from it, and the claim -> rate-limit -> send -> outcome
// pipeline. Grounded on the teacher's `consumer.Consumer` worker-pool
// shape (`Start` spawning `workerCount` goroutines into a `sync.WaitGroup`,
// each running its own receive loop) translated from AMQP channel
// consumption to kafka-go's pull-based `FetchMessage`/`CommitMessages`,
// and on its `calculateExponentialBackoff` formula for the retryable-failure
// path (`5s * 2^retries`, capped at 60s to match the delayed poller).
type Processor struct {
	channel     string
	workerID    string
	workerCount int

	consumer     *kafka.Consumer
	producer     *kafka.Producer
	delayedQueue *redisstore.Queue
	idempotency  *idempotency.Registry
	rateLimiter  *ratelimit.Limiter
	notifRepo    repo.NotificationRepository
	provider     plugins.Provider

	retryCfg config.RetryConfig
	logger   zerolog.Logger
}

// defaultWorkerCount mirrors the teacher's default worker pool size.
const defaultWorkerCount = 5

// NewProcessor creates a new channel Processor.
func NewProcessor(
	cfg *config.Config,
	channel string,
	consumer *kafka.Consumer,
	producer *kafka.Producer,
	delayedQueue *redisstore.Queue,
	idemRegistry *idempotency.Registry,
	rateLimiter *ratelimit.Limiter,
	notifRepo repo.NotificationRepository,
	provider plugins.Provider,
	logger *zerolog.Logger,
) *Processor {
	return &Processor{
		channel:      channel,
		workerID:     cfg.WorkerID,
		workerCount:  defaultWorkerCount,
		consumer:     consumer,
		producer:     producer,
		delayedQueue: delayedQueue,
		idempotency:  idemRegistry,
		rateLimiter:  rateLimiter,
		notifRepo:    notifRepo,
		provider:     provider,
		retryCfg:     cfg.Retry,
		logger:       logger.With().Str("component", "processor").Str("channel", channel).Logger(),
	}
}

// Start launches the worker pool and blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info().Int("workers", p.workerCount).Msg("channel processor starting")

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			p.runWorker(ctx, workerNum)
		}(i + 1)
	}

	wg.Wait()
	p.logger.Info().Msg("channel processor stopped")
}

func (p *Processor) runWorker(ctx context.Context, workerNum int) {
	log := p.logger.With().Int("worker_num", workerNum).Logger()
	log.Info().Msg("processor worker started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("processor worker stopping: context cancelled")
			return
		}

		msg, err := p.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to fetch message, retrying")
			continue
		}

		var event model.ChannelEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal channel event, dropping poison message")
			if err := p.consumer.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("failed to commit poison message")
			}
			continue
		}

		p.handleEvent(ctx, &event, log)

		if err := p.consumer.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Stringer("notification_id", event.NotificationID).Msg("failed to commit message after processing")
		}
	}
}

// handleEvent runs the claim -> rate-limit -> send -> outcome pipeline for
// one ChannelEvent (spec.md §4.6 steps 2-6). The caller commits the bus
// message once this returns, since every branch below leaves either a
// terminal idempotency/store record or a durable requeued retry in place
// first.
func (p *Processor) handleEvent(ctx context.Context, event *model.ChannelEvent, log zerolog.Logger) {
	log = log.With().Stringer("notification_id", event.NotificationID).Int("retry_count", event.RetryCount).Logger()

	n := notificationFromEvent(event)

	if err := p.provider.ValidateNotification(n); err != nil {
		log.Warn().Err(err).Msg("schema validation failed, publishing failed status")
		p.publishStatus(ctx, event, model.OutcomeFailed, err.Error(), log)
		return
	}

	record, err := p.idempotency.Get(ctx, event.NotificationID)
	if err != nil {
		log.Error().Err(err).Msg("failed to read idempotency record, proceeding defensively")
	}
	if record != nil {
		switch record.Status {
		case idempotency.StatusDelivered, idempotency.StatusFailed:
			log.Debug().Str("status", string(record.Status)).Msg("already in a terminal state, skipping re-send")
			return
		}
	}

	claimed, err := p.idempotency.SetProcessing(ctx, event.NotificationID, p.workerID)
	if err != nil {
		log.Error().Err(err).Msg("failed to claim idempotency record")
		return
	}
	if !claimed {
		log.Debug().Msg("claimed by another worker, skipping")
		return
	}

	if _, err := p.notifRepo.UpdateStatus(ctx, event.NotificationID, model.StatusProcessing, event.RetryCount, nil); err != nil {
		log.Error().Err(err).Msg("failed to mark notification processing")
	}

	if !p.awaitRateLimit(ctx, log) {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	result, sendErr := p.provider.Send(sendCtx, n)
	cancel()

	if sendErr == nil {
		p.handleSuccess(ctx, event, result, log)
		return
	}
	p.handleSendError(ctx, event, sendErr, log)
}

// awaitRateLimit loops on the per-channel token bucket until a token is
// granted or ctx is cancelled (spec.md §4.6 step 4).
func (p *Processor) awaitRateLimit(ctx context.Context, log zerolog.Logger) bool {
	for {
		decision, err := p.rateLimiter.Consume(ctx, p.channel)
		if err != nil {
			log.Error().Err(err).Msg("rate limiter consume failed")
			return false
		}
		if decision.Allowed {
			return true
		}

		log.Debug().Dur("retry_after", decision.RetryAfter).Msg("rate limited, sleeping")
		timer := time.NewTimer(decision.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (p *Processor) handleSuccess(ctx context.Context, event *model.ChannelEvent, result plugins.SendResult, log zerolog.Logger) {
	if err := p.idempotency.SetDelivered(ctx, event.NotificationID); err != nil {
		log.Error().Err(err).Msg("failed to record delivered idempotency status")
	}
	log.Info().Str("provider_message_id", result.ProviderMessageID).Msg("notification delivered")
	p.publishStatus(ctx, event, model.OutcomeDelivered, "", log)
}

func (p *Processor) handleSendError(ctx context.Context, event *model.ChannelEvent, sendErr error, log zerolog.Logger) {
	var se *plugins.SendError
	retryable := true // transport/timeout errors with no typed SendError default retryable
	if errors.As(sendErr, &se) {
		retryable = se.Retryable
	}

	if retryable && event.RetryCount < p.retryCfg.MaxRetryCount {
		p.requeueWithBackoff(ctx, event, log)
		return
	}

	message := sendErr.Error()
	if err := p.idempotency.SetFailed(ctx, event.NotificationID); err != nil {
		log.Error().Err(err).Msg("failed to record failed idempotency status")
	}
	log.Warn().Err(sendErr).Msg("notification failed terminally")
	p.publishStatus(ctx, event, model.OutcomeFailed, message, log)
}

// requeueWithBackoff increments retry_count in the store, clears the
// idempotency claim back to processing, and re-enqueues the same event
// onto the delayed queue with a computed backoff so the retry is honoured
// even if a different worker picks it up (resolved open question (b):
// retries always go through the delayed queue, never a second outbox row).
func (p *Processor) requeueWithBackoff(ctx context.Context, event *model.ChannelEvent, log zerolog.Logger) {
	updated := *event
	updated.RetryCount++

	if _, err := p.notifRepo.UpdateStatus(ctx, event.NotificationID, model.StatusProcessing, updated.RetryCount, nil); err != nil {
		log.Error().Err(err).Msg("failed to bump retry_count before requeue")
	}

	if _, err := p.idempotency.SetProcessing(ctx, event.NotificationID, p.workerID); err != nil {
		log.Error().Err(err).Msg("failed to clear idempotency claim to processing before requeue")
	}

	payload, err := json.Marshal(&updated)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal retry event, dropping retry")
		return
	}

	delayedEvent := &model.DelayedEvent{
		NotificationID: event.NotificationID,
		RequestID:      event.RequestID,
		ClientID:       event.ClientID,
		TargetTopic:    model.ChannelTopic(p.channel),
		Payload:        payload,
	}

	backoff := computeBackoff(event.RetryCount)
	if err := p.delayedQueue.Enqueue(ctx, delayedEvent, time.Now().UTC().Add(backoff)); err != nil {
		log.Error().Err(err).Msg("failed to enqueue retry, notification will be recovered by the reconciliation cron")
		return
	}

	log.Info().Dur("backoff", backoff).Int("retry_count", updated.RetryCount).Msg("retry requeued with backoff")
}

func (p *Processor) publishStatus(ctx context.Context, event *model.ChannelEvent, outcome model.DeliveryOutcome, message string, log zerolog.Logger) {
	status := model.StatusEvent{
		NotificationID: event.NotificationID,
		RequestID:      event.RequestID,
		ClientID:       event.ClientID,
		Channel:        p.channel,
		Status:         outcome,
		RetryCount:     event.RetryCount,
		WebhookURL:     event.WebhookURL,
		CreatedAt:      time.Now().UTC(),
	}
	if message != "" {
		status.Message = &message
	}

	payload, err := json.Marshal(status)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal status event")
		return
	}

	msg := kafka.Message{
		Topic: model.StatusTopic,
		Key:   []byte(event.NotificationID.String()),
		Value: payload,
	}
	if err := p.producer.PublishBatch(ctx, []kafka.Message{msg}); err != nil {
		log.Error().Err(err).Msg("failed to publish status event")
	}
}

// notificationFromEvent reconstructs the minimal model.Notification a
// Provider needs from the fully materialized ChannelEvent payload, so the
// processor never needs to read the Notification row back from the store.
func notificationFromEvent(event *model.ChannelEvent) *model.Notification {
	return &model.Notification{
		NotificationID: event.NotificationID,
		RequestID:      event.RequestID,
		ClientID:       event.ClientID,
		Channel:        event.Channel,
		Recipient:      event.Recipient,
		Content:        event.Content,
		Variables:      event.Variables,
		WebhookURL:     event.WebhookURL,
		Status:         model.StatusProcessing,
		RetryCount:     event.RetryCount,
		CreatedAt:      event.CreatedAt,
	}
}

// computeBackoff mirrors the delayed poller's `min(5s * 2^retries, 60s)`
// formula (spec.md §4.3), reused here so retry backoff is consistent
// across both requeue paths.
func computeBackoff(retries int) time.Duration {
	delay := 5.0 * math.Pow(2, float64(retries))
	backoff := time.Duration(delay) * time.Second
	const maxBackoff = 60 * time.Second
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
