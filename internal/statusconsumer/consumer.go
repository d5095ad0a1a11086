package statusconsumer

import (
	"context"
	"encoding/json"

	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/storage/kafka"
	"github.com/ilindan-dev/notifyforge/internal/webhook"
	"github.com/rs/zerolog"
)

// Consumer implements the Status Consumer (C9, spec.md §4.7): a single
// consumer group over the status topic that updates the durable
// Notification row and dispatches the notification's webhook. Structurally
// identical in shape to `internal/processor.Processor` (same
// `FetchMessage`/`CommitMessages` pull loop and zerolog component
// logger), consuming the status topic instead of a channel topic and
// driving the notification repository + webhook dispatcher instead of a
// provider.
type Consumer struct {
	consumer   *kafka.Consumer
	notifRepo  repo.NotificationRepository
	dispatcher *webhook.Dispatcher
	logger     zerolog.Logger
}

// NewConsumer creates a new status Consumer.
func NewConsumer(consumer *kafka.Consumer, notifRepo repo.NotificationRepository, dispatcher *webhook.Dispatcher, logger *zerolog.Logger) *Consumer {
	return &Consumer{
		consumer:   consumer,
		notifRepo:  notifRepo,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "status_consumer").Logger(),
	}
}

// Start runs the receive loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info().Msg("status consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("status consumer stopping: context cancelled")
			return
		}

		msg, err := c.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("failed to fetch status message, retrying")
			continue
		}

		var event model.StatusEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshal status event, dropping poison message")
			if commitErr := c.consumer.CommitMessages(ctx, msg); commitErr != nil {
				c.logger.Error().Err(commitErr).Msg("failed to commit poison status message")
			}
			continue
		}

		c.handleEvent(ctx, &event)

		if commitErr := c.consumer.CommitMessages(ctx, msg); commitErr != nil {
			c.logger.Error().Err(commitErr).Stringer("notification_id", event.NotificationID).Msg("failed to commit status message after processing")
		}
	}
}

// handleEvent applies the terminal status to the store and dispatches the
// webhook, per spec.md §4.7 steps 1-2.
func (c *Consumer) handleEvent(ctx context.Context, event *model.StatusEvent) {
	log := c.logger.With().Stringer("notification_id", event.NotificationID).Str("status", string(event.Status)).Logger()

	status := model.StatusDelivered
	if event.Status == model.OutcomeFailed {
		status = model.StatusFailed
	}

	found, err := c.notifRepo.UpdateStatus(ctx, event.NotificationID, status, event.RetryCount, event.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to update notification status")
		return
	}
	if !found {
		log.Warn().Msg("status event for unknown notification, skipping webhook")
		return
	}

	if event.WebhookURL == "" {
		return
	}

	c.dispatcher.Dispatch(ctx, webhook.Event{
		RequestID:      event.RequestID,
		ClientID:       event.ClientID,
		NotificationID: event.NotificationID,
		Status:         webhookStatusLabel(event.Status),
		Channel:        event.Channel,
		Message:        event.Message,
		OccurredAt:     event.CreatedAt,
	}, event.WebhookURL)
}

func webhookStatusLabel(outcome model.DeliveryOutcome) string {
	if outcome == model.OutcomeDelivered {
		return "DELIVERED"
	}
	return "FAILED"
}
