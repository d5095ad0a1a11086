package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/rs/zerolog"
)

// SubmitRequest is one caller-provided intake request, potentially fanning
// out to several channels.
type SubmitRequest struct {
	ClientID    string
	Channels    []string
	Recipient   map[string]string
	Content     map[string]string
	Variables   map[string]string
	WebhookURL  string
	ScheduledAt *time.Time
}

// SubmitResult is the per-channel outcome of a Submit call.
type SubmitResult struct {
	Notifications []*model.Notification
}

// Service orchestrates notification intake (C-intake / §4.1), grounded on
// the teacher's `service.NotificationService.CreateNotification`
// (validate-then-save-then-publish shape, layered zerolog logger),
// generalized to derive one model.Notification per requested channel and
// persist all of them, with their outbox handoff rows, inside a single
// store transaction via SaveManyWithOutbox.
type Service struct {
	repo   repo.NotificationRepository
	logger zerolog.Logger
}

// NewService creates a new intake Service.
func NewService(repo repo.NotificationRepository, logger *zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "intake_service").Logger(),
	}
}

// Submit derives one Notification per requested channel, builds its
// materialized ChannelEvent payload, and persists every Notification +
// OutboxEntry pair atomically. A duplicate (request_id, channel) surfaces
// repository.ErrDuplicateRecord for the whole batch.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if len(req.Channels) == 0 {
		return nil, fmt.Errorf("intake: at least one channel is required")
	}

	requestID := uuid.New()
	pairs := make([]repo.NotificationOutboxPair, 0, len(req.Channels))

	for _, channel := range req.Channels {
		n := model.NewNotification(requestID, req.ClientID, channel, req.Recipient, req.Content, req.Variables, req.WebhookURL, req.ScheduledAt)

		event := model.NewChannelEvent(n)
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("intake: marshal channel event: %w", err)
		}

		topic := model.ChannelTopic(channel)
		if n.IsScheduled() {
			delayedEvent := model.DelayedEvent{
				NotificationID: n.NotificationID,
				RequestID:      n.RequestID,
				ClientID:       n.ClientID,
				TargetTopic:    topic,
				Payload:        payload,
			}
			delayedPayload, err := json.Marshal(delayedEvent)
			if err != nil {
				return nil, fmt.Errorf("intake: marshal delayed envelope: %w", err)
			}
			pairs = append(pairs, repo.NotificationOutboxPair{
				Notification: n,
				Outbox:       model.NewOutboxEntry(n.NotificationID, model.DelayedTopic, delayedPayload),
			})
			continue
		}

		pairs = append(pairs, repo.NotificationOutboxPair{
			Notification: n,
			Outbox:       model.NewOutboxEntry(n.NotificationID, topic, payload),
		})
	}

	created, err := s.repo.SaveManyWithOutbox(ctx, pairs)
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", req.ClientID).Msg("failed to save intake batch")
		return nil, err
	}

	s.logger.Info().Stringer("request_id", requestID).Int("channels", len(created)).Msg("notification intake accepted")
	return &SubmitResult{Notifications: created}, nil
}

// GetByID retrieves a single notification by ID, used by the HTTP status
// read endpoint.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// Retry resets a failed notification back to pending, for the
// operator-driven retry path.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) error {
	return s.repo.ResetForRetry(ctx, id)
}
