package intake

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotificationRepository is a minimal in-memory stand-in for
// repo.NotificationRepository, sufficient to exercise Service.Submit
// without a live Postgres instance.
type fakeNotificationRepository struct {
	savedPairs []repo.NotificationOutboxPair
	saveErr    error
}

func (f *fakeNotificationRepository) SaveWithOutbox(_ context.Context, n *model.Notification, outbox *model.OutboxEntry) (*model.Notification, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.savedPairs = append(f.savedPairs, repo.NotificationOutboxPair{Notification: n, Outbox: outbox})
	return n, nil
}

func (f *fakeNotificationRepository) SaveManyWithOutbox(_ context.Context, pairs []repo.NotificationOutboxPair) ([]*model.Notification, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.savedPairs = append(f.savedPairs, pairs...)
	out := make([]*model.Notification, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Notification)
	}
	return out, nil
}

func (f *fakeNotificationRepository) GetByID(_ context.Context, _ uuid.UUID) (*model.Notification, error) {
	return nil, repo.ErrNotFound
}

func (f *fakeNotificationRepository) UpdateStatus(_ context.Context, _ uuid.UUID, _ model.NotificationStatus, _ int, _ *string) (bool, error) {
	return true, nil
}

func (f *fakeNotificationRepository) ClaimProcessing(_ context.Context, _ uuid.UUID) (bool, error) {
	return true, nil
}

func (f *fakeNotificationRepository) ListStuckProcessing(_ context.Context, _ time.Time, _ int) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepository) ListOrphanedPending(_ context.Context, _ time.Time, _ int) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepository) ResetForRetry(_ context.Context, _ uuid.UUID) error {
	return nil
}

func newTestService(repo repo.NotificationRepository) *Service {
	logger := zerolog.Nop()
	return NewService(repo, &logger)
}

func TestSubmit_FansOutOnePairPerChannel(t *testing.T) {
	fake := &fakeNotificationRepository{}
	svc := newTestService(fake)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		ClientID:   "client-1",
		Channels:   []string{"email", "whatsapp"},
		Recipient:  map[string]string{"to": "user@example.com", "phone_number": "+15551234567"},
		Content:    map[string]string{"subject": "hi", "body": "hello there"},
		WebhookURL: "https://example.com/webhook",
	})

	require.NoError(t, err)
	require.Len(t, res.Notifications, 2)
	require.Len(t, fake.savedPairs, 2)

	requestID := res.Notifications[0].RequestID
	for _, p := range fake.savedPairs {
		assert.Equal(t, requestID, p.Notification.RequestID)
		assert.Equal(t, model.ChannelTopic(p.Notification.Channel), p.Outbox.Topic)
		assert.Equal(t, model.OutboxPending, p.Outbox.Status)
		assert.NotEmpty(t, p.Outbox.Payload)
	}
}

func TestSubmit_ScheduledNotificationUsesDelayedTopic(t *testing.T) {
	fake := &fakeNotificationRepository{}
	svc := newTestService(fake)

	future := time.Now().Add(time.Hour)
	res, err := svc.Submit(context.Background(), SubmitRequest{
		ClientID:    "client-1",
		Channels:    []string{"telegram"},
		Recipient:   map[string]string{"chat_id": "12345"},
		Content:     map[string]string{"body": "reminder"},
		ScheduledAt: &future,
	})

	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)
	require.Len(t, fake.savedPairs, 1)
	assert.Equal(t, model.DelayedTopic, fake.savedPairs[0].Outbox.Topic)
}

func TestSubmit_RequiresAtLeastOneChannel(t *testing.T) {
	svc := newTestService(&fakeNotificationRepository{})

	_, err := svc.Submit(context.Background(), SubmitRequest{ClientID: "client-1"})
	assert.Error(t, err)
}

func TestSubmit_PropagatesDuplicateRecordError(t *testing.T) {
	fake := &fakeNotificationRepository{saveErr: repo.ErrDuplicateRecord}
	svc := newTestService(fake)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		ClientID:  "client-1",
		Channels:  []string{"email"},
		Recipient: map[string]string{"to": "user@example.com"},
		Content:   map[string]string{"subject": "hi", "body": "hello"},
	})

	assert.ErrorIs(t, err, repo.ErrDuplicateRecord)
}
