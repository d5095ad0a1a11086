package statusconsumer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/webhook"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	found        bool
	lastStatus   model.NotificationStatus
	lastRetry    int
	lastMessage  *string
	updateCalled bool
}

func (f *fakeRepo) SaveWithOutbox(context.Context, *model.Notification, *model.OutboxEntry) (*model.Notification, error) {
	return nil, nil
}
func (f *fakeRepo) SaveManyWithOutbox(context.Context, []repo.NotificationOutboxPair) ([]*model.Notification, error) {
	return nil, nil
}
func (f *fakeRepo) GetByID(context.Context, uuid.UUID) (*model.Notification, error) {
	return nil, repo.ErrNotFound
}
func (f *fakeRepo) UpdateStatus(_ context.Context, _ uuid.UUID, status model.NotificationStatus, retryCount int, errorMessage *string) (bool, error) {
	f.updateCalled = true
	f.lastStatus = status
	f.lastRetry = retryCount
	f.lastMessage = errorMessage
	return f.found, nil
}
func (f *fakeRepo) ClaimProcessing(context.Context, uuid.UUID) (bool, error) { return true, nil }
func (f *fakeRepo) ListStuckProcessing(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}
func (f *fakeRepo) ListOrphanedPending(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}
func (f *fakeRepo) ResetForRetry(context.Context, uuid.UUID) error { return nil }

func newTestDispatcher(url string) *webhook.Dispatcher {
	logger := zerolog.Nop()
	_ = url
	return webhook.NewDispatcher(&config.Config{Webhook: config.WebhookConfig{TimeoutMS: 1000, MaxRetries: 1, RetryDelayMS: 1}}, &logger)
}

func TestHandleEvent_DeliveredUpdatesStoreAndDispatchesWebhook(t *testing.T) {
	var hookCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hookCalls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fr := &fakeRepo{found: true}
	logger := zerolog.Nop()
	c := NewConsumer(nil, fr, newTestDispatcher(server.URL), &logger)

	c.handleEvent(context.Background(), &model.StatusEvent{
		NotificationID: uuid.New(),
		Channel:        "email",
		Status:         model.OutcomeDelivered,
		WebhookURL:     server.URL,
		CreatedAt:      time.Now(),
	})

	assert.True(t, fr.updateCalled)
	assert.Equal(t, model.StatusDelivered, fr.lastStatus)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hookCalls))
}

func TestHandleEvent_FailedSetsErrorMessage(t *testing.T) {
	fr := &fakeRepo{found: true}
	logger := zerolog.Nop()
	c := NewConsumer(nil, fr, newTestDispatcher(""), &logger)

	msg := "provider rejected recipient"
	c.handleEvent(context.Background(), &model.StatusEvent{
		NotificationID: uuid.New(),
		Channel:        "whatsapp",
		Status:         model.OutcomeFailed,
		Message:        &msg,
		CreatedAt:      time.Now(),
	})

	require.True(t, fr.updateCalled)
	assert.Equal(t, model.StatusFailed, fr.lastStatus)
	require.NotNil(t, fr.lastMessage)
	assert.Equal(t, msg, *fr.lastMessage)
}

func TestHandleEvent_SkipsWebhookWhenNotFound(t *testing.T) {
	var hookCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hookCalls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fr := &fakeRepo{found: false}
	logger := zerolog.Nop()
	c := NewConsumer(nil, fr, newTestDispatcher(server.URL), &logger)

	c.handleEvent(context.Background(), &model.StatusEvent{
		NotificationID: uuid.New(),
		Status:         model.OutcomeDelivered,
		WebhookURL:     server.URL,
	})

	assert.EqualValues(t, 0, atomic.LoadInt32(&hookCalls))
}

func TestHandleEvent_SkipsWebhookWhenURLEmpty(t *testing.T) {
	fr := &fakeRepo{found: true}
	logger := zerolog.Nop()
	c := NewConsumer(nil, fr, newTestDispatcher(""), &logger)

	// Must not panic with a nil consumer/empty URL.
	c.handleEvent(context.Background(), &model.StatusEvent{
		NotificationID: uuid.New(),
		Status:         model.OutcomeFailed,
	})

	assert.True(t, fr.updateCalled)
}
