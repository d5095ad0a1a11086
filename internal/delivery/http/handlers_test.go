package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/intake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	saved       []*model.Notification
	getResult   *model.Notification
	getErr      error
	resetCalled bool
	resetErr    error
}

func (f *fakeRepo) SaveWithOutbox(context.Context, *model.Notification, *model.OutboxEntry) (*model.Notification, error) {
	return nil, nil
}

func (f *fakeRepo) SaveManyWithOutbox(_ context.Context, pairs []repo.NotificationOutboxPair) ([]*model.Notification, error) {
	created := make([]*model.Notification, 0, len(pairs))
	for _, p := range pairs {
		created = append(created, p.Notification)
	}
	f.saved = created
	return created, nil
}

func (f *fakeRepo) GetByID(context.Context, uuid.UUID) (*model.Notification, error) {
	return f.getResult, f.getErr
}

func (f *fakeRepo) UpdateStatus(context.Context, uuid.UUID, model.NotificationStatus, int, *string) (bool, error) {
	return true, nil
}

func (f *fakeRepo) ClaimProcessing(context.Context, uuid.UUID) (bool, error) { return true, nil }

func (f *fakeRepo) ListStuckProcessing(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeRepo) ListOrphanedPending(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeRepo) ResetForRetry(context.Context, uuid.UUID) error {
	f.resetCalled = true
	return f.resetErr
}

func newTestRouter(repo repo.NotificationRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()
	handlers := NewHandlers(intake.NewService(repo, &logger), &logger)
	router := gin.New()
	handlers.RegisterRoutes(router)
	return router
}

func TestCreateNotification_FansOutPerChannel(t *testing.T) {
	fr := &fakeRepo{}
	router := newTestRouter(fr)

	body, err := json.Marshal(CreateNotificationRequest{
		ClientID:  "client-1",
		Channels:  []string{"email", "whatsapp"},
		Recipient: map[string]string{"to": "a@x.com", "phone_number": "+1555"},
		Content:   map[string]string{"body": "hello"},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/notifications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, 201, w.Code)
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Notifications, 2)
}

func TestCreateNotification_RejectsEmptyChannels(t *testing.T) {
	fr := &fakeRepo{}
	router := newTestRouter(fr)

	body, err := json.Marshal(map[string]any{
		"client_id": "client-1",
		"recipient": map[string]string{"to": "a@x.com"},
		"content":   map[string]string{"body": "hello"},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/notifications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestGetNotificationByID_ReturnsNotFoundForUnknownID(t *testing.T) {
	fr := &fakeRepo{getErr: repo.ErrNotFound}
	router := newTestRouter(fr)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/notifications/"+uuid.New().String(), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestGetNotificationByID_RejectsMalformedID(t *testing.T) {
	fr := &fakeRepo{}
	router := newTestRouter(fr)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/notifications/not-a-uuid", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestRetryNotification_ResetsAndReturnsNoContent(t *testing.T) {
	fr := &fakeRepo{}
	router := newTestRouter(fr)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/notifications/"+uuid.New().String()+"/retry", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, 204, w.Code)
	assert.True(t, fr.resetCalled)
}
