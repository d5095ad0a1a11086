package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/idempotency"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifRepo struct {
	claimOK     bool
	updateCalls []model.NotificationStatus
	orphaned    []*model.Notification
}

func (f *fakeNotifRepo) SaveWithOutbox(context.Context, *model.Notification, *model.OutboxEntry) (*model.Notification, error) {
	return nil, nil
}
func (f *fakeNotifRepo) SaveManyWithOutbox(context.Context, []repo.NotificationOutboxPair) ([]*model.Notification, error) {
	return nil, nil
}
func (f *fakeNotifRepo) GetByID(context.Context, uuid.UUID) (*model.Notification, error) {
	return nil, repo.ErrNotFound
}
func (f *fakeNotifRepo) UpdateStatus(_ context.Context, _ uuid.UUID, status model.NotificationStatus, _ int, _ *string) (bool, error) {
	f.updateCalls = append(f.updateCalls, status)
	return true, nil
}
func (f *fakeNotifRepo) ClaimProcessing(context.Context, uuid.UUID) (bool, error) {
	return f.claimOK, nil
}
func (f *fakeNotifRepo) ListStuckProcessing(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}
func (f *fakeNotifRepo) ListOrphanedPending(context.Context, time.Time, int) ([]*model.Notification, error) {
	return f.orphaned, nil
}
func (f *fakeNotifRepo) ResetForRetry(context.Context, uuid.UUID) error { return nil }

type fakeAlertRepo struct {
	upserted []*model.Alert
}

func (f *fakeAlertRepo) Upsert(_ context.Context, a *model.Alert) error {
	f.upserted = append(f.upserted, a)
	return nil
}

func newTestCron(t *testing.T, notifRepo repo.NotificationRepository, alertRepo repo.AlertRepository) *Cron {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.Nop()
	idemCfg := &config.Config{Idempotency: config.IdempotencyConfig{ProcessingTTLSeconds: 300, IdempotencyTTLSeconds: 86400}}
	idemRegistry := idempotency.NewRegistry(client, idemCfg, &logger)

	cfg := &config.Config{
		Recovery: config.RecoveryConfig{BatchSize: 50, ProcessingStuckThresholdMS: 1000, PendingStuckThresholdMS: 1000, MaxConsecutiveFailures: 5},
		Retry:    config.RetryConfig{MaxRetryCount: 3},
	}

	return NewCron(cfg, notifRepo, alertRepo, idemRegistry, nil, &logger)
}

func TestReconcileStuck_MissingRecordRaisesCriticalAlert(t *testing.T) {
	notifRepo := &fakeNotifRepo{claimOK: true}
	alertRepo := &fakeAlertRepo{}
	c := newTestCron(t, notifRepo, alertRepo)

	n := &model.Notification{NotificationID: uuid.New(), Status: model.StatusProcessing, RetryCount: 1}
	err := c.reconcileStuck(context.Background(), n)

	require.NoError(t, err)
	require.Len(t, alertRepo.upserted, 1)
	assert.Equal(t, model.AlertStuckProcessing, alertRepo.upserted[0].AlertType)
	assert.Equal(t, model.SeverityCritical, alertRepo.upserted[0].Severity)
}

func TestReconcileStuck_FailedWithRetriesRemainingRaisesWarningAlert(t *testing.T) {
	notifRepo := &fakeNotifRepo{claimOK: true}
	alertRepo := &fakeAlertRepo{}
	c := newTestCron(t, notifRepo, alertRepo)

	id := uuid.New()
	require.NoError(t, c.idempotency.SetFailed(context.Background(), id))

	n := &model.Notification{NotificationID: id, Status: model.StatusProcessing, RetryCount: 1}
	err := c.reconcileStuck(context.Background(), n)

	require.NoError(t, err)
	require.Len(t, alertRepo.upserted, 1)
	assert.Equal(t, model.SeverityWarning, alertRepo.upserted[0].Severity)
	assert.Empty(t, notifRepo.updateCalls)
}

func TestReconcileStuck_ClaimLostSkipsReconciliation(t *testing.T) {
	notifRepo := &fakeNotifRepo{claimOK: false}
	alertRepo := &fakeAlertRepo{}
	c := newTestCron(t, notifRepo, alertRepo)

	n := &model.Notification{NotificationID: uuid.New(), Status: model.StatusProcessing}
	err := c.reconcileStuck(context.Background(), n)

	require.NoError(t, err)
	assert.Empty(t, alertRepo.upserted)
}

func TestOrphanedPendingPass_UpsertsAlertPerRow(t *testing.T) {
	alertRepo := &fakeAlertRepo{}
	n1 := &model.Notification{NotificationID: uuid.New(), Status: model.StatusPending}
	c := newTestCron(t, &fakeNotifRepo{orphaned: []*model.Notification{n1}}, alertRepo)

	err := c.orphanedPendingPass(context.Background())
	require.NoError(t, err)
	require.Len(t, alertRepo.upserted, 1)
	assert.Equal(t, model.AlertOrphanedPending, alertRepo.upserted[0].AlertType)
	assert.False(t, alertRepo.upserted[0].Resolved)
}

func TestBackoffInterval_DoublesAndCaps(t *testing.T) {
	base := 30 * time.Second
	assert.Equal(t, 2*base, backoffInterval(base, 5, 5))
	assert.Equal(t, 4*base, backoffInterval(base, 10, 5))
	assert.Equal(t, 8*base, backoffInterval(base, 100, 5))
}
