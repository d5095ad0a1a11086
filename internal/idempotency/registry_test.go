package idempotency

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.Nop()
	cfg := &config.Config{Idempotency: config.IdempotencyConfig{ProcessingTTLSeconds: 300, IdempotencyTTLSeconds: 86400}}
	return NewRegistry(client, cfg, &logger)
}

func TestSetProcessing_FirstClaimSucceeds(t *testing.T) {
	registry := newTestRegistry(t)
	id := uuid.New()

	claimed, err := registry.SetProcessing(context.Background(), id, "worker-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	record, err := registry.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusProcessing, record.Status)
	assert.Equal(t, "worker-1", record.WorkerID)
}

func TestSetProcessing_SameWorkerCanReclaim(t *testing.T) {
	registry := newTestRegistry(t)
	id := uuid.New()

	_, err := registry.SetProcessing(context.Background(), id, "worker-1")
	require.NoError(t, err)

	claimed, err := registry.SetProcessing(context.Background(), id, "worker-1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSetProcessing_DifferentWorkerIsDenied(t *testing.T) {
	registry := newTestRegistry(t)
	id := uuid.New()

	_, err := registry.SetProcessing(context.Background(), id, "worker-1")
	require.NoError(t, err)

	claimed, err := registry.SetProcessing(context.Background(), id, "worker-2")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSetDelivered_RecordsTerminalStatus(t *testing.T) {
	registry := newTestRegistry(t)
	id := uuid.New()

	require.NoError(t, registry.SetDelivered(context.Background(), id))

	record, err := registry.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusDelivered, record.Status)
}

func TestSetFailed_RecordsTerminalStatus(t *testing.T) {
	registry := newTestRegistry(t)
	id := uuid.New()

	require.NoError(t, registry.SetFailed(context.Background(), id))

	record, err := registry.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusFailed, record.Status)
}

func TestGet_ReturnsNilWhenAbsent(t *testing.T) {
	registry := newTestRegistry(t)

	record, err := registry.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, record)
}

// ErrClaimedByOther is declared for callers that prefer an error-based
// API; SetProcessing itself returns a bool and is the path the processor
// uses, so this just guards the sentinel's existence and message.
func TestErrClaimedByOtherIsDefined(t *testing.T) {
	assert.EqualError(t, ErrClaimedByOther, "idempotency: claimed by another worker")
}
