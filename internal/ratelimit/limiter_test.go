package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ilindan-dev/notifyforge/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.Nop()
	limiter := NewLimiter(client, &config.Config{RateLimit: cfg}, &logger)
	return limiter, server
}

func TestConsume_AllowsUpToBucketCapacity(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{DefaultMaxTokens: 2, DefaultRefillPerSecond: 1})

	first, err := limiter.Consume(context.Background(), "email")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	second, err := limiter.Consume(context.Background(), "email")
	require.NoError(t, err)
	require.True(t, second.Allowed)

	third, err := limiter.Consume(context.Background(), "email")
	require.NoError(t, err)
	require.False(t, third.Allowed)
	require.Greater(t, third.RetryAfter, time.Duration(0))
}

func TestConsume_RefillsOverTime(t *testing.T) {
	// The script's "now" comes from the caller's wall clock (not Redis's
	// internal clock), so refill is exercised with a real short sleep
	// rather than miniredis.FastForward.
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{DefaultMaxTokens: 1, DefaultRefillPerSecond: 100})

	first, err := limiter.Consume(context.Background(), "telegram")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	denied, err := limiter.Consume(context.Background(), "telegram")
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	time.Sleep(20 * time.Millisecond)

	refilled, err := limiter.Consume(context.Background(), "telegram")
	require.NoError(t, err)
	require.True(t, refilled.Allowed)
}

func TestConsume_UsesPerChannelOverride(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{
		DefaultMaxTokens:       1,
		DefaultRefillPerSecond: 1,
		Channels: map[string]config.ChannelRateLimitConfig{
			"whatsapp": {MaxTokens: 5, RefillPerSecond: 1},
		},
	})

	for i := 0; i < 5; i++ {
		decision, err := limiter.Consume(context.Background(), "whatsapp")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "attempt %d should be allowed under the override bucket", i)
	}

	denied, err := limiter.Consume(context.Background(), "whatsapp")
	require.NoError(t, err)
	require.False(t, denied.Allowed)
}

func TestConsume_IndependentBucketsPerChannel(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{DefaultMaxTokens: 1, DefaultRefillPerSecond: 1})

	emailDecision, err := limiter.Consume(context.Background(), "email")
	require.NoError(t, err)
	require.True(t, emailDecision.Allowed)

	telegramDecision, err := limiter.Consume(context.Background(), "telegram")
	require.NoError(t, err)
	require.True(t, telegramDecision.Allowed, "a separate channel must have its own bucket")
}
