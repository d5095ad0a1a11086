package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/pkg/keybuilder"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// consumeScript implements the token-bucket refill-and-consume formula of
// spec.md §4.4 atomically in a single round trip.
//
// KEYS[1] = ratelimit:tokens:{channel}
// KEYS[2] = ratelimit:last_refill:{channel}
// ARGV[1] = now (epoch ms)
// ARGV[2] = max_tokens
// ARGV[3] = refill_per_second
//
// Returns {allowed (0/1), remaining (integer tokens after consume, or
// current integer tokens on denial), retry_after_ms}.
var consumeScript = goredis.NewScript(`
local tokensKey = KEYS[1]
local refillKey = KEYS[2]
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local refillRate = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', tokensKey))
if tokens == nil then
	tokens = max
end
local lastRefill = tonumber(redis.call('GET', refillKey))
if lastRefill == nil then
	lastRefill = now
end

local elapsedSeconds = (now - lastRefill) / 1000.0
local newTokens = math.min(max, tokens + elapsedSeconds * refillRate)

if newTokens >= 1 then
	local remaining = newTokens - 1
	redis.call('SET', tokensKey, remaining)
	redis.call('SET', refillKey, now)
	return {1, math.floor(remaining), 0}
else
	local retryAfterMs = math.ceil((1 - newTokens) * 1000.0 / refillRate)
	return {0, math.floor(newTokens), retryAfterMs}
end
`)

// Decision is the outcome of a single token-bucket Consume call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Config is a token-bucket sizing, as advertised by
// plugins.Provider.RateLimit(). The Limiter does not read provider
// sizings: it uses the RateLimitConfig.Channels entry for a channel, else
// the configured defaults.
type Config struct {
	MaxTokens       float64
	RefillPerSecond float64
}

// Limiter implements the per-channel atomic token-bucket rate limiter (C6),
// grounded on the teacher's Lua-script-via-redis.NewScript idiom already
// established for the delayed queue and idempotency registry (no direct
// teacher equivalent — the teacher carried no rate limiting at all).
type Limiter struct {
	redis  *goredis.Client
	cfg    config.RateLimitConfig
	logger zerolog.Logger
}

// NewLimiter creates a new Limiter.
func NewLimiter(redis *goredis.Client, cfg *config.Config, logger *zerolog.Logger) *Limiter {
	return &Limiter{
		redis:  redis,
		cfg:    cfg.RateLimit,
		logger: logger.With().Str("layer", "ratelimit").Logger(),
	}
}

// Consume attempts to take one token from the named channel's bucket.
// Channel-specific bucket sizing is resolved from config.RateLimitConfig,
// falling back to the configured default.
func (l *Limiter) Consume(ctx context.Context, channel string) (Decision, error) {
	maxTokens, refillRate := l.resolve(channel)

	res, err := consumeScript.Run(ctx, l.redis,
		[]string{keybuilder.RateLimitTokensKey(channel), keybuilder.RateLimitLastRefillKey(channel)},
		time.Now().UTC().UnixMilli(), maxTokens, refillRate,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: consume: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result shape: %#v", res)
	}

	allowed, _ := fields[0].(int64)
	remaining, _ := fields[1].(int64)
	retryAfterMs, _ := fields[2].(int64)

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
	}, nil
}

func (l *Limiter) resolve(channel string) (maxTokens, refillRate float64) {
	if override, ok := l.cfg.Channels[channel]; ok {
		return override.MaxTokens, override.RefillPerSecond
	}
	return l.cfg.DefaultMaxTokens, l.cfg.DefaultRefillPerSecond
}
