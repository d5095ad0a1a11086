package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/pkg/keybuilder"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state recorded for a notification's delivery
// attempt in the idempotency registry.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// Record is the value stored under idem:{notification_id}.
type Record struct {
	Status   Status `json:"status"`
	WorkerID string `json:"worker_id,omitempty"`
}

// ErrClaimedByOther names the case where another worker already holds an
// unexpired processing claim on the same notification. SetProcessing
// reports that case as claimed == false and does not return this error.
var ErrClaimedByOther = errors.New("idempotency: claimed by another worker")

// setProcessingScript claims the idempotency key iff it is absent or its
// recorded worker_id matches the caller, implementing compare-and-set
// claim semantics in a single round trip.
//
// KEYS[1] = idem:{id}
// ARGV[1] = worker_id
// ARGV[2] = ttl_seconds
var setProcessingScript = goredis.NewScript(`
local key = KEYS[1]
local workerID = ARGV[1]
local ttl = tonumber(ARGV[2])

local existing = redis.call('GET', key)
if existing then
	local decoded = cjson.decode(existing)
	if decoded.worker_id ~= workerID then
		return 0
	end
end

redis.call('SET', key, cjson.encode({status = 'processing', worker_id = workerID}), 'EX', ttl)
return 1
`)

// Registry implements the idempotency registry (C7) described in
// spec.md §4.5, grounded on the teacher's Redis-client wrapper shape in
// `storage/redis/cache.go` generalized from a single Get/Set/Delete cache
// to a compare-and-set claim primitive via redis.NewScript (the teacher
// itself never needed claim semantics; the script idiom matches the one
// established for the rate limiter and delayed queue).
type Registry struct {
	redis  *goredis.Client
	cfg    config.IdempotencyConfig
	logger zerolog.Logger
}

// NewRegistry creates a new idempotency Registry.
func NewRegistry(redis *goredis.Client, cfg *config.Config, logger *zerolog.Logger) *Registry {
	return &Registry{
		redis:  redis,
		cfg:    cfg.Idempotency,
		logger: logger.With().Str("layer", "idempotency").Logger(),
	}
}

// SetProcessing claims the processing state for id on behalf of workerID.
// claimed is false if another worker already holds an active claim.
func (r *Registry) SetProcessing(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	res, err := setProcessingScript.Run(ctx, r.redis,
		[]string{keybuilder.IdempotencyKey(id)},
		workerID, r.cfg.ProcessingTTLSeconds,
	).Int()
	if err != nil {
		return false, fmt.Errorf("idempotency: set processing: %w", err)
	}
	return res == 1, nil
}

// SetDelivered records the terminal delivered outcome with the longer
// idempotency TTL.
func (r *Registry) SetDelivered(ctx context.Context, id uuid.UUID) error {
	return r.setTerminal(ctx, id, StatusDelivered)
}

// SetFailed records the terminal failed outcome with the longer
// idempotency TTL.
func (r *Registry) SetFailed(ctx context.Context, id uuid.UUID) error {
	return r.setTerminal(ctx, id, StatusFailed)
}

func (r *Registry) setTerminal(ctx context.Context, id uuid.UUID, status Status) error {
	record := Record{Status: status}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: marshal record: %w", err)
	}

	ttl := time.Duration(r.cfg.IdempotencyTTLSeconds) * time.Second
	if err := r.redis.Set(ctx, keybuilder.IdempotencyKey(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: set %s: %w", status, err)
	}
	return nil
}

// Get retrieves the current record for id, or nil if no record exists.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	val, err := r.redis.Get(ctx, keybuilder.IdempotencyKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency: get: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("idempotency: unmarshal record: %w", err)
	}
	return &record, nil
}
