package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/hospital-scheduling/internal/scheduling"
)

type kvClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
}

// AvailabilityCache keeps each clinician's available slots as one JSON
// value next to a generation counter. Invalidate bumps the counter and
// drops the value; a fill only lands if the counter has not moved since
// the reader sampled it.
type AvailabilityCache struct {
	client kvClient
	ttl    time.Duration
}

var _ scheduling.AvailabilityCache = (*AvailabilityCache)(nil)

func NewAvailabilityCache(client kvClient, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(clinicianID uuid.UUID) string {
	return fmt.Sprintf("availability:clinician:%s", clinicianID.String())
}

func generationKey(clinicianID uuid.UUID) string {
	return availabilityKey(clinicianID) + ":gen"
}

// KEYS[1] generation, KEYS[2] value; ARGV[1] expected generation,
// ARGV[2] payload, ARGV[3] ttl in milliseconds
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1])
if not gen then
  gen = "0"
end
if gen ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// KEYS[1] generation, KEYS[2] value
var invalidateScript = redis.NewScript(`
redis.call("INCR", KEYS[1])
return redis.call("DEL", KEYS[2])
`)

func (c *AvailabilityCache) GetAvailable(ctx context.Context, clinicianID uuid.UUID) ([]scheduling.Slot, bool, error) {
	raw, err := c.client.Get(ctx, availabilityKey(clinicianID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get availability: %w", err)
	}

	var slots []scheduling.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false, fmt.Errorf("decode availability: %w", err)
	}
	return slots, true, nil
}

func (c *AvailabilityCache) Generation(ctx context.Context, clinicianID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(clinicianID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get availability generation: %w", err)
	}
	return gen, nil
}

func (c *AvailabilityCache) SetAvailable(ctx context.Context, clinicianID uuid.UUID, gen int64, slots []scheduling.Slot) error {
	if c.ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}
	keys := []string{generationKey(clinicianID), availabilityKey(clinicianID)}
	err = fillScript.Run(ctx, c.client, keys, gen, raw, c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, clinicianIDs ...uuid.UUID) error {
	for _, id := range clinicianIDs {
		keys := []string{generationKey(id), availabilityKey(id)}
		if err := invalidateScript.Run(ctx, c.client, keys).Err(); err != nil {
			return fmt.Errorf("invalidate availability: %w", err)
		}
	}
	return nil
}
