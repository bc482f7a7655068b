package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultSettleResultTTL outlives any realistic retry schedule.
const DefaultSettleResultTTL = 7 * 24 * time.Hour

// SettleResultCache implements ports.SettleResultCache. It keeps successful
// facilitator settle results keyed by settlement id.
type SettleResultCache struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewSettleResultCache creates a Redis-backed settle result cache. A
// non-positive ttl uses DefaultSettleResultTTL.
func NewSettleResultCache(client goredis.Cmdable, ttl time.Duration) *SettleResultCache {
	if ttl <= 0 {
		ttl = DefaultSettleResultTTL
	}
	return &SettleResultCache{
		client: client,
		prefix: "settle_result:",
		ttl:    ttl,
	}
}

// Get returns nil, nil on a miss.
func (c *SettleResultCache) Get(ctx context.Context, settlementID uuid.UUID) (*domain.Settled, error) {
	val, err := c.client.Get(ctx, c.prefix+settlementID.String()).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis settle result get: %w", err)
	}

	var res domain.Settled
	if err := json.Unmarshal(val, &res); err != nil {
		return nil, fmt.Errorf("decode cached settle result: %w", err)
	}
	return &res, nil
}

// Put stores result. An existing entry is left untouched.
func (c *SettleResultCache) Put(ctx context.Context, settlementID uuid.UUID, result domain.Settled) error {
	val, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode settle result: %w", err)
	}
	if err := c.client.SetNX(ctx, c.prefix+settlementID.String(), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis settle result set: %w", err)
	}
	return nil
}
