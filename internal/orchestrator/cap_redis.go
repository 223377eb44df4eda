package orchestrator

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"claimline/pkg/utils"
)

// RedisCallerCap bounds simultaneous active calls per caller number across
// all API instances. The counter carries a TTL so a crashed instance cannot
// leak slots forever.
type RedisCallerCap struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisCallerCap(rdb *redis.Client, limit int, ttl time.Duration) *RedisCallerCap {
	if ttl <= 0 {
		// Longer than any reasonable call; expiry is crash cleanup, not policy.
		ttl = 4 * time.Hour
	}
	return &RedisCallerCap{rdb: rdb, limit: limit, ttl: ttl}
}

func (c *RedisCallerCap) key(caller string) string {
	return "calls:active:" + caller
}

func (c *RedisCallerCap) Acquire(ctx context.Context, caller string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, c.rdb, c.key(caller), c.limit, c.ttl)
}

func (c *RedisCallerCap) Release(ctx context.Context, caller string) error {
	return utils.ReleaseConcurrencyCap(ctx, c.rdb, c.key(caller))
}
