package ingress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper marks event ids with SETNX and a TTL so the dedup window
// holds across instances. The TTL is the window: ids older than it may be
// seen again, which matches the bounded-window contract.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func dedupKey(callID, eventID string) string {
	return fmt.Sprintf("ingress:seen:%s:%s", callID, eventID)
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, callID, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(callID, eventID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ingress: redis setnx: %w", err)
	}
	return ok, nil
}

// Forget is a no-op for the Redis window; per-event TTLs expire on their own.
func (d *RedisDeduper) Forget(ctx context.Context, callID string) error {
	return nil
}
