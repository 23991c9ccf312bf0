package auditlog

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "auditlog:seen:"
	dedupeTTL       = 24 * time.Hour
)

// RedisCache shares dedupe marks across replicas via SET NX with a TTL.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb} }

func (c *RedisCache) TryMark(ctx context.Context, identity string) (bool, error) {
	if c.rdb == nil {
		return true, nil
	}
	return c.rdb.SetNX(ctx, dedupeKeyPrefix+identity, 1, dedupeTTL).Result()
}

func (c *RedisCache) Unmark(ctx context.Context, identity string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, dedupeKeyPrefix+identity).Err()
}

// NoopCache never reports a duplicate; the store's conflict handling is the
// only dedupe layer then.
type NoopCache struct{}

func (NoopCache) TryMark(ctx context.Context, identity string) (bool, error) { return true, nil }

func (NoopCache) Unmark(ctx context.Context, identity string) error { return nil }
