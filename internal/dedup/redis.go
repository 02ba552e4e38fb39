package dedup

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisGuard shares the window across replicas with SET NX PX.
// Redis failures fail open: the ledger already rejects a second credit.
type RedisGuard struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedisGuard(client *redis.Client, prefix string, log *zap.Logger) *RedisGuard {
	return &RedisGuard{
		client: client,
		prefix: prefix,
		log:    log.Named("dedup.redis"),
	}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) bool {
	if g == nil || g.client == nil {
		return true
	}
	ok, err := g.client.SetNX(ctx, g.prefix+key, "1", ttl).Result()
	if err != nil {
		g.log.Warn("dedup guard unavailable, continuing", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

func (g *RedisGuard) Release(ctx context.Context, key string) {
	if g == nil || g.client == nil {
		return
	}
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		// the key still expires with its ttl
		g.log.Warn("dedup guard release failed", zap.String("key", key), zap.Error(err))
	}
}

func (g *RedisGuard) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
