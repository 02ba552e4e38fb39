package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paynotify/internal/clock"
	"github.com/smallbiznis/paynotify/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepInterval = time.Minute

var Module = fx.Module("dedup",
	fx.Provide(NewGuard),
)

// NewGuard builds the guard selected by DEDUP_BACKEND.
func NewGuard(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) (Guard, error) {
	switch cfg.Dedup.Backend {
	case config.DedupBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     strings.TrimSpace(cfg.Dedup.RedisAddr),
			Password: strings.TrimSpace(cfg.Dedup.RedisPassword),
			DB:       cfg.Dedup.RedisDB,
		})
		guard := NewRedisGuard(client, cfg.Dedup.KeyPrefix, log)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					// fail open at runtime too; the guard is not required for correctness
					log.Warn("redis dedup backend unreachable at startup", zap.Error(err))
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return guard.Close()
			},
		})
		return guard, nil
	case config.DedupBackendMemory, "":
		guard := NewMemoryGuard(clk)
		sweepCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go guard.RunSweeper(sweepCtx, sweepInterval)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				return nil
			},
		})
		return guard, nil
	default:
		return nil, fmt.Errorf("unsupported dedup backend %q", cfg.Dedup.Backend)
	}
}
