package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewBalanceCache),
	fx.Provide(NewLocker),
	fx.Provide(NewRedeemLimiter),
)

// RedeemLimiter throttles redemption attempts per customer.
type RedeemLimiter struct {
	*TokenBucket
}

func NewRedeemLimiter(client *redis.Client, cfg config.Config) *RedeemLimiter {
	return &RedeemLimiter{NewTokenBucket(client, cfg.Redis.RedeemRatePerSec, cfg.Redis.RedeemBurst)}
}

// NewRedisClient returns nil when REDIS_ADDR is unset; every consumer of the
// client treats nil as "cache disabled".
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		log.Info("redis disabled, balance cache and locks are off")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
