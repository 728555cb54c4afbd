package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/pkg/config"
	"github.com/tradejournal/billing/pkg/ratelimit"
)

// NewClient returns nil when redis.addr is unset; rate limiting is then off.
func NewClient(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *config.Config) goredis.UniversalClient {
	if cfg.Redis.Addr == "" {
		l.Infow("redis not configured, rate limiting disabled")
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				// the limiter fails open, so a cold redis must not block startup
				l.Warnw("redis ping failed", "addr", cfg.Redis.Addr, "err", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis client")
			return client.Close()
		},
	})
	return client
}

func NewLimiter(client goredis.UniversalClient) *ratelimit.Limiter {
	return ratelimit.New(client, "billing:rate_limit")
}

var Module = fx.Options(
	fx.Provide(NewClient, NewLimiter),
)
