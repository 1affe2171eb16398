// Package redisconn provides the single shared *redis.Client used by the
// notification bus, the authenticated-API-key cache, and query caching.
package redisconn

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/platformd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New parses cfg.RedisURL and opens the shared client.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			log.Info("closing redis connection")
			return client.Close()
		},
	})

	return client, nil
}

// Module provides the shared *redis.Client to the rest of the application.
var Module = fx.Module("redisconn",
	fx.Provide(New),
)
