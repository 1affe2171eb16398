package authcache

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/platformd/internal/config"
	"go.uber.org/fx"
)

func newCache(client *redis.Client, cfg config.Config) *Cache {
	return New(client, cfg.RedisAuthCacheTTL)
}

// Module provides the shared *Cache to the rest of the application.
var Module = fx.Module("authcache",
	fx.Provide(newCache),
)
