package ratelimit

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(New),
)

func New(client *redis.Client) *TokenBucket {
	return NewTokenBucket(client)
}
