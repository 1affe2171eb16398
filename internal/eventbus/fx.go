package eventbus

import (
	"github.com/smallbiznis/platformd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newBus(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*Bus, error) {
	return New(lc, cfg.RabbitMQURL, cfg.RabbitMQExchange, log)
}

// Module provides the shared *Bus to the rest of the application.
var Module = fx.Module("eventbus",
	fx.Provide(newBus),
)
