package projection

import (
	"context"

	"github.com/smallbiznis/platformd/internal/notifybus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the *Projector and starts its Run loop for the
// lifetime of the application, the same background-consumer shape
// internal/migration and internal/eventbus use for their own fx hooks.
var Module = fx.Module("projection",
	fx.Provide(
		func(bus *notifybus.Bus) Notifier { return bus },
		New,
	),
	fx.Invoke(func(lc fx.Lifecycle, p *Projector, log *zap.Logger) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := p.Run(ctx); err != nil {
						log.Error("projection worker stopped with error", zap.Error(err))
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)
