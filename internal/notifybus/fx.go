package notifybus

import "go.uber.org/fx"

// Module provides the shared *Bus to the rest of the application.
var Module = fx.Module("notifybus",
	fx.Provide(New),
)
