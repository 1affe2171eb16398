package eventstore

import "go.uber.org/fx"

// Module provides the shared *Store to the rest of the application.
var Module = fx.Module("eventstore",
	fx.Provide(New),
)
