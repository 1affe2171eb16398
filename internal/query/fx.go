package query

import "go.uber.org/fx"

// Module provides the shared *Service to the rest of the application.
var Module = fx.Module("query", fx.Provide(New))
