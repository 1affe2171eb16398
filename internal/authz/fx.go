package authz

import "go.uber.org/fx"

// Module provides the shared *Enforcer to the rest of the application.
var Module = fx.Module("authz",
	fx.Provide(NewEnforcer),
)
