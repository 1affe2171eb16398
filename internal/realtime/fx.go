package realtime

import (
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/query"
	"go.uber.org/fx"
)

// Module provides the *Gateway to the rest of the application.
var Module = fx.Module("realtime",
	fx.Provide(
		func(cache *authcache.Cache) AuthLookup { return cache },
		func(svc *query.Service) UserLookup { return svc },
		New,
	),
)
