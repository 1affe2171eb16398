package command

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/eventbus"
	"go.uber.org/fx"
)

// Module provides the shared *Handlers to the rest of the application,
// narrowing the concrete *eventbus.Bus and *authcache.Cache down to the
// interfaces Handlers depends on.
var Module = fx.Module("command",
	fx.Provide(
		func(bus *eventbus.Bus) EventPublisher { return bus },
		func(cache *authcache.Cache) AuthCache { return cache },
		RegisterSnowflake,
		New,
	),
)

// RegisterSnowflake provides the single *snowflake.Node this process
// generates API key ids from, the same node-1 registration the teacher's
// own RegisterSnowflake uses — a single apiserver replica is all this
// system ever runs, so one fixed node id is enough.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
