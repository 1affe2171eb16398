// Command projectionworker consumes the event bus and maintains the
// Postgres read model, publishing live-update notifications over Redis
// Pub/Sub for the websocket gateway to forward.
package main

import (
	"github.com/smallbiznis/platformd/internal/config"
	"github.com/smallbiznis/platformd/internal/eventbus"
	"github.com/smallbiznis/platformd/internal/migration"
	"github.com/smallbiznis/platformd/internal/notifybus"
	"github.com/smallbiznis/platformd/internal/observability"
	"github.com/smallbiznis/platformd/internal/projection"
	"github.com/smallbiznis/platformd/pkg/db"
	"github.com/smallbiznis/platformd/pkg/redisconn"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		config.Module,
		observability.Module,
		db.Module,
		redisconn.Module,
		migration.Module,
		eventbus.Module,
		notifybus.Module,
		projection.Module,
	).Run()
}
