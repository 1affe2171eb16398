// Command apiserver runs the HTTP and websocket gateway: the read/write
// CQRS API plus the realtime subscription endpoint, backed by Postgres,
// Redis and RabbitMQ.
package main

import (
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/authz"
	"github.com/smallbiznis/platformd/internal/config"
	"github.com/smallbiznis/platformd/internal/eventbus"
	"github.com/smallbiznis/platformd/internal/eventstore"
	"github.com/smallbiznis/platformd/internal/migration"
	"github.com/smallbiznis/platformd/internal/notifybus"
	"github.com/smallbiznis/platformd/internal/observability"
	"github.com/smallbiznis/platformd/internal/secrets"
	"github.com/smallbiznis/platformd/internal/server"
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
		eventstore.Module,
		eventbus.Module,
		notifybus.Module,
		authcache.Module,
		authz.Module,
		secrets.Module,
		server.Module,
	).Run()
}
