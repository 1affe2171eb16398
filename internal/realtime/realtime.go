package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/notifybus"
	"github.com/smallbiznis/platformd/internal/query"
	"github.com/smallbiznis/platformd/internal/secrets"
	"go.uber.org/zap"
)

// AuthLookup is the subset of *authcache.Cache the gateway needs to
// resolve a connecting client's API key, narrowed to an interface so
// tests can substitute a mock instead of a live Redis connection — the
// same pattern internal/command uses for EventPublisher/AuthCache.
type AuthLookup interface {
	Lookup(ctx context.Context, plainKey string) (authcache.AuthenticatedUser, bool, error)
	Store(ctx context.Context, plainKey, keyID string, user authcache.AuthenticatedUser) error
}

// UserLookup is the subset of *query.Service the gateway needs to
// rehydrate an auth-cache miss against the read model.
type UserLookup interface {
	FindUserByAPIKeyHash(ctx context.Context, hash string) (query.APIKeyLookupRow, bool, error)
}

// Gateway upgrades authenticated HTTP requests to websocket connections
// and relays Redis Pub/Sub notifications to them.
type Gateway struct {
	auth     AuthLookup
	users    UserLookup
	bus      *notifybus.Bus
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(auth AuthLookup, users UserLookup, bus *notifybus.Bus, log *zap.Logger) *Gateway {
	return &Gateway{
		auth:  auth,
		users: users,
		bus:   bus,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// resolve looks the presented key up in the auth cache, falling back to
// the read model's user_api_keys_view.api_key_hash index — and
// repopulating the cache — on a miss, mirroring the same fallback
// internal/server's middleware runs for HTTP requests.
func (g *Gateway) resolve(ctx context.Context, key string) (authcache.AuthenticatedUser, bool, error) {
	user, ok, err := g.auth.Lookup(ctx, key)
	if err != nil {
		return authcache.AuthenticatedUser{}, false, err
	}
	if ok {
		return user, true, nil
	}

	row, ok, err := g.users.FindUserByAPIKeyHash(ctx, secrets.HashAPIKey(key))
	if err != nil {
		return authcache.AuthenticatedUser{}, false, err
	}
	if !ok || row.RevokedAt != nil {
		return authcache.AuthenticatedUser{}, false, nil
	}

	user = authcache.AuthenticatedUser{UserID: row.UserID, TenantID: row.TenantID, Role: row.Role}
	if err := g.auth.Store(ctx, key, row.KeyID, user); err != nil {
		return authcache.AuthenticatedUser{}, false, err
	}
	return user, true, nil
}

// apiKeyFromRequest extracts the bearer token from the Authorization
// header, falling back to an api_key query parameter — the same fallback
// ws.rs's WsQuery offers for browser clients that can't set headers on a
// websocket upgrade request.
func apiKeyFromRequest(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(c.Query("api_key"))
}

// Handler upgrades the request and serves the connection until the
// client disconnects, the socket errors, or the idle timeout fires. It
// blocks for the lifetime of the connection, so gin dispatches it on its
// own goroutine per request as usual.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apiKeyFromRequest(c)
		if key == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		user, ok, err := g.resolve(c.Request.Context(), key)
		if err != nil {
			g.log.Error("auth resolution failed during websocket upgrade", zap.Error(err))
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		g.serve(c.Request.Context(), ws, user)
	}
}

func baselineChannels(user authcache.AuthenticatedUser) []string {
	channels := []string{
		notifybus.UserUpdatesChannel(user.UserID),
		notifybus.UserAPIKeysChannel(user.UserID),
	}
	if user.TenantID != nil {
		channels = append(channels, notifybus.TenantUpdatesChannel(*user.TenantID))
	}
	return channels
}

func (g *Gateway) serve(parent context.Context, ws *websocket.Conn, user authcache.AuthenticatedUser) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	channels := baselineChannels(user)
	sub := g.bus.Subscribe(ctx, channels...)
	defer sub.Close()

	c := newConn(ws, user, sub, channels, g.log)
	g.log.Info("websocket connection established", zap.String("conn_id", c.id), zap.String("user_id", user.UserID))

	go c.writeLoop()
	go c.forwardLoop()

	if err := c.readLoop(ctx); err != nil {
		g.log.Warn("websocket read loop failed", zap.String("conn_id", c.id), zap.Error(err))
	}
	c.stop()

	g.log.Info("websocket connection terminated", zap.String("conn_id", c.id))
}
