package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/authz"
	"github.com/smallbiznis/platformd/internal/command"
	"github.com/smallbiznis/platformd/internal/observability"
	obsmiddleware "github.com/smallbiznis/platformd/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/platformd/internal/observability/metrics"
	obstracing "github.com/smallbiznis/platformd/internal/observability/tracing"
	"github.com/smallbiznis/platformd/internal/query"
	"github.com/smallbiznis/platformd/internal/ratelimit"
	"github.com/smallbiznis/platformd/internal/realtime"
	"github.com/smallbiznis/platformd/internal/secrets"
	"go.uber.org/fx"
)

// Module wires the HTTP gateway: the gin engine and its ambient
// middleware stack, the CQRS command/query services, the websocket
// gateway and the pure/coarse authorization layers they're all
// authorized against.
// authz.Module is intentionally not included here: it provides the
// shared *authz.Enforcer this package consumes, but apps/apiserver also
// needs authz.Module's casbin model wired ahead of anything else that
// touches the database, so the entrypoint owns that include instead of
// this package duplicating it.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	command.Module,
	query.Module,
	realtime.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

// classifyErrorForLog gives the request-logging middleware a coarse
// (type, code) pair for whatever error a handler attached, reusing the
// same dispatch mapError already runs for the HTTP response itself.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Server holds the gin engine and every collaborator the HTTP handlers in
// this package call into.
type Server struct {
	engine    *gin.Engine
	handlers  *command.Handlers
	queries   *query.Service
	gateway   *realtime.Gateway
	authCache AuthLookup
	enforcer  *authz.Enforcer
	hasher    *secrets.Hasher
	limiter   *ratelimit.TokenBucket
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Handlers  *command.Handlers
	Queries   *query.Service
	Gateway   *realtime.Gateway
	AuthCache *authcache.Cache
	Enforcer  *authz.Enforcer
	Hasher    *secrets.Hasher
	Limiter   *ratelimit.TokenBucket
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:    p.Gin,
		handlers:  p.Handlers,
		queries:   p.Queries,
		gateway:   p.Gateway,
		authCache: p.AuthCache,
		enforcer:  p.Enforcer,
		hasher:    p.Hasher,
		limiter:   p.Limiter,
	}

	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.POST("/users", s.RegisterUser)
	api.GET("/users", s.CallerRequired(), s.ListUsers)
	api.POST("/users/:user_id/password", s.CallerRequired(), s.ChangePassword)
	api.GET("/users/:user_id/apikeys", s.CallerRequired(), s.ListUserAPIKeys)
	api.POST("/users/:user_id/apikeys", s.CallerRequired(), s.GenerateAPIKey)
	api.DELETE("/users/:user_id/apikeys/:key_id", s.CallerRequired(), s.RevokeAPIKey)

	api.POST("/tenants", s.CallerRequired(), s.CreateTenant)
	api.GET("/tenants", s.CallerRequired(), s.ListTenants)

	s.engine.GET("/ws", s.gateway.Handler())
}

// enforce runs the secondary, coarse-grained casbin check on top of the
// pure per-request authz.Authorize decision already made by the caller.
func (s *Server) enforce(caller query.Caller, object, action string) error {
	allowed, err := s.enforcer.Enforce(caller.Role, caller.TenantID, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		return authz.ErrForbidden
	}
	return nil
}

// rateLimited draws one token from a bucket keyed by route and client IP,
// bounding abuse of registration and API-key issuance independently of
// whatever authorization decision the caller already passed.
func (s *Server) rateLimited(c *gin.Context, bucket string, rate float64, burst int) bool {
	if s.limiter == nil {
		return false
	}
	key := "rl:" + bucket + ":" + c.ClientIP()
	result, err := s.limiter.Allow(c.Request.Context(), key, rate, burst)
	if err != nil {
		return false
	}
	return !result.Allowed
}

func newID() string {
	return uuid.New().String()
}

func queryUint(c *gin.Context, name string) uint32 {
	raw := c.Query(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(value)
}
