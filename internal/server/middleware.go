package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/query"
	"github.com/smallbiznis/platformd/internal/secrets"
)

const contextCallerKey = "caller"

// AuthLookup narrows *authcache.Cache to the two methods CallerRequired
// needs — Lookup for the common path, Store to repopulate a cache entry
// that TTL'd out — the same narrow-interface pattern internal/command and
// internal/realtime use for their own collaborators.
type AuthLookup interface {
	Lookup(ctx context.Context, plainKey string) (authcache.AuthenticatedUser, bool, error)
	Store(ctx context.Context, plainKey, keyID string, user authcache.AuthenticatedUser) error
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// resolveCaller resolves the bearer API key against the auth cache into a
// query.Caller. Used both by CallerRequired (every authenticated route)
// and directly by RegisterUser, which is the one route a caller may also
// reach with no bearer token at all — the first-PlatformAdmin bootstrap.
func (s *Server) resolveCaller(c *gin.Context) (query.Caller, error) {
	token := bearerToken(c)
	if token == "" {
		return query.Caller{}, ErrUnauthorized
	}

	identity, ok, err := s.authCache.Lookup(c.Request.Context(), token)
	if err != nil {
		return query.Caller{}, err
	}
	if !ok {
		identity, ok, err = s.rehydrateCache(c.Request.Context(), token)
		if err != nil {
			return query.Caller{}, err
		}
		if !ok {
			return query.Caller{}, ErrUnauthorized
		}
	}

	role, err := aggregate.ParseRole(identity.Role)
	if err != nil {
		return query.Caller{}, ErrUnauthorized
	}

	return query.Caller{UserID: identity.UserID, TenantID: identity.TenantID, Role: role}, nil
}

// rehydrateCache handles an auth-cache miss by resolving token against the
// read model's index on user_api_keys_view.api_key_hash instead of failing
// outright — the cache entry for a still-valid key can age out past its
// TTL long before the key itself is revoked, and this is the only path
// back to an AuthenticatedUser once that happens. A revoked key is never
// re-cached, so it fails here on every request, same as any other 401.
func (s *Server) rehydrateCache(ctx context.Context, token string) (authcache.AuthenticatedUser, bool, error) {
	row, ok, err := s.queries.FindUserByAPIKeyHash(ctx, secrets.HashAPIKey(token))
	if err != nil {
		return authcache.AuthenticatedUser{}, false, err
	}
	if !ok || row.RevokedAt != nil {
		return authcache.AuthenticatedUser{}, false, nil
	}

	identity := authcache.AuthenticatedUser{UserID: row.UserID, TenantID: row.TenantID, Role: row.Role}
	if err := s.authCache.Store(ctx, token, row.KeyID, identity); err != nil {
		return authcache.AuthenticatedUser{}, false, err
	}
	return identity, true, nil
}

// CallerRequired resolves the caller and stashes it in the gin context,
// mirroring the reference gateway's own middleware that injects
// AuthenticatedUser as a request extension ahead of every handler in
// query.rs.
func (s *Server) CallerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := s.resolveCaller(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(contextCallerKey, caller)
		c.Next()
	}
}

// callerFromContext retrieves the caller CallerRequired attached. Handlers
// reachable only through CallerRequired may assume this always succeeds.
func callerFromContext(c *gin.Context) query.Caller {
	caller, _ := c.Get(contextCallerKey)
	return caller.(query.Caller)
}
