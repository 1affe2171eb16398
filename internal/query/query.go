// Package query implements the read side of the CQRS split: cache-aside
// reads against the Postgres read model internal/projection maintains,
// scoped by caller role the same way the reference gateway's list
// handlers are (handle_list_tenants, handle_list_users,
// handle_list_user_api_keys) — a platform admin sees everything, a
// tenant admin sees their tenant, a pilot sees only themselves.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/internal/authz"
	"github.com/smallbiznis/platformd/pkg/rls"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Cache TTLs, named after and matching the reference gateway's constants
// exactly (TTL_LIST_SECONDS, TTL_SELF_SECONDS, TTL_API_KEYS_SECONDS).
const (
	ttlList    = 45 * time.Second
	ttlSelf    = 60 * time.Second
	ttlAPIKeys = 30 * time.Second
)

// DefaultLimit and MaxLimit bound list-query pagination the same way
// normalize_pagination does.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Pagination is the caller-facing page request; zero values fall back to
// DefaultLimit/0, mirroring normalize_pagination's Option<u32> handling.
type Pagination struct {
	Limit  uint32
	Offset uint32
}

func normalizePagination(p Pagination) (limit, offset uint32) {
	limit = p.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, p.Offset
}

// Caller identifies who is asking, so Service can both authorize and
// scope/cache-key the query the same way the reference handlers read
// AuthenticatedUser out of the request extension.
type Caller struct {
	UserID   string
	TenantID *string
	Role     aggregate.Role
}

// TenantRow, UserRow and APIKeyRow mirror the read model's view tables.
type TenantRow struct {
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserRow struct {
	UserID    string    `json:"user_id"`
	TenantID  *string   `json:"tenant_id,omitempty"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type APIKeyRow struct {
	KeyID     string     `json:"key_id"`
	KeyName   string     `json:"key_name"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ListResult wraps rows with the same pagination envelope query.rs
// returns to its callers.
type ListResult[T any] struct {
	Data       []T `json:"data"`
	Limit      uint32 `json:"limit"`
	Offset     uint32 `json:"offset"`
	Returned   int    `json:"returned"`
}

// Service answers the five read operations with a cache-aside layer in
// front of the Postgres read model.
type Service struct {
	db    *gorm.DB
	cache *redis.Client
	log   *zap.Logger
}

func New(db *gorm.DB, cache *redis.Client, log *zap.Logger) *Service {
	return &Service{db: db, cache: cache, log: log}
}

func (s *Service) getCached(ctx context.Context, key string, dest any) bool {
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.log.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	s.log.Debug("cache hit", zap.String("key", key))
	return true
}

func (s *Service) setCached(ctx context.Context, key string, ttl time.Duration, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, encoded, ttl).Err(); err != nil {
		s.log.Warn("failed to write cache entry", zap.String("key", key), zap.Error(err))
	}
}

// scopedQuery runs fn against a transaction with the Postgres session
// variable RLS policies key off set to caller's tenant, as defense-in-depth
// behind the WHERE-clause scoping each list query already applies. A
// platform admin runs with no tenant set, matching the wildcard-domain
// policies the casbin layer already grants it.
func (s *Service) scopedQuery(ctx context.Context, caller Caller, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if caller.Role != aggregate.RolePlatformAdmin && caller.TenantID != nil {
			if err := rls.WithTenant(tx, *caller.TenantID); err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func tenantsCacheKey(caller Caller) string {
	if caller.Role == aggregate.RolePlatformAdmin {
		return "q:v1:tenants:all"
	}
	if caller.TenantID != nil {
		return fmt.Sprintf("q:v1:tenants:tenant:%s", *caller.TenantID)
	}
	return "q:v1:tenants:none"
}

// ListTenants returns every tenant for a platform admin, or just the
// caller's own tenant otherwise.
func (s *Service) ListTenants(ctx context.Context, caller Caller) (ListResult[TenantRow], error) {
	var result ListResult[TenantRow]
	key := tenantsCacheKey(caller)
	if s.getCached(ctx, key, &result) {
		return result, nil
	}

	if caller.Role != aggregate.RolePlatformAdmin && caller.TenantID == nil {
		return ListResult[TenantRow]{}, authz.ErrForbidden
	}

	var rows []TenantRow
	err := s.scopedQuery(ctx, caller, func(tx *gorm.DB) error {
		q := tx.Table("tenants_view").Select("tenant_id", "name", "created_at", "updated_at").Order("created_at DESC")
		if caller.Role != aggregate.RolePlatformAdmin {
			q = q.Where("tenant_id = ?", *caller.TenantID)
		}
		return q.Scan(&rows).Error
	})
	if err != nil {
		return ListResult[TenantRow]{}, fmt.Errorf("query: list tenants: %w", err)
	}

	result = ListResult[TenantRow]{Data: rows, Returned: len(rows)}
	s.setCached(ctx, key, ttlList, result)
	return result, nil
}

func usersCacheKey(caller Caller, limit, offset uint32) string {
	switch caller.Role {
	case aggregate.RolePlatformAdmin:
		return fmt.Sprintf("q:v1:users:all:limit:%d:offset:%d", limit, offset)
	case aggregate.RoleTenantAdmin:
		if caller.TenantID != nil {
			return fmt.Sprintf("q:v1:users:tenant:%s:limit:%d:offset:%d", *caller.TenantID, limit, offset)
		}
		return fmt.Sprintf("q:v1:users:tenant:none:limit:%d:offset:%d", limit, offset)
	default:
		return fmt.Sprintf("q:v1:users:self:%s", caller.UserID)
	}
}

// ListUsers returns every user for a platform admin, a tenant's users for
// a tenant admin, or just the caller's own row for a pilot.
func (s *Service) ListUsers(ctx context.Context, caller Caller, page Pagination) (ListResult[UserRow], error) {
	limit, offset := normalizePagination(page)
	key := usersCacheKey(caller, limit, offset)

	var result ListResult[UserRow]
	if s.getCached(ctx, key, &result) {
		return result, nil
	}

	if caller.Role == aggregate.RoleTenantAdmin && caller.TenantID == nil {
		return ListResult[UserRow]{}, authz.ErrForbidden
	}

	var rows []UserRow
	err := s.scopedQuery(ctx, caller, func(tx *gorm.DB) error {
		q := tx.Table("users_view").Select("user_id", "tenant_id", "username", "email", "role", "created_at", "updated_at")
		switch caller.Role {
		case aggregate.RolePlatformAdmin:
			q = q.Order("created_at DESC").Limit(int(limit)).Offset(int(offset))
		case aggregate.RoleTenantAdmin:
			q = q.Where("tenant_id = ?", *caller.TenantID).Order("created_at DESC").Limit(int(limit)).Offset(int(offset))
		default:
			q = q.Where("user_id = ?", caller.UserID)
		}
		return q.Scan(&rows).Error
	})
	if err != nil {
		return ListResult[UserRow]{}, fmt.Errorf("query: list users: %w", err)
	}

	result = ListResult[UserRow]{Data: rows, Limit: limit, Offset: offset, Returned: len(rows)}

	ttl := ttlList
	if caller.Role == aggregate.RolePilot {
		ttl = ttlSelf
	}
	s.setCached(ctx, key, ttl, result)
	return result, nil
}

// TargetUserTenant looks up targetUserID's tenant, so a caller outside the
// command package can run the same SelfOrTenantAdmin authorization check
// ListUserAPIKeys runs internally before a GenerateApiKey or RevokeApiKey
// command acts on someone else's account.
func (s *Service) TargetUserTenant(ctx context.Context, targetUserID string) (*string, error) {
	var target struct {
		TenantID *string
	}
	if err := s.db.WithContext(ctx).Table("users_view").Select("tenant_id").Where("user_id = ?", targetUserID).Scan(&target).Error; err != nil {
		return nil, fmt.Errorf("query: load target user: %w", err)
	}
	return target.TenantID, nil
}

// APIKeyLookupRow is what FindUserByAPIKeyHash returns: enough to rebuild
// the authcache.AuthenticatedUser entry the auth cache lost, plus the key
// id and revocation state so the caller can refuse a revoked key instead
// of re-caching it.
type APIKeyLookupRow struct {
	KeyID     string
	UserID    string
	TenantID  *string
	Role      string
	RevokedAt *time.Time
}

// FindUserByAPIKeyHash resolves a presented API key's lookup hash against
// the read model, for the auth-cache-miss fallback: the cache entry for a
// still-valid key can age out past its TTL, and the only way back to an
// AuthenticatedUser at that point is this index on
// user_api_keys_view.api_key_hash joined back to the owning user's role.
// Deliberately unscoped by tenant RLS — the caller's tenant isn't known
// yet, that's the whole point of this lookup.
func (s *Service) FindUserByAPIKeyHash(ctx context.Context, hash string) (APIKeyLookupRow, bool, error) {
	var row APIKeyLookupRow
	err := s.db.WithContext(ctx).Table("user_api_keys_view").
		Select("user_api_keys_view.key_id", "user_api_keys_view.user_id", "user_api_keys_view.tenant_id",
			"user_api_keys_view.revoked_at", "users_view.role").
		Joins("JOIN users_view ON users_view.user_id = user_api_keys_view.user_id").
		Where("user_api_keys_view.api_key_hash = ?", hash).
		Scan(&row).Error
	if err != nil {
		return APIKeyLookupRow{}, false, fmt.Errorf("query: find user by api key hash: %w", err)
	}
	if row.KeyID == "" {
		return APIKeyLookupRow{}, false, nil
	}
	return row, true, nil
}

// ListUserAPIKeys returns the API keys issued to targetUserID, after
// confirming the caller may see them (self, or tenant admin of the
// target's tenant, or platform admin).
func (s *Service) ListUserAPIKeys(ctx context.Context, caller Caller, targetUserID string) (ListResult[APIKeyRow], error) {
	target, err := s.TargetUserTenant(ctx, targetUserID)
	if err != nil {
		return ListResult[APIKeyRow]{}, err
	}

	if err := authz.Authorize(caller.UserID, caller.TenantID, caller.Role,
		authz.SelfOrTenantAdminRequirement(targetUserID, target)); err != nil {
		return ListResult[APIKeyRow]{}, err
	}

	key := fmt.Sprintf("q:v1:user_api_keys:%s", targetUserID)
	var result ListResult[APIKeyRow]
	if s.getCached(ctx, key, &result) {
		return result, nil
	}

	var rows []APIKeyRow
	err = s.db.WithContext(ctx).Table("user_api_keys_view").
		Select("key_id", "label as key_name", "created_at", "revoked_at").
		Where("user_id = ?", targetUserID).
		Order("created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return ListResult[APIKeyRow]{}, fmt.Errorf("query: list user api keys: %w", err)
	}

	result = ListResult[APIKeyRow]{Data: rows, Returned: len(rows)}
	s.setCached(ctx, key, ttlAPIKeys, result)
	return result, nil
}
