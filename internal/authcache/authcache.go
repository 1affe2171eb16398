// Package authcache caches the authenticated identity an API key resolves
// to, keyed by the plaintext key itself, plus a reverse key-id-to-plaintext
// mapping used to find and evict a cache entry on revocation. Both entries
// share one TTL (config.Config.RedisAuthCacheTTL, 24h by default — the
// reference handlers hardcode 30 days; this system makes it configurable
// instead).
package authcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AuthenticatedUser is the identity an API key resolves to. It is cached
// verbatim as JSON, keyed by the plaintext key.
type AuthenticatedUser struct {
	UserID   string  `json:"user_id"`
	TenantID *string `json:"tenant_id,omitempty"`
	Role     string  `json:"role"`
}

// Cache wraps the shared redis client with the two key conventions this
// system relies on: plaintext-key -> AuthenticatedUser, and
// keyid_<id> -> plaintext-key.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func keyIDMappingKey(keyID string) string {
	return fmt.Sprintf("keyid_%s", keyID)
}

// Store caches the authenticated identity under the plaintext key, and the
// keyID->plaintext reverse mapping, both with the same TTL. Call this right
// after a GenerateApiKey command is saved and published.
func (c *Cache) Store(ctx context.Context, plainKey, keyID string, user AuthenticatedUser) error {
	encoded, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("authcache: marshal authenticated user: %w", err)
	}

	if err := c.client.Set(ctx, plainKey, encoded, c.ttl).Err(); err != nil {
		return fmt.Errorf("authcache: store auth entry: %w", err)
	}

	if err := c.client.Set(ctx, keyIDMappingKey(keyID), plainKey, c.ttl).Err(); err != nil {
		return fmt.Errorf("authcache: store key id mapping: %w", err)
	}

	return nil
}

// Lookup resolves a plaintext API key to its cached identity. ok is false
// on a cache miss (not an error) — the caller should fall back to the
// event store / read model and re-populate the cache.
func (c *Cache) Lookup(ctx context.Context, plainKey string) (AuthenticatedUser, bool, error) {
	raw, err := c.client.Get(ctx, plainKey).Bytes()
	if err == redis.Nil {
		return AuthenticatedUser{}, false, nil
	}
	if err != nil {
		return AuthenticatedUser{}, false, fmt.Errorf("authcache: lookup: %w", err)
	}

	var user AuthenticatedUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return AuthenticatedUser{}, false, fmt.Errorf("authcache: decode cached entry: %w", err)
	}
	return user, true, nil
}

// Revoke best-effort deletes both the plaintext-keyed auth entry and the
// keyID mapping entry for keyID. By the time this runs, the ApiKeyRevoked
// event has already been saved and published — a cache miss or delete
// failure here is logged, not returned, since the aggregate state is
// already correct and the entries will fall out on TTL regardless.
func (c *Cache) Revoke(ctx context.Context, keyID string, log *zap.Logger) {
	mappingKey := keyIDMappingKey(keyID)

	plainKey, err := c.client.Get(ctx, mappingKey).Result()
	switch {
	case err == redis.Nil:
		log.Warn("key id mapping not found in cache during revocation; assuming already invalid", zap.String("key_id", keyID))
		return
	case err != nil:
		log.Error("cache error looking up key id mapping for revocation; cache invalidation skipped", zap.String("key_id", keyID), zap.Error(err))
		return
	}

	if err := c.client.Del(ctx, mappingKey).Err(); err != nil {
		log.Warn("failed to delete key id mapping from cache; manual cleanup may be needed", zap.String("key_id", keyID), zap.Error(err))
	}
	if err := c.client.Del(ctx, plainKey).Err(); err != nil {
		log.Warn("failed to delete api key auth data from cache; manual cleanup may be needed", zap.String("key_id", keyID), zap.Error(err))
	}
}
