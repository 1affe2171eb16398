// Package notifybus fans out read-model update notifications over Redis
// Pub/Sub so realtime websocket connections can forward them to clients
// without polling, mirroring the channel-per-subject scheme the reference
// websocket gateway subscribes to (user:{id}:updates, user:{id}:apikeys,
// tenant:{id}:updates).
package notifybus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Bus publishes and subscribes to Redis Pub/Sub channels.
type Bus struct {
	client *redis.Client
}

func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// UserUpdatesChannel is the channel a user's own websocket connection
// auto-subscribes to for profile/role changes.
func UserUpdatesChannel(userID string) string {
	return fmt.Sprintf("user:%s:updates", userID)
}

// UserAPIKeysChannel notifies a user's connections when one of their API
// keys is generated or revoked.
func UserAPIKeysChannel(userID string) string {
	return fmt.Sprintf("user:%s:apikeys", userID)
}

// TenantUpdatesChannel notifies every connection belonging to a tenant of
// tenant-level changes.
func TenantUpdatesChannel(tenantID string) string {
	return fmt.Sprintf("tenant:%s:updates", tenantID)
}

// Publish sends payload (already-encoded JSON) to channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscription wraps a redis.PubSub so callers don't need the go-redis
// import to consume it.
type Subscription struct {
	ps *redis.PubSub
}

// Subscribe opens a Pub/Sub subscription to the given channels.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) *Subscription {
	return &Subscription{ps: b.client.Subscribe(ctx, channels...)}
}

// Channel returns the stream of incoming messages.
func (s *Subscription) Channel() <-chan *redis.Message {
	return s.ps.Channel()
}

// SubscribeChannel adds channel to an already-open subscription — used
// when a websocket client sends a "subscribe" control frame mid-connection.
func (s *Subscription) SubscribeChannel(ctx context.Context, channel string) error {
	return s.ps.Subscribe(ctx, channel)
}

// UnsubscribeChannel removes channel from an already-open subscription.
func (s *Subscription) UnsubscribeChannel(ctx context.Context, channel string) error {
	return s.ps.Unsubscribe(ctx, channel)
}

// Close closes the underlying Pub/Sub connection.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
