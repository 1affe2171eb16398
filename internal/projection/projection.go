// Package projection consumes domain events off the event bus and folds
// them into the Postgres read model (tenants_view, users_view,
// user_api_keys_view), then republishes a notification onto Redis Pub/Sub
// for any websocket connection watching the affected user or tenant.
// Grounded directly on original_source/apps/projection-worker/src/main.rs:
// one durable queue for the projection_worker consumer group, bound to both
// the user and tenant routing keys, same ack-on-success/
// nack-without-requeue-on-error handling, same per-event-type projection
// functions, same notification-channel naming and publish-after-write
// ordering.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/internal/eventbus"
	"github.com/smallbiznis/platformd/internal/notifybus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConsumerGroup names this worker's durable queue on the shared exchange;
// Run binds that one queue to both routing keys.
const ConsumerGroup = "projection_worker"

// Notifier is the subset of *notifybus.Bus the projector needs, narrowed
// to an interface so tests can substitute a mock rather than a live
// Redis connection.
type Notifier interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Projector folds domain events into the read model and republishes
// change notifications.
type Projector struct {
	bus    *eventbus.Bus
	db     *gorm.DB
	notify Notifier
	log    *zap.Logger
}

func New(bus *eventbus.Bus, db *gorm.DB, notify Notifier, log *zap.Logger) *Projector {
	return &Projector{bus: bus, db: db, notify: notify, log: log}
}

// Run subscribes to both the user and tenant event streams and processes
// deliveries until ctx is cancelled. It blocks; call it from its own
// goroutine.
func (p *Projector) Run(ctx context.Context) error {
	userDeliveries, err := p.bus.Subscribe(ctx, ConsumerGroup, eventbus.RoutingKeyUserEvents)
	if err != nil {
		return fmt.Errorf("projection: subscribe to user events: %w", err)
	}

	tenantDeliveries, err := p.bus.Subscribe(ctx, ConsumerGroup, eventbus.RoutingKeyTenantEvents)
	if err != nil {
		return fmt.Errorf("projection: subscribe to tenant events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-userDeliveries:
			if !ok {
				return nil
			}
			p.handle(ctx, d)
		case d, ok := <-tenantDeliveries:
			if !ok {
				return nil
			}
			p.handle(ctx, d)
		}
	}
}

// handle dedups against projection_processed_events, applies the
// projection, and acks or nacks the delivery. A processing error is
// nacked without requeue — the same "log it, don't poison the queue"
// posture the reference worker takes for a failed projection.
func (p *Projector) handle(ctx context.Context, d eventbus.Delivery) {
	already, err := p.alreadyProcessed(ctx, d.EventID)
	if err != nil {
		p.log.Error("failed to check projection dedup table", zap.Int64("event_id", d.EventID), zap.Error(err))
		_ = d.Nack(true)
		return
	}
	if already {
		p.log.Debug("skipping already-processed event", zap.Int64("event_id", d.EventID), zap.String("event_type", d.EventType))
		_ = d.Ack()
		return
	}

	if err := p.project(ctx, d); err != nil {
		p.log.Error("failed to project event", zap.String("event_type", d.EventType), zap.Error(err))
		_ = d.Nack(false)
		return
	}

	if err := p.markProcessed(ctx, d.EventID); err != nil {
		p.log.Error("failed to record projection checkpoint", zap.Int64("event_id", d.EventID), zap.Error(err))
	}

	if err := d.Ack(); err != nil {
		p.log.Error("failed to ack delivery", zap.String("event_type", d.EventType), zap.Error(err))
	}
}

func (p *Projector) alreadyProcessed(ctx context.Context, eventID int64) (bool, error) {
	if eventID == 0 {
		return false, nil
	}
	var count int64
	err := p.db.WithContext(ctx).Table("projection_processed_events").
		Where("consumer_group = ? AND event_id = ?", ConsumerGroup, eventID).
		Count(&count).Error
	return count > 0, err
}

func (p *Projector) markProcessed(ctx context.Context, eventID int64) error {
	if eventID == 0 {
		return nil
	}
	return p.db.WithContext(ctx).Exec(
		`INSERT INTO projection_processed_events (consumer_group, event_id, processed_at) VALUES (?, ?, ?)`,
		ConsumerGroup, eventID, time.Now().UTC(),
	).Error
}

func (p *Projector) project(ctx context.Context, d eventbus.Delivery) error {
	switch d.EventType {
	case aggregate.EventTenantCreated:
		return p.projectTenantCreated(ctx, d.Payload)
	case aggregate.EventUserRegistered:
		return p.projectUserRegistered(ctx, d.Payload)
	case aggregate.EventPasswordChanged:
		return p.projectPasswordChanged(ctx, d.Payload)
	case aggregate.EventAPIKeyGenerated:
		return p.projectAPIKeyGenerated(ctx, d.Payload)
	case aggregate.EventAPIKeyRevoked:
		return p.projectAPIKeyRevoked(ctx, d.Payload)
	default:
		p.log.Warn("received unknown event type", zap.String("event_type", d.EventType))
		return nil
	}
}

// notifyEnvelope mirrors the {event_type, ts, data, meta} envelope the
// reference worker publishes to Redis.
type notifyEnvelope struct {
	EventType string `json:"event_type"`
	Timestamp string `json:"ts"`
	Data      any    `json:"data"`
	Meta      any    `json:"meta"`
}

func (p *Projector) publishNotification(ctx context.Context, channel, eventType string, data, meta any) {
	envelope := notifyEnvelope{EventType: eventType, Timestamp: time.Now().UTC().Format(time.RFC3339), Data: data, Meta: meta}
	payload, err := json.Marshal(envelope)
	if err != nil {
		p.log.Error("failed to encode notification envelope", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := p.notify.Publish(ctx, channel, payload); err != nil {
		p.log.Error("failed to publish notification", zap.String("channel", channel), zap.Error(err))
	}
}

func (p *Projector) projectTenantCreated(ctx context.Context, payload []byte) error {
	var event aggregate.TenantCreatedPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode TenantCreated: %w", err)
	}

	err := p.db.WithContext(ctx).Exec(
		`INSERT INTO tenants_view (tenant_id, name, version, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (tenant_id) DO NOTHING`,
		event.TenantID, event.Name, time.Now().UTC(), time.Now().UTC(),
	).Error
	if err != nil {
		return fmt.Errorf("insert tenants_view: %w", err)
	}

	p.publishNotification(ctx, notifybus.TenantUpdatesChannel(event.TenantID), aggregate.EventTenantCreated, event,
		map[string]any{"tenant_id": event.TenantID, "aggregate_id": event.TenantID})
	return nil
}

func (p *Projector) projectUserRegistered(ctx context.Context, payload []byte) error {
	var event aggregate.UserRegisteredPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode UserRegistered: %w", err)
	}

	err := p.db.WithContext(ctx).Exec(
		`INSERT INTO users_view (user_id, username, email, password_hash, role, tenant_id, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		event.UserID, event.Username, event.Email, event.PasswordHash, string(event.Role), event.TenantID, time.Now().UTC(), time.Now().UTC(),
	).Error
	if err != nil {
		return fmt.Errorf("insert users_view: %w", err)
	}

	p.publishNotification(ctx, notifybus.UserUpdatesChannel(event.UserID), aggregate.EventUserRegistered, event,
		map[string]any{"tenant_id": event.TenantID, "aggregate_id": event.UserID})
	return nil
}

func (p *Projector) projectPasswordChanged(ctx context.Context, payload []byte) error {
	var event aggregate.PasswordChangedPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode PasswordChanged: %w", err)
	}

	err := p.db.WithContext(ctx).Exec(
		`UPDATE users_view SET password_hash = ?, updated_at = ?, version = version + 1 WHERE user_id = ?`,
		event.NewPasswordHash, time.Now().UTC(), event.UserID,
	).Error
	if err != nil {
		return fmt.Errorf("update users_view: %w", err)
	}

	p.publishNotification(ctx, notifybus.UserUpdatesChannel(event.UserID), aggregate.EventPasswordChanged, event,
		map[string]any{"aggregate_id": event.UserID})
	return nil
}

func (p *Projector) projectAPIKeyGenerated(ctx context.Context, payload []byte) error {
	var event aggregate.APIKeyGeneratedPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode ApiKeyGenerated: %w", err)
	}

	var owner struct {
		TenantID *string
	}
	if err := p.db.WithContext(ctx).Table("users_view").Select("tenant_id").Where("user_id = ?", event.UserID).Scan(&owner).Error; err != nil {
		return fmt.Errorf("lookup tenant for api key: %w", err)
	}

	err := p.db.WithContext(ctx).Exec(
		`INSERT INTO user_api_keys_view (key_id, user_id, tenant_id, label, api_key_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key_id) DO NOTHING`,
		event.KeyID, event.UserID, owner.TenantID, event.KeyName, event.APIKeyHash, time.Now().UTC(),
	).Error
	if err != nil {
		return fmt.Errorf("insert user_api_keys_view: %w", err)
	}

	p.publishNotification(ctx, notifybus.UserAPIKeysChannel(event.UserID), aggregate.EventAPIKeyGenerated, event,
		map[string]any{"tenant_id": owner.TenantID, "aggregate_id": event.UserID})
	return nil
}

func (p *Projector) projectAPIKeyRevoked(ctx context.Context, payload []byte) error {
	var event aggregate.APIKeyRevokedPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode ApiKeyRevoked: %w", err)
	}

	result := p.db.WithContext(ctx).Exec(
		`UPDATE user_api_keys_view SET revoked_at = ? WHERE key_id = ? AND user_id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), event.KeyID, event.UserID,
	)
	if result.Error != nil {
		return fmt.Errorf("update user_api_keys_view: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		p.log.Warn("api key not found or already revoked in read model", zap.String("key_id", event.KeyID), zap.String("user_id", event.UserID))
	}

	p.publishNotification(ctx, notifybus.UserAPIKeysChannel(event.UserID), aggregate.EventAPIKeyRevoked, event,
		map[string]any{"aggregate_id": event.UserID})
	return nil
}
