// Package command implements the write side of the CQRS split: one
// handler per mutating operation, each loading its aggregate from the
// event store, validating the command against it, appending the
// resulting events, publishing them to the event bus for the projection
// worker, and — where relevant — updating the auth cache so the API
// gateway never has to wait on the projection to catch up.
//
// There is deliberately no Login handler here: this system authenticates
// API keys, not password+session logins, and password verification
// happens in the API-gateway layer before a command ever reaches this
// package (mirroring the SECURITY WARNING in the reference handle_login
// about verifying the password outside the aggregate).
package command

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/eventbus"
	"github.com/smallbiznis/platformd/internal/eventstore"
	"github.com/smallbiznis/platformd/internal/secrets"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	streamTypeUser   = "user"
	streamTypeTenant = "tenant"
)

// EventPublisher is the subset of *eventbus.Bus the handlers need,
// narrowed to an interface so tests can substitute a mock the way the
// rest of this codebase mocks its service dependencies.
type EventPublisher interface {
	Publish(ctx context.Context, msg eventbus.Message) error
}

// AuthCache is the subset of *authcache.Cache the handlers need.
type AuthCache interface {
	Store(ctx context.Context, plainKey, keyID string, user authcache.AuthenticatedUser) error
	Revoke(ctx context.Context, keyID string, log *zap.Logger)
}

// Handlers wires the event store, event bus, auth cache and secrets
// hasher together into the five write operations this system exposes.
type Handlers struct {
	store  *eventstore.Store
	bus    EventPublisher
	cache  AuthCache
	hasher *secrets.Hasher
	readDB *gorm.DB
	ids    *snowflake.Node
	log    *zap.Logger
}

// New builds a Handlers from its collaborators. readDB is the same
// Postgres connection the projection worker writes its read model to —
// used only for the two bootstrap-exception checks below, never for
// anything the aggregates themselves decide.
func New(store *eventstore.Store, bus EventPublisher, cache AuthCache, hasher *secrets.Hasher, readDB *gorm.DB, ids *snowflake.Node, log *zap.Logger) *Handlers {
	return &Handlers{store: store, bus: bus, cache: cache, hasher: hasher, readDB: readDB, ids: ids, log: log}
}

func (h *Handlers) publishEvents(ctx context.Context, routingKey string, events []aggregate.Event, ids []int64) {
	for i, evt := range events {
		var eventID int64
		if i < len(ids) {
			eventID = ids[i]
		}
		if err := h.bus.Publish(ctx, eventbus.Message{
			RoutingKey: routingKey,
			EventType:  evt.Type,
			EventID:    eventID,
			Payload:    evt.Payload,
		}); err != nil {
			h.log.Error("failed to publish event", zap.String("event_type", evt.Type), zap.Error(err))
		}
	}
}

func (h *Handlers) publishUserEvents(ctx context.Context, events []aggregate.Event, ids []int64) {
	h.publishEvents(ctx, eventbus.RoutingKeyUserEvents, events, ids)
}

func (h *Handlers) publishTenantEvents(ctx context.Context, events []aggregate.Event, ids []int64) {
	h.publishEvents(ctx, eventbus.RoutingKeyTenantEvents, events, ids)
}

// IsFirstUser reports whether no user has ever been registered, checked
// against the read model rather than the event store so it stays a cheap
// indexed COUNT rather than a full stream scan. Used to let the very
// first PlatformAdmin register without an existing caller to authorize
// against.
func (h *Handlers) IsFirstUser(ctx context.Context) (bool, error) {
	var count int64
	if err := h.readDB.WithContext(ctx).Table("users_view").Count(&count).Error; err != nil {
		return false, fmt.Errorf("command: count users: %w", err)
	}
	return count == 0, nil
}

// RegisterUserRequest is the caller-facing input to RegisterUser.
// PasswordHash is already Argon2id-hashed by the caller (the API
// gateway), matching HandleRegister's expectation.
type RegisterUserRequest struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	InitialRole  aggregate.Role
	TenantID     *string
}

// RegisterUser creates a brand-new user aggregate and publishes
// UserRegistered. Call IsFirstUser first to decide whether this request
// needs an authenticated, authorized caller at all.
func (h *Handlers) RegisterUser(ctx context.Context, req RegisterUserRequest) (*aggregate.User, error) {
	user := aggregate.NewUser()

	events, err := user.HandleRegister(aggregate.RegisterUserCommand{
		UserID:       req.UserID,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		InitialRole:  req.InitialRole,
		TenantID:     req.TenantID,
	})
	if err != nil {
		return nil, translateAggregateErr(err)
	}

	ids, err := h.store.Append(ctx, streamTypeUser, req.UserID, 0, events)
	if err != nil {
		return nil, translateAggregateErr(err)
	}
	for _, evt := range events {
		if err := user.Apply(evt); err != nil {
			return nil, fmt.Errorf("command: replay register event: %w", err)
		}
	}

	h.publishUserEvents(ctx, events, ids)
	return user, nil
}

// loadUser replays the user stream, returning aggregate.ErrNotFound if it
// has never been appended to.
func (h *Handlers) loadUser(ctx context.Context, userID string) (*aggregate.User, error) {
	user := aggregate.NewUser()
	if err := eventstore.LoadAggregate(ctx, h.store, streamTypeUser, userID, user); err != nil {
		return nil, err
	}
	if user.Version() == 0 {
		return nil, fmt.Errorf("%w: user %s", aggregate.ErrNotFound, userID)
	}
	return user, nil
}

// LoadUser replays userID's event stream, exported so the API gateway can
// verify the caller's current password hash before issuing a
// ChangePassword command — the aggregate never verifies a plaintext
// password itself, it only ever records an already-computed hash.
func (h *Handlers) LoadUser(ctx context.Context, userID string) (*aggregate.User, error) {
	user, err := h.loadUser(ctx, userID)
	if err != nil {
		return nil, translateAggregateErr(err)
	}
	return user, nil
}

// ChangePassword loads the target user, validates and appends
// PasswordChanged, and publishes it.
func (h *Handlers) ChangePassword(ctx context.Context, userID, newPasswordHash string) error {
	user, err := h.loadUser(ctx, userID)
	if err != nil {
		return translateAggregateErr(err)
	}

	events, err := user.HandleChangePassword(aggregate.ChangePasswordCommand{
		UserID:          userID,
		NewPasswordHash: newPasswordHash,
	})
	if err != nil {
		return translateAggregateErr(err)
	}

	ids, err := h.store.Append(ctx, streamTypeUser, userID, user.Version(), events)
	if err != nil {
		return translateAggregateErr(err)
	}

	h.publishUserEvents(ctx, events, ids)
	return nil
}

// GenerateAPIKeyResult carries the one-time plaintext key back to the
// caller — it is never persisted or logged anywhere past this point.
type GenerateAPIKeyResult struct {
	KeyID     string
	PlainText string
}

// GenerateAPIKey issues a fresh API key for userID. The plaintext key and
// its id are generated here, never inside the aggregate, which only ever
// records the key id and its hash — mirroring the reference handler's own
// split between secret generation and event construction. The key id
// itself is a snowflake id, not a random uuid, so key ids sort roughly by
// issuance time the same way the teacher's own row ids do.
//
// Call IsFirstUser's API-key counterpart — user.APIKeyCount() == 0 on the
// freshly loaded aggregate — to decide whether an unauthenticated caller
// may bootstrap their own first key.
func (h *Handlers) GenerateAPIKey(ctx context.Context, userID, keyName string) (*GenerateAPIKeyResult, error) {
	user, err := h.loadUser(ctx, userID)
	if err != nil {
		return nil, translateAggregateErr(err)
	}

	keyID := "key_" + h.ids.Generate().String()
	plainKey, hash, err := h.hasher.GenerateAPIKey(keyID)
	if err != nil {
		return nil, fmt.Errorf("command: generate api key secret: %w", err)
	}

	events, err := user.HandleGenerateAPIKey(aggregate.GenerateAPIKeyCommand{
		UserID:     userID,
		KeyID:      keyID,
		KeyName:    keyName,
		APIKeyHash: hash,
	})
	if err != nil {
		return nil, translateAggregateErr(err)
	}

	ids, err := h.store.Append(ctx, streamTypeUser, userID, user.Version(), events)
	if err != nil {
		return nil, translateAggregateErr(err)
	}

	h.publishUserEvents(ctx, events, ids)

	if err := h.cache.Store(ctx, plainKey, keyID, authcache.AuthenticatedUser{
		UserID:   userID,
		TenantID: user.TenantID(),
		Role:     string(user.Role()),
	}); err != nil {
		h.log.Error("failed to warm auth cache for new api key", zap.String("key_id", keyID), zap.Error(err))
	}

	return &GenerateAPIKeyResult{KeyID: keyID, PlainText: plainKey}, nil
}

// IsFirstAPIKey reports whether userID currently holds no unrevoked API
// key (APIKeyCount skips revoked keys, so this is true again once a user
// has revoked every key), the bootstrap exception that lets a user mint
// their own first key without another caller's authorization.
func (h *Handlers) IsFirstAPIKey(ctx context.Context, userID string) (bool, error) {
	user, err := h.loadUser(ctx, userID)
	if err != nil {
		return false, translateAggregateErr(err)
	}
	return user.APIKeyCount() == 0, nil
}

// RevokeAPIKey loads the target user, validates and appends
// ApiKeyRevoked, publishes it, then best-effort evicts the cached
// plaintext-key/identity mapping — cache eviction never blocks or fails
// the command once the event itself is durable.
func (h *Handlers) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	user, err := h.loadUser(ctx, userID)
	if err != nil {
		return translateAggregateErr(err)
	}

	events, err := user.HandleRevokeAPIKey(aggregate.RevokeAPIKeyCommand{
		UserID: userID,
		KeyID:  keyID,
	})
	if err != nil {
		return translateAggregateErr(err)
	}

	ids, err := h.store.Append(ctx, streamTypeUser, userID, user.Version(), events)
	if err != nil {
		return translateAggregateErr(err)
	}

	h.publishUserEvents(ctx, events, ids)
	h.cache.Revoke(ctx, keyID, h.log)
	return nil
}

// CreateTenant creates a brand-new tenant aggregate and publishes
// TenantCreated.
func (h *Handlers) CreateTenant(ctx context.Context, tenantID, name string) (*aggregate.Tenant, error) {
	tenant := aggregate.NewTenant()

	events, err := tenant.HandleCreate(aggregate.CreateTenantCommand{
		TenantID: tenantID,
		Name:     name,
	})
	if err != nil {
		return nil, translateAggregateErr(err)
	}

	ids, err := h.store.Append(ctx, streamTypeTenant, tenantID, 0, events)
	if err != nil {
		return nil, translateAggregateErr(err)
	}
	for _, evt := range events {
		if err := tenant.Apply(evt); err != nil {
			return nil, fmt.Errorf("command: replay create tenant event: %w", err)
		}
	}

	h.publishTenantEvents(ctx, events, ids)
	return tenant, nil
}
