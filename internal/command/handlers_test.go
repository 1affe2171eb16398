package command

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/eventbus"
	"github.com/smallbiznis/platformd/internal/eventstore"
	"github.com/smallbiznis/platformd/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Mocks --

type busMock struct {
	mock.Mock
}

func (m *busMock) Publish(ctx context.Context, msg eventbus.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type cacheMock struct {
	mock.Mock
}

func (m *cacheMock) Store(ctx context.Context, plainKey, keyID string, user authcache.AuthenticatedUser) error {
	args := m.Called(ctx, plainKey, keyID, user)
	return args.Error(0)
}

func (m *cacheMock) Revoke(ctx context.Context, keyID string, log *zap.Logger) {
	m.Called(ctx, keyID, log)
}

// -- Fixtures --

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_type TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		metadata BLOB NOT NULL,
		occurred_at DATETIME NOT NULL,
		UNIQUE (stream_type, stream_id, version)
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE users_view (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		tenant_id TEXT
	)`).Error)
	return db
}

func newTestHandlers(t *testing.T, bus *busMock, cache *cacheMock) *Handlers {
	t.Helper()
	db := newTestDB(t)
	hasher := secrets.New(secrets.Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32})
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(eventstore.New(db), bus, cache, hasher, db, ids, zap.NewNop())
}

// -- Tests --

func TestRegisterUserPublishesEvent(t *testing.T) {
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.MatchedBy(func(msg eventbus.Message) bool {
		return msg.EventType == aggregate.EventUserRegistered && msg.RoutingKey == eventbus.RoutingKeyUserEvents
	})).Return(nil)

	h := newTestHandlers(t, bus, &cacheMock{})
	tenantID := "tenant-1"

	user, err := h.RegisterUser(context.Background(), RegisterUserRequest{
		UserID:       "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		InitialRole:  aggregate.RoleTenantAdmin,
		TenantID:     &tenantID,
	})

	require.NoError(t, err)
	assert.Equal(t, "user-1", user.AggregateID())
	assert.Equal(t, uint64(1), user.Version())
	bus.AssertExpectations(t)
}

func TestRegisterUserAlreadyExistsIsConflict(t *testing.T) {
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)

	h := newTestHandlers(t, bus, &cacheMock{})
	req := RegisterUserRequest{
		UserID:       "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		InitialRole:  aggregate.RolePlatformAdmin,
	}

	_, err := h.RegisterUser(context.Background(), req)
	require.NoError(t, err)

	_, err = h.RegisterUser(context.Background(), req)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestIsFirstUser(t *testing.T) {
	h := newTestHandlers(t, &busMock{}, &cacheMock{})

	first, err := h.IsFirstUser(context.Background())
	require.NoError(t, err)
	assert.True(t, first)
}

func TestGenerateAPIKeyWarmsCache(t *testing.T) {
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)
	cache := &cacheMock{}
	cache.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.MatchedBy(func(u authcache.AuthenticatedUser) bool {
		return u.UserID == "user-1" && u.Role == string(aggregate.RolePlatformAdmin)
	})).Return(nil)

	h := newTestHandlers(t, bus, cache)
	_, err := h.RegisterUser(context.Background(), RegisterUserRequest{
		UserID:       "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		InitialRole:  aggregate.RolePlatformAdmin,
	})
	require.NoError(t, err)

	result, err := h.GenerateAPIKey(context.Background(), "user-1", "ci-key")
	require.NoError(t, err)
	assert.NotEmpty(t, result.PlainText)
	assert.Contains(t, result.KeyID, "key_")
	cache.AssertExpectations(t)
}

func TestGenerateAPIKeyUnknownUserIsNotFound(t *testing.T) {
	h := newTestHandlers(t, &busMock{}, &cacheMock{})

	_, err := h.GenerateAPIKey(context.Background(), "missing", "ci-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeAPIKeyEvictsCache(t *testing.T) {
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)
	cache := &cacheMock{}
	cache.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	cache.On("Revoke", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return()

	h := newTestHandlers(t, bus, cache)
	_, err := h.RegisterUser(context.Background(), RegisterUserRequest{
		UserID:       "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		InitialRole:  aggregate.RolePlatformAdmin,
	})
	require.NoError(t, err)

	key, err := h.GenerateAPIKey(context.Background(), "user-1", "ci-key")
	require.NoError(t, err)

	err = h.RevokeAPIKey(context.Background(), "user-1", key.KeyID)
	require.NoError(t, err)
	cache.AssertExpectations(t)
}

func TestRevokeAPIKeyAlreadyRevokedIsNotFound(t *testing.T) {
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)
	cache := &cacheMock{}
	cache.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	cache.On("Revoke", mock.Anything, mock.Anything, mock.Anything).Return()

	h := newTestHandlers(t, bus, cache)
	_, err := h.RegisterUser(context.Background(), RegisterUserRequest{
		UserID:       "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		InitialRole:  aggregate.RolePlatformAdmin,
	})
	require.NoError(t, err)

	key, err := h.GenerateAPIKey(context.Background(), "user-1", "ci-key")
	require.NoError(t, err)
	require.NoError(t, h.RevokeAPIKey(context.Background(), "user-1", key.KeyID))

	err = h.RevokeAPIKey(context.Background(), "user-1", key.KeyID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsFirstAPIKey(t *testing.T) {
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)
	h := newTestHandlers(t, bus, &cacheMock{})

	_, err := h.RegisterUser(context.Background(), RegisterUserRequest{
		UserID:       "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		InitialRole:  aggregate.RolePlatformAdmin,
	})
	require.NoError(t, err)

	first, err := h.IsFirstAPIKey(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestCreateTenant(t *testing.T) {
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.MatchedBy(func(msg eventbus.Message) bool {
		return msg.EventType == aggregate.EventTenantCreated && msg.RoutingKey == eventbus.RoutingKeyTenantEvents
	})).Return(nil)

	h := newTestHandlers(t, bus, &cacheMock{})

	tenant, err := h.CreateTenant(context.Background(), "tenant-1", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenant.AggregateID())
	assert.Equal(t, "Acme", tenant.Name())
	bus.AssertExpectations(t)
}

func TestCreateTenantInvalidInput(t *testing.T) {
	h := newTestHandlers(t, &busMock{}, &cacheMock{})

	_, err := h.CreateTenant(context.Background(), "", "Acme")
	assert.ErrorIs(t, err, ErrValidation)
}
