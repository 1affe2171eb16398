package projection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type notifyMock struct {
	mock.Mock
}

func (m *notifyMock) Publish(ctx context.Context, channel string, payload []byte) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE tenants_view (
		tenant_id TEXT PRIMARY KEY, name TEXT NOT NULL, version INTEGER NOT NULL,
		created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE users_view (
		user_id TEXT PRIMARY KEY, username TEXT NOT NULL, email TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '', role TEXT NOT NULL, tenant_id TEXT, version INTEGER NOT NULL,
		created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE user_api_keys_view (
		key_id TEXT PRIMARY KEY, user_id TEXT NOT NULL, tenant_id TEXT,
		label TEXT NOT NULL DEFAULT '', api_key_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL, revoked_at DATETIME
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE projection_processed_events (
		consumer_group TEXT NOT NULL, event_id INTEGER NOT NULL, processed_at DATETIME NOT NULL,
		PRIMARY KEY (consumer_group, event_id)
	)`).Error)
	return db
}

func newTestProjector(t *testing.T, notify *notifyMock) (*Projector, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return New(nil, db, notify, zap.NewNop()), db
}

func TestProjectTenantCreatedInsertsRowAndNotifies(t *testing.T) {
	notify := &notifyMock{}
	notify.On("Publish", mock.Anything, "tenant:tenant-1:updates", mock.Anything).Return(nil)

	p, db := newTestProjector(t, notify)
	payload, _ := json.Marshal(aggregate.TenantCreatedPayload{TenantID: "tenant-1", Name: "Acme", Timestamp: "2026-01-01T00:00:00Z"})

	require.NoError(t, p.projectTenantCreated(context.Background(), payload))

	var count int64
	require.NoError(t, db.Table("tenants_view").Where("tenant_id = ?", "tenant-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
	notify.AssertExpectations(t)
}

func TestProjectUserRegisteredIsIdempotentOnConflict(t *testing.T) {
	notify := &notifyMock{}
	notify.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p, db := newTestProjector(t, notify)
	payload, _ := json.Marshal(aggregate.UserRegisteredPayload{UserID: "user-1", Username: "ada", Email: "a@b.com", PasswordHash: "h", Role: aggregate.RolePlatformAdmin})

	require.NoError(t, p.projectUserRegistered(context.Background(), payload))
	require.NoError(t, p.projectUserRegistered(context.Background(), payload))

	var count int64
	require.NoError(t, db.Table("users_view").Where("user_id = ?", "user-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProjectAPIKeyRevokedMarksRowRevoked(t *testing.T) {
	notify := &notifyMock{}
	notify.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p, db := newTestProjector(t, notify)
	require.NoError(t, db.Exec(`INSERT INTO users_view (user_id, username, email, role, version, created_at, updated_at)
		VALUES ('user-1', 'ada', 'a@b.com', 'PlatformAdmin', 1, datetime('now'), datetime('now'))`).Error)

	genPayload, _ := json.Marshal(aggregate.APIKeyGeneratedPayload{UserID: "user-1", KeyID: "key_1", KeyName: "ci"})
	require.NoError(t, p.projectAPIKeyGenerated(context.Background(), genPayload))

	revPayload, _ := json.Marshal(aggregate.APIKeyRevokedPayload{UserID: "user-1", KeyID: "key_1"})
	require.NoError(t, p.projectAPIKeyRevoked(context.Background(), revPayload))

	var row struct {
		RevokedAt *string
	}
	require.NoError(t, db.Table("user_api_keys_view").Select("revoked_at").Where("key_id = ?", "key_1").Scan(&row).Error)
	assert.NotNil(t, row.RevokedAt)
}

func TestAlreadyProcessedSkipsDuplicateEventID(t *testing.T) {
	p, _ := newTestProjector(t, &notifyMock{})
	ctx := context.Background()

	already, err := p.alreadyProcessed(ctx, 42)
	require.NoError(t, err)
	assert.False(t, already)

	require.NoError(t, p.markProcessed(ctx, 42))

	already, err = p.alreadyProcessed(ctx, 42)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestAlreadyProcessedIgnoresZeroEventID(t *testing.T) {
	p, _ := newTestProjector(t, &notifyMock{})

	already, err := p.alreadyProcessed(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, already)
}
