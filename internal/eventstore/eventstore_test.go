package eventstore

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, conn.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_type TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		occurred_at TIMESTAMP NOT NULL,
		UNIQUE (stream_type, stream_id, version)
	)`).Error)

	return New(conn)
}

func TestAppendAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []aggregate.Event{
		{Type: "UserRegistered", Payload: []byte(`{"user_id":"user_1"}`)},
		{Type: "PasswordChanged", Payload: []byte(`{"user_id":"user_1"}`)},
	}

	ids, err := store.Append(ctx, "user", "user_1", 0, events)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Greater(t, ids[1], ids[0])

	loaded, err := store.Load(ctx, "user", "user_1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "UserRegistered", loaded[0].Type)
	assert.Equal(t, "PasswordChanged", loaded[1].Type)

	version, err := store.CurrentVersion(ctx, "user", "user_1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
}

func TestAppendConcurrencyConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []aggregate.Event{{Type: "UserRegistered", Payload: []byte(`{}`)}}
	_, err := store.Append(ctx, "user", "user_1", 0, events)
	require.NoError(t, err)

	// Another writer believes the stream is still at version 0.
	_, err = store.Append(ctx, "user", "user_1", 0, events)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestLoadAggregateReplaysEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []aggregate.Event{
		{Type: "UserRegistered", Payload: []byte(`{"user_id":"user_1","username":"ada","email":"a@b.com","password_hash":"h","role":"TenantAdmin","tenant_id":"tenant_1"}`)},
	}
	_, err := store.Append(ctx, "user", "user_1", 0, events)
	require.NoError(t, err)

	u := aggregate.NewUser()
	require.NoError(t, LoadAggregate(ctx, store, "user", "user_1", u))
	assert.Equal(t, "user_1", u.AggregateID())
	assert.Equal(t, uint64(1), u.Version())
}
