package authz

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	en, err := NewEnforcer(db)
	require.NoError(t, err)
	return en
}

func TestEnforcerPlatformAdminCanWriteAnyObject(t *testing.T) {
	en := newTestEnforcer(t)

	allowed, err := en.Enforce(aggregate.RolePlatformAdmin, nil, ObjectTenant, ActionWrite)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEnforcerPilotCannotWriteUser(t *testing.T) {
	en := newTestEnforcer(t)

	allowed, err := en.Enforce(aggregate.RolePilot, nil, ObjectUser, ActionWrite)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEnforcerPilotCanGenerateOwnAPIKey(t *testing.T) {
	en := newTestEnforcer(t)

	allowed, err := en.Enforce(aggregate.RolePilot, nil, ObjectAPIKey, ActionWrite)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEnforcerTenantAdminCannotWriteTenant(t *testing.T) {
	en := newTestEnforcer(t)

	allowed, err := en.Enforce(aggregate.RoleTenantAdmin, nil, ObjectTenant, ActionWrite)
	require.NoError(t, err)
	assert.False(t, allowed)
}
