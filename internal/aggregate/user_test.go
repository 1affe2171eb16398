package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserHandleRegister(t *testing.T) {
	tenantID := "tenant_1"

	u := NewUser()
	events, err := u.HandleRegister(RegisterUserCommand{
		UserID:       "user_1",
		Username:     "ada",
		Email:        "ada@example.com",
		PasswordHash: "hash",
		InitialRole:  RoleTenantAdmin,
		TenantID:     &tenantID,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventUserRegistered, events[0].Type)

	require.NoError(t, u.Apply(events[0]))
	assert.Equal(t, "user_1", u.AggregateID())
	assert.Equal(t, uint64(1), u.Version())
	assert.Equal(t, RoleTenantAdmin, u.Role())
}

func TestUserHandleRegisterAlreadyExists(t *testing.T) {
	tenantID := "tenant_1"
	u := NewUser()
	events, err := u.HandleRegister(RegisterUserCommand{
		UserID: "user_1", Username: "ada", Email: "a@b.com",
		PasswordHash: "hash", InitialRole: RoleTenantAdmin, TenantID: &tenantID,
	})
	require.NoError(t, err)
	require.NoError(t, u.Apply(events[0]))

	_, err = u.HandleRegister(RegisterUserCommand{
		UserID: "user_1", Username: "ada", Email: "a@b.com",
		PasswordHash: "hash", InitialRole: RoleTenantAdmin, TenantID: &tenantID,
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUserHandleRegisterMissingFields(t *testing.T) {
	u := NewUser()
	_, err := u.HandleRegister(RegisterUserCommand{UserID: "user_1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUserHandleRegisterInvalidRole(t *testing.T) {
	u := NewUser()
	_, err := u.HandleRegister(RegisterUserCommand{
		UserID: "user_1", Username: "ada", Email: "a@b.com",
		PasswordHash: "hash", InitialRole: Role("Bogus"),
	})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestUserHandleRegisterNonAdminRequiresTenant(t *testing.T) {
	u := NewUser()
	_, err := u.HandleRegister(RegisterUserCommand{
		UserID: "user_1", Username: "ada", Email: "a@b.com",
		PasswordHash: "hash", InitialRole: RolePilot,
	})
	assert.ErrorIs(t, err, ErrTenantIDRequired)
}

func TestUserHandleRegisterPlatformAdminRejectsTenant(t *testing.T) {
	tenantID := "tenant_1"
	u := NewUser()
	_, err := u.HandleRegister(RegisterUserCommand{
		UserID: "user_1", Username: "root", Email: "root@example.com",
		PasswordHash: "hash", InitialRole: RolePlatformAdmin, TenantID: &tenantID,
	})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func registeredUser(t *testing.T) *User {
	t.Helper()
	tenantID := "tenant_1"
	u := NewUser()
	events, err := u.HandleRegister(RegisterUserCommand{
		UserID: "user_1", Username: "ada", Email: "ada@example.com",
		PasswordHash: "hash", InitialRole: RoleTenantAdmin, TenantID: &tenantID,
	})
	require.NoError(t, err)
	require.NoError(t, u.Apply(events[0]))
	return u
}

func TestUserHandleChangePassword(t *testing.T) {
	u := registeredUser(t)

	events, err := u.HandleChangePassword(ChangePasswordCommand{UserID: "user_1", NewPasswordHash: "new_hash"})
	require.NoError(t, err)
	require.NoError(t, u.Apply(events[0]))
	assert.Equal(t, "new_hash", u.PasswordHash())
}

func TestUserHandleChangePasswordNotFound(t *testing.T) {
	u := registeredUser(t)
	_, err := u.HandleChangePassword(ChangePasswordCommand{UserID: "someone_else", NewPasswordHash: "new_hash"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserHandleChangePasswordEmptyHash(t *testing.T) {
	u := registeredUser(t)
	_, err := u.HandleChangePassword(ChangePasswordCommand{UserID: "user_1", NewPasswordHash: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUserHandleGenerateAndRevokeAPIKey(t *testing.T) {
	u := registeredUser(t)

	events, err := u.HandleGenerateAPIKey(GenerateAPIKeyCommand{
		UserID: "user_1", KeyID: "key_1", KeyName: "ci", APIKeyHash: "hash_1",
	})
	require.NoError(t, err)
	require.NoError(t, u.Apply(events[0]))
	assert.True(t, u.APIKeyActive("key_1"))
	assert.Equal(t, 1, u.APIKeyCount())

	events, err = u.HandleRevokeAPIKey(RevokeAPIKeyCommand{UserID: "user_1", KeyID: "key_1"})
	require.NoError(t, err)
	require.NoError(t, u.Apply(events[0]))
	assert.False(t, u.APIKeyActive("key_1"))
}

func TestUserHandleGenerateAPIKeyNotFound(t *testing.T) {
	u := registeredUser(t)
	_, err := u.HandleGenerateAPIKey(GenerateAPIKeyCommand{UserID: "someone_else", KeyID: "key_1", APIKeyHash: "hash_1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserHandleRevokeAPIKeyNotFound(t *testing.T) {
	u := registeredUser(t)
	_, err := u.HandleRevokeAPIKey(RevokeAPIKeyCommand{UserID: "user_1", KeyID: "nonexistent"})
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestUserHandleRevokeAPIKeyAlreadyRevoked(t *testing.T) {
	u := registeredUser(t)
	events, err := u.HandleGenerateAPIKey(GenerateAPIKeyCommand{UserID: "user_1", KeyID: "key_1", APIKeyHash: "hash_1"})
	require.NoError(t, err)
	require.NoError(t, u.Apply(events[0]))

	events, err = u.HandleRevokeAPIKey(RevokeAPIKeyCommand{UserID: "user_1", KeyID: "key_1"})
	require.NoError(t, err)
	require.NoError(t, u.Apply(events[0]))

	_, err = u.HandleRevokeAPIKey(RevokeAPIKeyCommand{UserID: "user_1", KeyID: "key_1"})
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
}
