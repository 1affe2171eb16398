package authcache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIDMappingKey(t *testing.T) {
	assert.Equal(t, "keyid_key_1a2b3c", keyIDMappingKey("key_1a2b3c"))
}

func TestAuthenticatedUserRoundTrips(t *testing.T) {
	tenantID := "tenant_1"
	user := AuthenticatedUser{UserID: "user_1", TenantID: &tenantID, Role: "TenantAdmin"}

	encoded, err := json.Marshal(user)
	require.NoError(t, err)

	var decoded AuthenticatedUser
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, user, decoded)
}

func TestAuthenticatedUserOmitsNilTenant(t *testing.T) {
	user := AuthenticatedUser{UserID: "user_1", Role: "PlatformAdmin"}
	encoded, err := json.Marshal(user)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "tenant_id")
}
