package notifybus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "user:user_1:updates", UserUpdatesChannel("user_1"))
	assert.Equal(t, "user:user_1:apikeys", UserAPIKeysChannel("user_1"))
	assert.Equal(t, "tenant:tenant_1:updates", TenantUpdatesChannel("tenant_1"))
}
