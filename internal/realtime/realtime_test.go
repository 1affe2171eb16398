package realtime

import (
	"testing"
	"time"

	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/stretchr/testify/assert"
)

func userCtx(userID string, tenantID *string) authcache.AuthenticatedUser {
	return authcache.AuthenticatedUser{UserID: userID, TenantID: tenantID, Role: "TenantAdmin"}
}

func TestValidateChannelOwnUserChannels(t *testing.T) {
	tenant := "t1"
	c := userCtx("u1", &tenant)
	assert.True(t, validateChannel("user:u1:updates", c))
	assert.True(t, validateChannel("user:u1:apikeys", c))
	assert.False(t, validateChannel("user:u2:updates", c))
}

func TestValidateChannelTenantChannel(t *testing.T) {
	tenant := "t1"
	c := userCtx("u1", &tenant)
	assert.True(t, validateChannel("tenant:t1:updates", c))
	assert.False(t, validateChannel("tenant:t2:updates", c))
}

func TestValidateChannelNoTenantRejectsTenantChannel(t *testing.T) {
	c := userCtx("u1", nil)
	assert.False(t, validateChannel("tenant:t1:updates", c))
}

func TestValidateChannelInvalidPatternsRejected(t *testing.T) {
	tenant := "t1"
	c := userCtx("u1", &tenant)
	assert.False(t, validateChannel("user:u1", c))
	assert.False(t, validateChannel("users:u1:updates", c))
	assert.False(t, validateChannel("tenant::updates", c))
	assert.False(t, validateChannel("tenant:t1:other", c))
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(3, 50*time.Millisecond)
	assert.True(t, rl.record())
	assert.True(t, rl.record())
	assert.True(t, rl.record())
	assert.False(t, rl.record())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.record())
}
