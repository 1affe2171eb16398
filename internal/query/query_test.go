package query

import (
	"testing"

	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePaginationDefaults(t *testing.T) {
	limit, offset := normalizePagination(Pagination{})
	assert.Equal(t, uint32(DefaultLimit), limit)
	assert.Equal(t, uint32(0), offset)
}

func TestNormalizePaginationClampsToMax(t *testing.T) {
	limit, _ := normalizePagination(Pagination{Limit: 10_000})
	assert.Equal(t, uint32(MaxLimit), limit)
}

func TestNormalizePaginationPassesThroughOffset(t *testing.T) {
	limit, offset := normalizePagination(Pagination{Limit: 10, Offset: 40})
	assert.Equal(t, uint32(10), limit)
	assert.Equal(t, uint32(40), offset)
}

func TestTenantsCacheKeyPlatformAdmin(t *testing.T) {
	key := tenantsCacheKey(Caller{Role: aggregate.RolePlatformAdmin})
	assert.Equal(t, "q:v1:tenants:all", key)
}

func TestTenantsCacheKeyScopedToTenant(t *testing.T) {
	tenantID := "tenant-1"
	key := tenantsCacheKey(Caller{Role: aggregate.RoleTenantAdmin, TenantID: &tenantID})
	assert.Equal(t, "q:v1:tenants:tenant:tenant-1", key)
}

func TestUsersCacheKeyPilotIsSelfScoped(t *testing.T) {
	key := usersCacheKey(Caller{Role: aggregate.RolePilot, UserID: "user-1"}, 50, 0)
	assert.Equal(t, "q:v1:users:self:user-1", key)
}

func TestUsersCacheKeyTenantAdminIncludesPagination(t *testing.T) {
	tenantID := "tenant-1"
	key := usersCacheKey(Caller{Role: aggregate.RoleTenantAdmin, TenantID: &tenantID}, 50, 10)
	assert.Equal(t, "q:v1:users:tenant:tenant-1:limit:50:offset:10", key)
}
