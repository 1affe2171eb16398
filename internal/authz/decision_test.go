package authz

import (
	"testing"

	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/stretchr/testify/assert"
)

func TestAuthorizePlatformAdminOnly(t *testing.T) {
	req := PlatformAdminOnlyRequirement()

	assert.NoError(t, Authorize("u1", nil, aggregate.RolePlatformAdmin, req))
	assert.ErrorIs(t, Authorize("u1", nil, aggregate.RoleTenantAdmin, req), ErrForbidden)
	assert.ErrorIs(t, Authorize("u1", nil, aggregate.RolePilot, req), ErrForbidden)
}

func TestAuthorizeSelfOrTenantAdminPlatformAdminAlwaysPasses(t *testing.T) {
	tenantID := "tenant_2"
	req := SelfOrTenantAdminRequirement("u2", &tenantID)
	assert.NoError(t, Authorize("u1", nil, aggregate.RolePlatformAdmin, req))
}

func TestAuthorizeSelfOrTenantAdminSelfMatch(t *testing.T) {
	req := SelfOrTenantAdminRequirement("u1", nil)
	assert.NoError(t, Authorize("u1", nil, aggregate.RolePilot, req))
}

func TestAuthorizeSelfOrTenantAdminTenantAdminSameTenant(t *testing.T) {
	tenantID := "tenant_1"
	req := SelfOrTenantAdminRequirement("u2", &tenantID)
	assert.NoError(t, Authorize("u1", &tenantID, aggregate.RoleTenantAdmin, req))
}

func TestAuthorizeSelfOrTenantAdminTenantAdminDifferentTenant(t *testing.T) {
	targetTenant := "tenant_1"
	ctxTenant := "tenant_2"
	req := SelfOrTenantAdminRequirement("u2", &targetTenant)
	assert.ErrorIs(t, Authorize("u1", &ctxTenant, aggregate.RoleTenantAdmin, req), ErrForbidden)
}

func TestAuthorizeSelfOrTenantAdminTenantAdminNoContextTenant(t *testing.T) {
	targetTenant := "tenant_1"
	req := SelfOrTenantAdminRequirement("u2", &targetTenant)
	assert.ErrorIs(t, Authorize("u1", nil, aggregate.RoleTenantAdmin, req), ErrForbidden)
}

func TestAuthorizeSelfOrTenantAdminPilotCannotActOnOthers(t *testing.T) {
	targetTenant := "tenant_1"
	ctxTenant := "tenant_1"
	req := SelfOrTenantAdminRequirement("u2", &targetTenant)
	assert.ErrorIs(t, Authorize("u1", &ctxTenant, aggregate.RolePilot, req), ErrForbidden)
}
