// Package authz decides whether a caller is allowed to act on a user or
// tenant resource. It has two layers: a pure, dependency-free decision
// function (Authorize) transcribed from the reference gateway's
// authorize()/Requirement pair, and a secondary casbin-backed enforcer
// (Enforcer) for coarser API-key scope checks.
package authz

import (
	"errors"

	"github.com/smallbiznis/platformd/internal/aggregate"
)

// ErrForbidden is returned by Authorize when the requirement is not met.
var ErrForbidden = errors.New("authz: forbidden")

// Requirement names what a caller must satisfy to proceed. It mirrors the
// reference gateway's two-case Requirement enum exactly: either the caller
// must be a platform admin, or they must be acting on their own resource,
// or be the admin of the tenant the resource belongs to.
type Requirement struct {
	PlatformAdminOnly bool

	// SelfOrTenantAdmin fields are only consulted when PlatformAdminOnly
	// is false.
	TargetUserID   string
	TargetTenantID *string
}

// PlatformAdminOnlyRequirement builds the PlatformAdminOnly variant.
func PlatformAdminOnlyRequirement() Requirement {
	return Requirement{PlatformAdminOnly: true}
}

// SelfOrTenantAdminRequirement builds the SelfOrTenantAdmin variant.
func SelfOrTenantAdminRequirement(targetUserID string, targetTenantID *string) Requirement {
	return Requirement{TargetUserID: targetUserID, TargetTenantID: targetTenantID}
}

// Authorize decides whether a caller identified by (ctxUserID, ctxTenantID,
// ctxRole) satisfies req. It is pure: no I/O, no context, just the exact
// boolean logic the reference implementation's authorize() function uses.
func Authorize(ctxUserID string, ctxTenantID *string, ctxRole aggregate.Role, req Requirement) error {
	if req.PlatformAdminOnly {
		if ctxRole == aggregate.RolePlatformAdmin {
			return nil
		}
		return ErrForbidden
	}

	if ctxRole == aggregate.RolePlatformAdmin {
		return nil
	}
	if req.TargetUserID == ctxUserID {
		return nil
	}
	if ctxRole == aggregate.RoleTenantAdmin &&
		ctxTenantID != nil && req.TargetTenantID != nil &&
		*ctxTenantID == *req.TargetTenantID {
		return nil
	}
	return ErrForbidden
}
