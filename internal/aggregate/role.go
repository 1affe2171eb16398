package aggregate

import "fmt"

// Role is the three-way role vocabulary this system authorizes against.
type Role string

const (
	RolePlatformAdmin Role = "PlatformAdmin"
	RoleTenantAdmin    Role = "TenantAdmin"
	RolePilot          Role = "Pilot"
)

// ErrUnknownRole is returned by ParseRole for any string outside the
// known vocabulary, in either spelling.
var ErrUnknownRole = fmt.Errorf("aggregate: unknown role")

// ParseRole accepts both the bare spelling ("PlatformAdmin") and the
// prefixed wire spelling ("ROLE_PLATFORM_ADMIN"), matching how the role is
// spelled depending on whether it came from a JSON body or an older client.
func ParseRole(s string) (Role, error) {
	switch s {
	case "PlatformAdmin", "ROLE_PLATFORM_ADMIN":
		return RolePlatformAdmin, nil
	case "TenantAdmin", "ROLE_TENANT_ADMIN":
		return RoleTenantAdmin, nil
	case "Pilot", "ROLE_PILOT":
		return RolePilot, nil
	default:
		return "", ErrUnknownRole
	}
}

func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleTenantAdmin, RolePilot:
		return true
	default:
		return false
	}
}
