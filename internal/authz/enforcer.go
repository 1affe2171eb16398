package authz

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// Objects this system's casbin policies are written against.
const (
	ObjectUser   = "user"
	ObjectTenant = "tenant"
	ObjectAPIKey = "api_key"
)

// Actions this system's casbin policies are written against.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionRevoke = "revoke"
)

// platformDomain is the wildcard domain PlatformAdmin policies are seeded
// against — it matches every r.dom per the model's matcher exception.
const platformDomain = "*"

// Enforcer is the secondary, coarse-grained authorization layer: it scopes
// what an authenticated API key (as opposed to a first-party session) may
// do, on top of the pure per-request Authorize decision above.
type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// NewEnforcer loads the domain-RBAC model and a Postgres-backed policy
// store, seeding the three-role policy set this system ships with.
func NewEnforcer(db *gorm.DB) (*Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return &Enforcer{e: enforcer}, nil
}

func roleSubject(role aggregate.Role) string {
	return fmt.Sprintf("role:%s", role)
}

func tenantDomain(tenantID *string) string {
	if tenantID == nil {
		return platformDomain
	}
	return fmt.Sprintf("tenant:%s", *tenantID)
}

// Enforce reports whether role (scoped to tenantID, or the platform domain
// if tenantID is nil) may perform action on object.
func (en *Enforcer) Enforce(role aggregate.Role, tenantID *string, object, action string) (bool, error) {
	subject := roleSubject(role)
	domain := tenantDomain(tenantID)

	if err := en.ensureGrouping(subject, domain); err != nil {
		return false, err
	}
	return en.e.Enforce(subject, domain, object, action)
}

// ensureGrouping makes sure the role-subject is linked to itself in this
// domain so g(r.sub, p.sub, r.dom) resolves — roles in this system are
// fixed strings, not a separate grouping table, so the subject is its own
// role.
func (en *Enforcer) ensureGrouping(subject, domain string) error {
	has, err := en.e.HasGroupingPolicy(subject, subject, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = en.e.AddGroupingPolicy(subject, subject, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleSubject(aggregate.RolePlatformAdmin), platformDomain, ObjectUser, ActionRead},
		{roleSubject(aggregate.RolePlatformAdmin), platformDomain, ObjectUser, ActionWrite},
		{roleSubject(aggregate.RolePlatformAdmin), platformDomain, ObjectTenant, ActionRead},
		{roleSubject(aggregate.RolePlatformAdmin), platformDomain, ObjectTenant, ActionWrite},
		{roleSubject(aggregate.RolePlatformAdmin), platformDomain, ObjectAPIKey, ActionRead},
		{roleSubject(aggregate.RolePlatformAdmin), platformDomain, ObjectAPIKey, ActionWrite},
		{roleSubject(aggregate.RolePlatformAdmin), platformDomain, ObjectAPIKey, ActionRevoke},

		{roleSubject(aggregate.RoleTenantAdmin), platformDomain, ObjectUser, ActionRead},
		{roleSubject(aggregate.RoleTenantAdmin), platformDomain, ObjectUser, ActionWrite},
		{roleSubject(aggregate.RoleTenantAdmin), platformDomain, ObjectAPIKey, ActionRead},
		{roleSubject(aggregate.RoleTenantAdmin), platformDomain, ObjectAPIKey, ActionRevoke},

		{roleSubject(aggregate.RolePilot), platformDomain, ObjectUser, ActionRead},
		{roleSubject(aggregate.RolePilot), platformDomain, ObjectAPIKey, ActionRead},
		{roleSubject(aggregate.RolePilot), platformDomain, ObjectAPIKey, ActionWrite},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
