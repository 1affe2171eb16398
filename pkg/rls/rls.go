// Package rls sets the Postgres session variable row-level-security
// policies key off, as defense-in-depth behind the WHERE-clause tenant
// scoping internal/query already applies.
package rls

import "gorm.io/gorm"

// WithTenant scopes tx to tenantID for the lifetime of the current
// transaction only, via set_config(..., true) — the function form of SET
// LOCAL, which unlike SET accepts a bind parameter — so it never leaks onto
// a pooled connection once the transaction ends.
func WithTenant(tx *gorm.DB, tenantID string) error {
	return tx.Exec("SELECT set_config('app.current_tenant_id', ?, true)", tenantID).Error
}

// ClearTenant unsets the session variable, for platform-admin queries
// that are intentionally not tenant-scoped.
func ClearTenant(tx *gorm.DB) error {
	return tx.Exec("RESET app.current_tenant_id").Error
}
