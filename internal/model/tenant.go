package model

// LegacyTenant is the tenant id stored for rows written before multi-tenant
// support, and the scope legacy (nil-context) calls operate in.
const LegacyTenant = ""

// TenantContext scopes an operation to one tenant. A nil *TenantContext means
// the legacy single-tenant mode: no scoping is applied beyond the legacy rows.
type TenantContext struct {
	TenantID string `json:"tenantId"`
}

// Tenant returns the normalized tenant id for a possibly-nil context.
// The literal "default" and the empty string both denote the legacy tenant,
// so pre-migration rows keep working without a data rewrite.
func (tc *TenantContext) Tenant() string {
	if tc == nil {
		return LegacyTenant
	}
	if tc.TenantID == "default" {
		return LegacyTenant
	}
	return tc.TenantID
}

// Scoped reports whether the context names a real (non-legacy) tenant.
func (tc *TenantContext) Scoped() bool {
	return tc.Tenant() != LegacyTenant
}
