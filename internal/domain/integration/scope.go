package integration

import (
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Scope
// ---------------------------------------------------------------------------

// Scope is the explicit global-or-tenant partition an adapter lives in.
// The zero value is "unspecified" and is resolved through ResolveScope;
// registry operations only ever see Global or Tenant scopes.
type Scope struct {
	kind     scopeKind
	tenantID uuid.UUID
}

type scopeKind uint8

const (
	scopeUnspecified scopeKind = iota
	scopeGlobal
	scopeTenant
)

// GlobalScope returns the scope shared by all tenants
func GlobalScope() Scope {
	return Scope{kind: scopeGlobal}
}

// TenantScope returns the scope owned by one tenant
func TenantScope(tenantID uuid.UUID) Scope {
	return Scope{kind: scopeTenant, tenantID: tenantID}
}

// IsZero reports whether the scope is unspecified
func (s Scope) IsZero() bool {
	return s.kind == scopeUnspecified
}

// IsGlobal reports whether the scope is the global partition
func (s Scope) IsGlobal() bool {
	return s.kind == scopeGlobal
}

// Tenant returns the owning tenant and true for tenant scopes
func (s Scope) Tenant() (uuid.UUID, bool) {
	if s.kind == scopeTenant {
		return s.tenantID, true
	}
	return uuid.Nil, false
}

// TenantOrNil returns the owning tenant or uuid.Nil for the global scope
func (s Scope) TenantOrNil() uuid.UUID {
	return s.tenantID
}

// String returns a log-friendly representation
func (s Scope) String() string {
	switch s.kind {
	case scopeGlobal:
		return "global"
	case scopeTenant:
		return fmt.Sprintf("tenant:%s", s.tenantID)
	default:
		return "unspecified"
	}
}

// ---------------------------------------------------------------------------
// Scope resolution
// ---------------------------------------------------------------------------

// TenantProvider supplies the ambient tenant bound to the current caller.
// It is read-only from the framework's perspective.
type TenantProvider interface {
	// CurrentTenant returns the ambient tenant, or false when none is bound
	CurrentTenant() (uuid.UUID, bool)
}

// TenantProviderFunc adapts a function to the TenantProvider interface
type TenantProviderFunc func() (uuid.UUID, bool)

// CurrentTenant implements TenantProvider
func (f TenantProviderFunc) CurrentTenant() (uuid.UUID, bool) {
	return f()
}

// ResolveScope collapses the three-tier scope resolution into one explicit
// chain: a specified scope wins, then the config's tenant, then the ambient
// tenant provider, then global.
func ResolveScope(explicit Scope, cfg *IntegrationConfig, ambient TenantProvider) Scope {
	if !explicit.IsZero() {
		return explicit
	}
	if cfg != nil && cfg.IsTenantScoped() {
		return TenantScope(*cfg.TenantID)
	}
	if ambient != nil {
		if tenantID, ok := ambient.CurrentTenant(); ok && tenantID != uuid.Nil {
			return TenantScope(tenantID)
		}
	}
	return GlobalScope()
}
