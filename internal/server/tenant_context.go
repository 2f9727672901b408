package server

import (
	"context"

	"github.com/hivedesk/hivedesk/internal/platform"
)

type tenantCtxKey struct{}

func withTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

func currentTenant(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(Tenant)
	return t, ok
}

// TenantContext is the per-request resolution of "which tenant's data is this
// request allowed to touch". EffectiveTenantID is empty only for a privileged
// actor operating at platform scope; every tenant-scoped read or write must
// go through EffectiveTenant and treat the error as final.
type TenantContext struct {
	ActorID           string
	EffectiveTenantID string
	Privileged        bool
	Impersonating     bool
	// ActingAsUserID is set when a privileged actor is logged in as a
	// specific tenant user rather than just scoped to a tenant.
	ActingAsUserID string
}

// EffectiveTenant rejects platform-scoped contexts. There is never a
// fallback: a request that needs a tenant and has none is refused.
func (c TenantContext) EffectiveTenant() (string, bool) {
	return c.EffectiveTenantID, c.EffectiveTenantID != ""
}

// EffectiveActorID is the identity access checks run against: the
// impersonated user under user-impersonation, the actor itself otherwise.
func (c TenantContext) EffectiveActorID() string {
	if c.ActingAsUserID != "" {
		return c.ActingAsUserID
	}
	return c.ActorID
}

// ResolveTenantContext derives the tenant context from the principal and the
// impersonation state, in priority order: user-impersonation, then
// tenant-impersonation, then platform scope, then the principal's own tenant.
// Non-privileged principals always land on their own tenant; impersonation
// state they should not have was already purged upstream.
func ResolveTenantContext(p Principal, grant *platform.Grant, userImp *platform.UserImpersonation) TenantContext {
	out := TenantContext{ActorID: p.ID, Privileged: p.Privileged}

	if !p.Privileged {
		out.EffectiveTenantID = p.TenantID
		return out
	}

	switch {
	case userImp != nil:
		out.EffectiveTenantID = userImp.UserTenantID
		out.ActingAsUserID = userImp.UserID
		out.Impersonating = true
	case grant != nil:
		out.EffectiveTenantID = grant.TargetTenantID
		out.Impersonating = true
	default:
		// Platform scope: no tenant data accessible.
	}
	return out
}

type tenantContextKey struct{}

func withTenantContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

func currentTenantContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(TenantContext)
	return tc, ok
}
