package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/hivedesk/hivedesk/internal/platform"
	"github.com/hivedesk/hivedesk/internal/routing"
)

// actingTenantHeader lets a privileged session pin the tenant for one
// request. It is a hint, never a fact: for non-privileged sessions it is
// ignored and logged.
const actingTenantHeader = "X-Acting-Tenant-Id"

func isPlatformPath(path string) bool {
	return pathHasPrefixSegment(path, "/platform")
}

// withSessionContext authenticates the request and resolves its
// TenantContext. Order: host tenant, session, principal, impersonation
// resume (re-validating any persisted target), then the prioritized tenant
// resolution. Handlers downstream read only the resolved context.
func withSessionContext(classifier *routing.Classifier, tenants TenancyResolver, directory TenantDirectory, principals principalStore, sessions sessionStore, impersonation *platform.ImpersonationManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := routing.RouteClassUI
		if classifier != nil {
			rc = classifier.Classify(path)
		}

		if rc == routing.RouteClassOps || rc == routing.RouteClassStatic {
			next.ServeHTTP(w, r)
			return
		}

		// Platform routes are not bound to a tenant hostname; everything
		// else resolves its tenant from the request host.
		var hostTenant Tenant
		var hostTenantOK bool
		if !isPlatformPath(path) {
			t, ok, err := tenants.ResolveTenant(r.Context(), effectiveHost(r))
			if err != nil {
				routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_resolve_error", "tenant resolve error")
				return
			}
			hostTenant, hostTenantOK = t, ok
			if ok {
				r = r.WithContext(withTenant(r.Context(), t))
			}
		}

		if path == "/iam/api/sessions" && r.Method == http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if !hostTenantOK && !isPlatformPath(path) && path != "/logout" {
			routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}

		sid, ok := readSID(r)
		if !ok {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		sess, ok, err := sessions.Lookup(r.Context(), sid)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "session_lookup_error", "session lookup error")
			return
		}
		if !ok {
			clearSIDCookie(w)
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		p, ok, err := principals.GetByID(r.Context(), sess.PrincipalID)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "principal_lookup_error", "principal lookup error")
			return
		}
		if !ok || p.Status != "active" || p.TenantID != sess.TenantID {
			clearSIDCookie(w)
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		// A tenant session only works on its own tenant's hostname.
		if !p.Privileged && hostTenantOK && p.TenantID != hostTenant.ID {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		snap, err := impersonation.Resume(r.Context(), p.ID, p.Privileged)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "impersonation_resume_error", "impersonation resume error")
			return
		}
		tc := ResolveTenantContext(p, snap.Grant, snap.UserImpersonation)

		if hdr := strings.TrimSpace(r.Header.Get(actingTenantHeader)); hdr != "" {
			tc, ok = applyActingTenantHeader(r, tc, hdr, directory)
			if !ok {
				routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
				return
			}
		}

		ctx := withPrincipal(r.Context(), p)
		ctx = withTenantContext(ctx, tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// applyActingTenantHeader honors the acting-tenant header for privileged
// sessions without an active impersonation. Any other session keeps its
// resolved context untouched; tampering attempts are logged, never trusted.
func applyActingTenantHeader(r *http.Request, tc TenantContext, header string, directory TenantDirectory) (TenantContext, bool) {
	if !tc.Privileged {
		if header != tc.EffectiveTenantID {
			log.Printf("server: ignoring acting-tenant header %q from non-privileged principal %s", header, tc.ActorID)
		}
		return tc, true
	}
	if tc.Impersonating {
		// An explicit impersonation outranks the per-request hint.
		return tc, true
	}
	if _, ok, err := directory.TenantByID(r.Context(), header); err != nil || !ok {
		return TenantContext{}, false
	}
	tc.EffectiveTenantID = header
	tc.Impersonating = true
	return tc, true
}

func pathHasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/"
}
