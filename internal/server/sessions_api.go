package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hivedesk/hivedesk/internal/platform"
	"github.com/hivedesk/hivedesk/internal/routing"
)

// handleSessionLoginAPI issues a sid cookie for a tenant or platform
// principal. Tenant logins bind to the tenant resolved from the request
// host; platform logins carry no tenant and require the privilege flag.
// A fresh login always resets any impersonation state left by a previous
// session of the same principal.
func handleSessionLoginAPI(w http.ResponseWriter, r *http.Request, principals principalStore, sessions sessionStore, mgr *platform.ImpersonationManager) {
	const rc = routing.RouteClassAuthn

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Platform bool   `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "invalid_request", "email and password are required")
		return
	}

	tenantID := ""
	if !body.Platform {
		t, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}
		tenantID = t.ID
	}

	p, err := principals.AuthenticatePassword(r.Context(), tenantID, body.Email, body.Password)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "login_error", "login error")
		return
	}
	if body.Platform && !p.Privileged {
		routing.WriteError(w, r, rc, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	mgr.Reset(p.ID)

	sid, err := sessions.Create(r.Context(), p.TenantID, p.ID, time.Now().Add(sidTTLFromEnv()), r.RemoteAddr, r.UserAgent())
	if err != nil {
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "session_create_error", "session create error")
		return
	}
	setSIDCookie(w, sid)
	writeJSON(w, http.StatusOK, map[string]any{
		"principalId": p.ID,
		"tenantId":    p.TenantID,
		"privileged":  p.Privileged,
	})
}

// handleLogout revokes the sid and drops any impersonation state, so a
// later login starts from a clean Idle session.
func handleLogout(w http.ResponseWriter, r *http.Request, sessions sessionStore, mgr *platform.ImpersonationManager) {
	if sid, ok := readSID(r); ok {
		if sess, found, err := sessions.Lookup(r.Context(), sid); err == nil && found {
			mgr.Reset(sess.PrincipalID)
		}
		_ = sessions.Revoke(r.Context(), sid)
	}
	clearSIDCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
