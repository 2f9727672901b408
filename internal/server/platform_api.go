package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hivedesk/hivedesk/internal/platform"
	"github.com/hivedesk/hivedesk/internal/routing"
)

type impersonationPayload struct {
	State        string                 `json:"state"`
	Grant        *grantView             `json:"grant,omitempty"`
	ActingAsUser *userImpersonationView `json:"actingAsUser,omitempty"`
	Notices      []noticeView           `json:"notices,omitempty"`
}

type grantView struct {
	TenantID   string    `json:"tenantId"`
	TenantName string    `json:"tenantName"`
	StartedAt  time.Time `json:"startedAt"`
}

type userImpersonationView struct {
	UserID    string    `json:"userId"`
	TenantID  string    `json:"tenantId"`
	StartedAt time.Time `json:"startedAt"`
}

type noticeView struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func requirePrivileged(w http.ResponseWriter, r *http.Request, rc routing.RouteClass) (Principal, bool) {
	p, ok := currentPrincipal(r.Context())
	if !ok {
		routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return Principal{}, false
	}
	if !p.Privileged {
		routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
		return Principal{}, false
	}
	return p, true
}

func writePlatformError(w http.ResponseWriter, r *http.Request, rc routing.RouteClass, err error) {
	switch {
	case errors.Is(err, platform.ErrNotPrivileged):
		routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, platform.ErrTenantUnavailable):
		routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
	case errors.Is(err, platform.ErrNothingToStop):
		routing.WriteError(w, r, rc, http.StatusConflict, "nothing_to_stop", "no impersonation active")
	case errors.Is(err, platform.ErrAlreadyTransitioning):
		routing.WriteError(w, r, rc, http.StatusConflict, "transition_in_progress", "transition in progress")
	default:
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func handleImpersonationStartAPI(w http.ResponseWriter, r *http.Request, mgr *platform.ImpersonationManager) {
	const rc = routing.RouteClassInternalAPI
	p, ok := requirePrivileged(w, r, rc)
	if !ok {
		return
	}

	var req struct {
		TenantID string `json:"tenantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "invalid_json", "tenantId required")
		return
	}

	grant, err := mgr.StartImpersonation(r.Context(), p.ID, p.Privileged, req.TenantID)
	if err != nil {
		writePlatformError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, impersonationPayload{
		State: string(platform.StateActive),
		Grant: &grantView{TenantID: grant.TargetTenantID, TenantName: grant.TargetTenantName, StartedAt: grant.StartedAt},
	})
}

func handleImpersonationStopAPI(w http.ResponseWriter, r *http.Request, mgr *platform.ImpersonationManager) {
	const rc = routing.RouteClassInternalAPI
	p, ok := requirePrivileged(w, r, rc)
	if !ok {
		return
	}
	if err := mgr.StopImpersonation(r.Context(), p.ID); err != nil {
		writePlatformError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, impersonationPayload{State: string(platform.StateIdle)})
}

// handleImpersonationStateAPI is the resume endpoint: it re-validates any
// persisted target and reports the settled state plus pending notices.
func handleImpersonationStateAPI(w http.ResponseWriter, r *http.Request, mgr *platform.ImpersonationManager) {
	const rc = routing.RouteClassInternalAPI
	p, ok := requirePrivileged(w, r, rc)
	if !ok {
		return
	}

	snap, err := mgr.Resume(r.Context(), p.ID, p.Privileged)
	if err != nil {
		writePlatformError(w, r, rc, err)
		return
	}
	out := impersonationPayload{State: string(snap.State)}
	if snap.Grant != nil {
		out.Grant = &grantView{TenantID: snap.Grant.TargetTenantID, TenantName: snap.Grant.TargetTenantName, StartedAt: snap.Grant.StartedAt}
	}
	if snap.UserImpersonation != nil {
		out.ActingAsUser = &userImpersonationView{UserID: snap.UserImpersonation.UserID, TenantID: snap.UserImpersonation.UserTenantID, StartedAt: snap.UserImpersonation.StartedAt}
	}
	for _, n := range mgr.TakeNotices(p.ID) {
		out.Notices = append(out.Notices, noticeView{Message: n.Message, At: n.At})
	}
	writeJSON(w, http.StatusOK, out)
}

func handleUserImpersonationStartAPI(w http.ResponseWriter, r *http.Request, mgr *platform.ImpersonationManager) {
	const rc = routing.RouteClassInternalAPI
	p, ok := requirePrivileged(w, r, rc)
	if !ok {
		return
	}

	var req struct {
		UserID   string `json:"userId"`
		TenantID string `json:"tenantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.TenantID == "" {
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "invalid_json", "userId and tenantId required")
		return
	}

	imp, err := mgr.StartUserImpersonation(r.Context(), p.ID, p.Privileged, req.UserID, req.TenantID)
	if err != nil {
		writePlatformError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, impersonationPayload{
		State:        string(platform.StateActive),
		ActingAsUser: &userImpersonationView{UserID: imp.UserID, TenantID: imp.UserTenantID, StartedAt: imp.StartedAt},
	})
}

func handleUserImpersonationStopAPI(w http.ResponseWriter, r *http.Request, mgr *platform.ImpersonationManager) {
	const rc = routing.RouteClassInternalAPI
	p, ok := requirePrivileged(w, r, rc)
	if !ok {
		return
	}
	if err := mgr.StopUserImpersonation(r.Context(), p.ID); err != nil {
		writePlatformError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, impersonationPayload{State: string(platform.StateIdle)})
}

func handlePlatformTenantsAPI(w http.ResponseWriter, r *http.Request, directory TenantDirectory) {
	const rc = routing.RouteClassInternalAPI
	if _, ok := requirePrivileged(w, r, rc); !ok {
		return
	}

	tenants, err := directory.ListTenants(r.Context())
	if err != nil {
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_list_error", "tenant list error")
		return
	}
	type tenantView struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Domain string `json:"domain"`
	}
	out := make([]tenantView, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, tenantView{ID: t.ID, Name: t.Name, Domain: t.Domain})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": out})
}
