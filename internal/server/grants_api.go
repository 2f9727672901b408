package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hivedesk/hivedesk/internal/routing"
	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
	workspaceservices "github.com/hivedesk/hivedesk/modules/workspace/services"
	"github.com/hivedesk/hivedesk/pkg/httperr"
)

// requireTenantContext rejects requests whose resolved context has no
// effective tenant. No fallback tenant is ever guessed.
func requireTenantContext(w http.ResponseWriter, r *http.Request, rc routing.RouteClass) (TenantContext, string, bool) {
	tc, ok := currentTenantContext(r.Context())
	if !ok {
		routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return TenantContext{}, "", false
	}
	tenantID, ok := tc.EffectiveTenant()
	if !ok {
		routing.WriteError(w, r, rc, http.StatusForbidden, "no_effective_tenant", "no effective tenant")
		return TenantContext{}, "", false
	}
	return tc, tenantID, true
}

func writeAccessError(w http.ResponseWriter, r *http.Request, rc routing.RouteClass, err error) {
	switch {
	case httperr.IsBadRequest(err):
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "invalid_request", err.Error())
	case httperr.IsNotFound(err):
		routing.WriteError(w, r, rc, http.StatusNotFound, "not_found", "not found")
	case httperr.IsForbidden(err):
		routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
	case isPgInvalidInput(err):
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "invalid_request", "invalid request")
	default:
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type grantPayload struct {
	SubjectType string    `json:"subjectType"`
	SubjectID   string    `json:"subjectId"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role,omitempty"`
	GrantedBy   string    `json:"grantedBy,omitempty"`
	GrantedAt   time.Time `json:"grantedAt,omitzero"`
}

func handleGrantsAPI(w http.ResponseWriter, r *http.Request, svc workspaceservices.AccessService, cache *reachableCache) {
	const rc = routing.RouteClassInternalAPI
	tc, tenantID, ok := requireTenantContext(w, r, rc)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		grants, err := svc.ListGrants(r.Context(), tenantID, tc.EffectiveActorID(), types.SubjectType(q.Get("subject_type")), q.Get("subject_id"))
		if err != nil {
			writeAccessError(w, r, rc, err)
			return
		}
		out := make([]grantPayload, 0, len(grants))
		for _, g := range grants {
			out = append(out, grantPayload{
				SubjectType: string(g.SubjectType),
				SubjectID:   g.SubjectID,
				UserID:      g.UserID,
				Role:        string(g.Role),
				GrantedBy:   g.GrantedBy,
				GrantedAt:   g.GrantedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": out})
	case http.MethodPost:
		var req grantPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
			return
		}
		g, err := svc.Grant(r.Context(), tenantID, tc.EffectiveActorID(), types.SubjectType(req.SubjectType), req.SubjectID, req.UserID, types.GrantRole(req.Role))
		if err != nil {
			writeAccessError(w, r, rc, err)
			return
		}
		// Task inheritance means one grant can open several subjects, so the
		// whole tenant's reachable sets are recomputed.
		cache.DropTenant(tenantID)
		writeJSON(w, http.StatusCreated, grantPayload{
			SubjectType: string(g.SubjectType),
			SubjectID:   g.SubjectID,
			UserID:      g.UserID,
			Role:        string(g.Role),
			GrantedBy:   g.GrantedBy,
			GrantedAt:   g.GrantedAt,
		})
	}
}

func handleGrantsRevokeAPI(w http.ResponseWriter, r *http.Request, svc workspaceservices.AccessService, cache *reachableCache) {
	const rc = routing.RouteClassInternalAPI
	tc, tenantID, ok := requireTenantContext(w, r, rc)
	if !ok {
		return
	}

	var req grantPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
		return
	}
	if err := svc.Revoke(r.Context(), tenantID, tc.EffectiveActorID(), types.SubjectType(req.SubjectType), req.SubjectID, req.UserID); err != nil {
		writeAccessError(w, r, rc, err)
		return
	}
	cache.DropTenant(tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// handleVisibleSubjectsAPI returns the bulk reachable set used to pre-filter
// list queries client-side.
func handleVisibleSubjectsAPI(w http.ResponseWriter, r *http.Request, svc workspaceservices.AccessService, cache *reachableCache) {
	const rc = routing.RouteClassInternalAPI
	tc, tenantID, ok := requireTenantContext(w, r, rc)
	if !ok {
		return
	}

	actorID := tc.EffectiveActorID()
	set, ok := cache.Get(actorID, tenantID)
	if !ok {
		var err error
		set, err = svc.ReachableSubjects(r.Context(), tenantID, actorID)
		if err != nil {
			writeAccessError(w, r, rc, err)
			return
		}
		cache.Put(actorID, tenantID, set)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projectIds": set.ProjectIDs,
		"taskIds":    set.TaskIDs,
	})
}
