package server

import (
	"net/http"
	"testing"

	"github.com/hivedesk/hivedesk/pkg/authz"
)

func TestAuthzRequirementForRoute(t *testing.T) {
	cases := []struct {
		method string
		path   string
		object string
		action string
		check  bool
	}{
		{http.MethodPost, "/iam/api/sessions", authz.ObjectIAMSession, authz.ActionAdmin, true},
		{http.MethodPost, "/logout", authz.ObjectIAMSession, authz.ActionAdmin, true},
		{http.MethodGet, "/workspace/api/grants", authz.ObjectWorkspaceGrants, authz.ActionRead, true},
		{http.MethodPost, "/workspace/api/grants", authz.ObjectWorkspaceGrants, authz.ActionWrite, true},
		{http.MethodPost, "/workspace/api/grants:revoke", authz.ObjectWorkspaceGrants, authz.ActionWrite, true},
		{http.MethodGet, "/workspace/api/visible-subjects", authz.ObjectWorkspaceProjects, authz.ActionRead, true},
		{http.MethodGet, "/realtime/ws", authz.ObjectRealtimeSocket, authz.ActionRead, true},
		{http.MethodGet, "/realtime/api/presence", authz.ObjectRealtimePresence, authz.ActionRead, true},
		{http.MethodGet, "/platform/api/tenants", authz.ObjectPlatformTenants, authz.ActionRead, true},
		{http.MethodGet, "/platform/api/impersonation", authz.ObjectPlatformImpersonation, authz.ActionRead, true},
		{http.MethodPost, "/platform/api/impersonation:start", authz.ObjectPlatformImpersonation, authz.ActionAdmin, true},
		{http.MethodPost, "/platform/api/impersonation:stop", authz.ObjectPlatformImpersonation, authz.ActionAdmin, true},
		{http.MethodPost, "/platform/api/user-impersonation:start", authz.ObjectPlatformImpersonation, authz.ActionAdmin, true},
		{http.MethodPost, "/platform/api/user-impersonation:stop", authz.ObjectPlatformImpersonation, authz.ActionAdmin, true},
		{http.MethodDelete, "/workspace/api/grants", "", "", false},
		{http.MethodGet, "/health", "", "", false},
	}

	for _, tc := range cases {
		object, action, check := authzRequirementForRoute(tc.method, tc.path)
		if check != tc.check || object != tc.object || action != tc.action {
			t.Errorf("%s %s: got (%q, %q, %v), want (%q, %q, %v)",
				tc.method, tc.path, object, action, check, tc.object, tc.action, tc.check)
		}
	}
}
