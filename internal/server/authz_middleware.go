package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hivedesk/hivedesk/internal/routing"
	"github.com/hivedesk/hivedesk/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := defaultConfigPath("config/access/model.conf")
		if err != nil {
			return nil, errors.New("server: authz model not found")
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := defaultConfigPath("config/access/policy.csv")
		if err != nil {
			return nil, errors.New("server: authz policy not found")
		}
		policyPath = p
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}

	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

func defaultConfigPath(rel string) (string, error) {
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: config file not found: " + rel)
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

func withAuthz(classifier *routing.Classifier, a authorizer, next http.Handler) http.Handler {
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

		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		roleSlug := authz.RoleAnonymous
		domain := authz.DomainPlatform
		if p, ok := currentPrincipal(r.Context()); ok {
			roleSlug = p.RoleSlug
		}
		if tc, ok := currentTenantContext(r.Context()); ok {
			if tenantID, ok := tc.EffectiveTenant(); ok {
				domain = authz.DomainFromTenantID(tenantID)
			}
		}

		allowed, enforced, err := a.Authorize(authz.SubjectFromRoleSlug(roleSlug), domain, object, action)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if enforced && !allowed {
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	switch path {
	case "/iam/api/sessions", "/logout":
		if method == http.MethodPost {
			return authz.ObjectIAMSession, authz.ActionAdmin, true
		}
		return "", "", false
	case "/workspace/api/grants":
		if method == http.MethodGet {
			return authz.ObjectWorkspaceGrants, authz.ActionRead, true
		}
		if method == http.MethodPost {
			return authz.ObjectWorkspaceGrants, authz.ActionWrite, true
		}
		return "", "", false
	case "/workspace/api/grants:revoke":
		if method == http.MethodPost {
			return authz.ObjectWorkspaceGrants, authz.ActionWrite, true
		}
		return "", "", false
	case "/workspace/api/visible-subjects":
		if method == http.MethodGet {
			return authz.ObjectWorkspaceProjects, authz.ActionRead, true
		}
		return "", "", false
	case "/realtime/ws":
		if method == http.MethodGet {
			return authz.ObjectRealtimeSocket, authz.ActionRead, true
		}
		return "", "", false
	case "/realtime/api/presence":
		if method == http.MethodGet {
			return authz.ObjectRealtimePresence, authz.ActionRead, true
		}
		return "", "", false
	case "/platform/api/tenants":
		if method == http.MethodGet {
			return authz.ObjectPlatformTenants, authz.ActionRead, true
		}
		return "", "", false
	case "/platform/api/impersonation":
		if method == http.MethodGet {
			return authz.ObjectPlatformImpersonation, authz.ActionRead, true
		}
		return "", "", false
	case "/platform/api/impersonation:start", "/platform/api/impersonation:stop",
		"/platform/api/user-impersonation:start", "/platform/api/user-impersonation:stop":
		if method == http.MethodPost {
			return authz.ObjectPlatformImpersonation, authz.ActionAdmin, true
		}
		return "", "", false
	default:
		return "", "", false
	}
}
