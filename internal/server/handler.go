package server

import (
	"context"
	"net/http"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hivedesk/hivedesk/internal/platform"
	"github.com/hivedesk/hivedesk/internal/realtime"
	"github.com/hivedesk/hivedesk/internal/routing"
	"github.com/hivedesk/hivedesk/modules/workspace/domain/ports"
	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
	"github.com/hivedesk/hivedesk/modules/workspace/infrastructure/persistence"
	workspaceservices "github.com/hivedesk/hivedesk/modules/workspace/services"
)

// HandlerOptions carries every collaborator the handler needs. Zero-value
// fields fall back to the production wiring: pg-backed stores when Pool is
// set, in-memory doubles otherwise.
type HandlerOptions struct {
	Pool *pgxpool.Pool

	Tenancy    TenancyResolver
	Directory  TenantDirectory
	Principals principalStore
	Sessions   sessionStore
	Subjects   ports.SubjectStore
	Grants     ports.GrantStore
	RoomScope  realtime.RoomScopeResolver

	Authorizer    authorizer
	AllowlistPath string

	Metrics     *prometheus.Registry
	Clock       clock.Clock
	CheckOrigin func(r *http.Request) bool
}

// NewHandler wires the production handler from the environment: a pgx pool
// from DATABASE_URL / DB_* (unless DB_DISABLED=1), config files found by
// walking up from the working directory.
func NewHandler() (http.Handler, error) {
	var opts HandlerOptions
	if os.Getenv("DB_DISABLED") != "1" {
		pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		opts.Pool = pool
	}
	return NewHandlerWithOptions(opts)
}

func MustNewHandler() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(err)
	}
	return h
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := opts.AllowlistPath
	if allowlistPath == "" {
		allowlistPath = os.Getenv("ALLOWLIST_PATH")
	}
	if allowlistPath == "" {
		p, err := defaultConfigPath("config/routing/allowlist.yaml")
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}
	allowlist, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(allowlist, "server")
	if err != nil {
		return nil, err
	}

	az := opts.Authorizer
	if az == nil {
		a, err := loadAuthorizer()
		if err != nil {
			return nil, err
		}
		az = a
	}

	tenancy := opts.Tenancy
	directory := opts.Directory
	if tenancy == nil || directory == nil {
		if opts.Pool != nil {
			db := newTenancyDBResolver(opts.Pool)
			if tenancy == nil {
				tenancy = db
			}
			if directory == nil {
				directory = db
			}
		} else {
			p, err := defaultConfigPath("config/tenants.yaml")
			if err != nil {
				return nil, err
			}
			static, err := LoadStaticTenancy(p)
			if err != nil {
				return nil, err
			}
			if tenancy == nil {
				tenancy = static
			}
			if directory == nil {
				directory = static
			}
		}
	}

	principals := opts.Principals
	if principals == nil {
		principals = newPrincipalStore(opts.Pool)
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = newSessionStore(opts.Pool)
	}
	subjects := opts.Subjects
	grants := opts.Grants
	if subjects == nil || grants == nil {
		if opts.Pool != nil {
			if subjects == nil {
				subjects = persistence.NewSubjectPGStore(opts.Pool)
			}
			if grants == nil {
				grants = persistence.NewGrantPGStore(opts.Pool)
			}
		} else {
			if subjects == nil {
				subjects = persistence.NewMemorySubjectStore()
			}
			if grants == nil {
				grants = persistence.NewMemoryGrantStore()
			}
		}
	}
	scope := opts.RoomScope
	if scope == nil {
		if opts.Pool != nil {
			scope = newPGRoomScope(opts.Pool)
		} else {
			scope = NewMemoryRoomScope()
		}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := realtime.NewMetrics(reg)

	registry := realtime.NewRegistry()
	// The tracker pushes transitions back through the gateway; the gateway
	// pings the tracker on every client heartbeat. Break the cycle by
	// capturing the gateway variable before it is assigned.
	var gw *realtime.Gateway
	presence := realtime.NewPresenceTracker(clk, 0, metrics, func(tenantID string, states []realtime.PresenceState) {
		if gw != nil {
			gw.PresenceUpdate(tenantID, states)
		}
	})
	gw = realtime.NewGateway(realtime.GatewayOptions{
		Registry:    registry,
		Presence:    presence,
		Scope:       scope,
		Metrics:     metrics,
		Clock:       clk,
		CheckOrigin: opts.CheckOrigin,
	})
	go presence.Run(context.Background())

	fanout := realtime.NewFanout(gw, scope, nil)
	svc := workspaceservices.NewAccessService(subjects, grants, fanoutGrantNotifier{fanout: fanout})
	cache := newReachableCache()

	mgr := platform.NewImpersonationManager(platform.ImpersonationManagerOptions{
		Tenants:     tenantDirectoryAdapter{directory: directory},
		Invalidator: cache,
		Clock:       clk,
	})

	router := routing.NewRouter(classifier)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", okHandler)
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", okHandler)
	router.Handle(routing.RouteClassOps, http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/iam/api/sessions", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSessionLoginAPI(w, r, principals, sessions, mgr)
	}))
	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/logout", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleLogout(w, r, sessions, mgr)
	}))

	grantsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleGrantsAPI(w, r, svc, cache)
	})
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/workspace/api/grants", grantsHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/workspace/api/grants", grantsHandler)
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/workspace/api/grants:revoke", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleGrantsRevokeAPI(w, r, svc, cache)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/workspace/api/visible-subjects", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleVisibleSubjectsAPI(w, r, svc, cache)
	}))

	router.Handle(routing.RouteClassWebsocket, http.MethodGet, "/realtime/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRealtimeSocket(w, r, gw)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/realtime/api/presence", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlePresenceSnapshotAPI(w, r, presence)
	}))

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/platform/api/tenants", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlePlatformTenantsAPI(w, r, directory)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/platform/api/impersonation", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleImpersonationStateAPI(w, r, mgr)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/platform/api/impersonation:start", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleImpersonationStartAPI(w, r, mgr)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/platform/api/impersonation:stop", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleImpersonationStopAPI(w, r, mgr)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/platform/api/user-impersonation:start", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleUserImpersonationStartAPI(w, r, mgr)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/platform/api/user-impersonation:stop", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleUserImpersonationStopAPI(w, r, mgr)
	}))

	var h http.Handler = router
	h = withAuthz(classifier, az, h)
	h = withSessionContext(classifier, tenancy, directory, principals, sessions, mgr, h)
	return h, nil
}

// tenantDirectoryAdapter narrows the server directory to the accessibility
// check the impersonation manager re-runs on every resume.
type tenantDirectoryAdapter struct {
	directory TenantDirectory
}

func (a tenantDirectoryAdapter) TenantAccessible(ctx context.Context, tenantID string) (string, bool, error) {
	t, ok, err := a.directory.TenantByID(ctx, tenantID)
	return t.Name, ok, err
}

// fanoutGrantNotifier forwards grant mutations into the realtime fanout
// after the persistence write has committed.
type fanoutGrantNotifier struct {
	fanout *realtime.Fanout
}

func (n fanoutGrantNotifier) GrantChanged(tenantID string, projectID string, subjectType types.SubjectType, subjectID string, userID string, action string) {
	n.fanout.GrantChanged(context.Background(), tenantID, projectID, string(subjectType), subjectID, userID, action)
}
