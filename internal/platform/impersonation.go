// Package platform is the privileged operator plane: impersonation session
// state for platform principals acting inside tenants they hold no
// credentials for. All state is keyed by the acting principal and mirrors a
// server-trusted privilege flag set only at authentication time.
package platform

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	ErrNotPrivileged        = errors.New("platform: actor is not privileged")
	ErrTenantUnavailable    = errors.New("platform: target tenant unavailable")
	ErrNothingToStop        = errors.New("platform: no impersonation active")
	ErrAlreadyTransitioning = errors.New("platform: transition in progress")
)

type State string

const (
	StateIdle          State = "idle"
	StateTransitioning State = "transitioning"
	StateActive        State = "active"
)

// Grant records an active tenant-impersonation: the privileged actor is
// acting inside TargetTenantID without holding tenant credentials.
type Grant struct {
	ActorID          string
	TargetTenantID   string
	TargetTenantName string
	StartedAt        time.Time
}

// UserImpersonation records the second, independent mode: the privileged
// actor is acting as one specific tenant user. Mutually exclusive with a
// Grant; when resolving the effective tenant it takes priority.
type UserImpersonation struct {
	ActorID      string
	UserID       string
	UserTenantID string
	StartedAt    time.Time
}

// TenantDirectory answers whether a tenant still exists and is reachable.
// Used when starting an impersonation and again on every session resume.
type TenantDirectory interface {
	TenantAccessible(ctx context.Context, tenantID string) (name string, ok bool, err error)
}

// CacheInvalidator is the collaborator cache layer. ClearTenantScoped drops
// every tenant-scoped entry the actor's session holds; it must never touch
// auth or session state. InvalidatePlatformQueries marks platform-level
// listings (tenant lists and the like) stale after a stop.
type CacheInvalidator interface {
	ClearTenantScoped(actorID string)
	InvalidatePlatformQueries(actorID string)
}

type noopInvalidator struct{}

func (noopInvalidator) ClearTenantScoped(string)         {}
func (noopInvalidator) InvalidatePlatformQueries(string) {}

// Notice is a user-visible, non-blocking message for a privileged actor,
// queued when the manager recovers their session on its own (for example a
// stale impersonation target discovered on resume).
type Notice struct {
	Message string
	At      time.Time
}

type actorSession struct {
	state   State
	grant   *Grant
	userImp *UserImpersonation
	notices []Notice
}

// ImpersonationManager is the state machine governing entry and exit of
// acting-as-tenant mode, one session per privileged actor. Transitions pass
// through Transitioning while collaborator caches are cleared, so concurrent
// readers can suspend rendering until the session settles.
type ImpersonationManager struct {
	tenants     TenantDirectory
	invalidator CacheInvalidator
	clk         clock.Clock
	logf        func(format string, args ...any)

	mu       sync.Mutex
	sessions map[string]*actorSession
}

type ImpersonationManagerOptions struct {
	Tenants     TenantDirectory
	Invalidator CacheInvalidator
	Clock       clock.Clock
	Logf        func(format string, args ...any)
}

func NewImpersonationManager(opts ImpersonationManagerOptions) *ImpersonationManager {
	inv := opts.Invalidator
	if inv == nil {
		inv = noopInvalidator{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &ImpersonationManager{
		tenants:     opts.Tenants,
		invalidator: inv,
		clk:         clk,
		logf:        logf,
		sessions:    map[string]*actorSession{},
	}
}

func (m *ImpersonationManager) session(actorID string) *actorSession {
	s, ok := m.sessions[actorID]
	if !ok {
		s = &actorSession{state: StateIdle}
		m.sessions[actorID] = s
	}
	return s
}

// beginTransition flips the actor's session into Transitioning so dependent
// readers observe the window while caches settle. Fails if a transition is
// already in flight for the actor.
func (m *ImpersonationManager) beginTransition(actorID string) (*actorSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(actorID)
	if s.state == StateTransitioning {
		return nil, ErrAlreadyTransitioning
	}
	s.state = StateTransitioning
	return s, nil
}

func (m *ImpersonationManager) settle(s *actorSession, state State) {
	m.mu.Lock()
	s.state = state
	m.mu.Unlock()
}

// StartImpersonation moves the actor Idle→Transitioning→Active against
// tenantID. Side effects in order: tenant-scoped caches cleared, then the
// grant recorded. Starting while a user-impersonation is active replaces it;
// the two modes never coexist.
func (m *ImpersonationManager) StartImpersonation(ctx context.Context, actorID string, privileged bool, tenantID string) (Grant, error) {
	if !privileged {
		return Grant{}, ErrNotPrivileged
	}
	name, ok, err := m.tenants.TenantAccessible(ctx, tenantID)
	if err != nil {
		return Grant{}, err
	}
	if !ok {
		return Grant{}, ErrTenantUnavailable
	}

	s, err := m.beginTransition(actorID)
	if err != nil {
		return Grant{}, err
	}
	m.invalidator.ClearTenantScoped(actorID)

	grant := Grant{
		ActorID:          actorID,
		TargetTenantID:   tenantID,
		TargetTenantName: name,
		StartedAt:        m.clk.Now(),
	}
	m.mu.Lock()
	s.grant = &grant
	s.userImp = nil
	s.state = StateActive
	m.mu.Unlock()
	return grant, nil
}

// StopImpersonation moves Active→Transitioning→Idle, clears tenant-scoped
// caches and marks platform-level queries stale. Stopping with nothing
// active reports ErrNothingToStop and changes no state.
func (m *ImpersonationManager) StopImpersonation(ctx context.Context, actorID string) error {
	_ = ctx

	m.mu.Lock()
	s := m.session(actorID)
	if s.state == StateTransitioning {
		m.mu.Unlock()
		return ErrAlreadyTransitioning
	}
	if s.grant == nil {
		m.mu.Unlock()
		return ErrNothingToStop
	}
	s.state = StateTransitioning
	s.grant = nil
	m.mu.Unlock()

	m.invalidator.ClearTenantScoped(actorID)
	m.invalidator.InvalidatePlatformQueries(actorID)
	m.settle(s, StateIdle)
	return nil
}

// StartUserImpersonation begins acting as one specific tenant user. Any
// tenant-level grant is dropped first: at most one mode is active per actor.
func (m *ImpersonationManager) StartUserImpersonation(ctx context.Context, actorID string, privileged bool, userID string, userTenantID string) (UserImpersonation, error) {
	if !privileged {
		return UserImpersonation{}, ErrNotPrivileged
	}
	if _, ok, err := m.tenants.TenantAccessible(ctx, userTenantID); err != nil {
		return UserImpersonation{}, err
	} else if !ok {
		return UserImpersonation{}, ErrTenantUnavailable
	}

	s, err := m.beginTransition(actorID)
	if err != nil {
		return UserImpersonation{}, err
	}
	m.invalidator.ClearTenantScoped(actorID)

	imp := UserImpersonation{
		ActorID:      actorID,
		UserID:       userID,
		UserTenantID: userTenantID,
		StartedAt:    m.clk.Now(),
	}
	m.mu.Lock()
	s.userImp = &imp
	s.grant = nil
	s.state = StateActive
	m.mu.Unlock()
	return imp, nil
}

func (m *ImpersonationManager) StopUserImpersonation(ctx context.Context, actorID string) error {
	_ = ctx

	m.mu.Lock()
	s := m.session(actorID)
	if s.state == StateTransitioning {
		m.mu.Unlock()
		return ErrAlreadyTransitioning
	}
	if s.userImp == nil {
		m.mu.Unlock()
		return ErrNothingToStop
	}
	s.state = StateTransitioning
	s.userImp = nil
	m.mu.Unlock()

	m.invalidator.ClearTenantScoped(actorID)
	m.invalidator.InvalidatePlatformQueries(actorID)
	m.settle(s, StateIdle)
	return nil
}

// Snapshot is the manager's view of one actor, as returned by Resume.
type Snapshot struct {
	State             State
	Grant             *Grant
	UserImpersonation *UserImpersonation
}

// Resume restores a persisted session. A persisted Active grant is only
// trusted after the target tenant is re-verified; a stale target forces the
// session to Idle, clears caches and queues a notice, so the actor never
// silently operates against a deleted tenant. A grant held by a
// non-privileged actor is a defect and is purged immediately.
func (m *ImpersonationManager) Resume(ctx context.Context, actorID string, privileged bool) (Snapshot, error) {
	m.mu.Lock()
	s := m.session(actorID)
	grant := s.grant
	userImp := s.userImp
	m.mu.Unlock()

	if !privileged {
		if grant != nil || userImp != nil {
			m.logf("platform: purging impersonation state held by non-privileged actor %s", actorID)
			m.forceIdle(s, actorID, "")
		}
		return Snapshot{State: StateIdle}, nil
	}

	if grant != nil {
		_, ok, err := m.tenants.TenantAccessible(ctx, grant.TargetTenantID)
		if err != nil {
			return Snapshot{}, err
		}
		if !ok {
			m.logf("platform: impersonation target %s gone, resetting actor %s", grant.TargetTenantID, actorID)
			m.forceIdle(s, actorID, "Impersonation of "+grant.TargetTenantName+" ended: the tenant is no longer available.")
			return Snapshot{State: StateIdle}, nil
		}
	}
	if userImp != nil {
		_, ok, err := m.tenants.TenantAccessible(ctx, userImp.UserTenantID)
		if err != nil {
			return Snapshot{}, err
		}
		if !ok {
			m.forceIdle(s, actorID, "User impersonation ended: the user's tenant is no longer available.")
			return Snapshot{State: StateIdle}, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: s.state, Grant: s.grant, UserImpersonation: s.userImp}, nil
}

func (m *ImpersonationManager) forceIdle(s *actorSession, actorID string, notice string) {
	m.mu.Lock()
	s.grant = nil
	s.userImp = nil
	s.state = StateIdle
	if notice != "" {
		s.notices = append(s.notices, Notice{Message: notice, At: m.clk.Now()})
	}
	m.mu.Unlock()
	m.invalidator.ClearTenantScoped(actorID)
}

// Reset drops all impersonation state for the actor without side-effect
// ordering guarantees. Called on logout and re-authentication, which also
// clear the privilege flag upstream.
func (m *ImpersonationManager) Reset(actorID string) {
	m.mu.Lock()
	delete(m.sessions, actorID)
	m.mu.Unlock()
	m.invalidator.ClearTenantScoped(actorID)
}

// ActiveGrant reports the actor's tenant-impersonation grant, if any.
func (m *ImpersonationManager) ActiveGrant(actorID string) (Grant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[actorID]
	if !ok || s.grant == nil {
		return Grant{}, false
	}
	return *s.grant, true
}

// ActiveUserImpersonation reports the actor's user-impersonation, if any.
func (m *ImpersonationManager) ActiveUserImpersonation(actorID string) (UserImpersonation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[actorID]
	if !ok || s.userImp == nil {
		return UserImpersonation{}, false
	}
	return *s.userImp, true
}

func (m *ImpersonationManager) State(actorID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[actorID]
	if !ok {
		return StateIdle
	}
	return s.state
}

// TakeNotices drains the actor's queued notices.
func (m *ImpersonationManager) TakeNotices(actorID string) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[actorID]
	if !ok || len(s.notices) == 0 {
		return nil
	}
	out := s.notices
	s.notices = nil
	return out
}
