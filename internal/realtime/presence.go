package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultPingInterval is the client keepalive cadence.
	DefaultPingInterval = 25 * time.Second
	// DefaultPresenceGrace is how long a user stays online with no signal.
	// Longer than one missed ping so a brief network blip does not flap.
	DefaultPresenceGrace = 65 * time.Second
)

type PresenceState struct {
	UserID     string    `json:"userId"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// PresenceTracker is the single writer for online/last-seen state. The data
// structure is tenant-agnostic; the tenant recorded at ping time is only
// used to scope update delivery and snapshots.
type PresenceTracker struct {
	clk   clock.Clock
	grace time.Duration

	mu      sync.Mutex
	states  map[string]PresenceState
	tenants map[string]string

	// onUpdate receives state transitions: one element for a single flip,
	// several for a sweep batch. Called outside the tracker lock.
	onUpdate func(tenantID string, states []PresenceState)

	metrics *Metrics
}

func NewPresenceTracker(clk clock.Clock, grace time.Duration, metrics *Metrics, onUpdate func(tenantID string, states []PresenceState)) *PresenceTracker {
	if clk == nil {
		clk = clock.New()
	}
	if grace <= 0 {
		grace = DefaultPresenceGrace
	}
	if onUpdate == nil {
		onUpdate = func(string, []PresenceState) {}
	}
	return &PresenceTracker{
		clk:      clk,
		grace:    grace,
		states:   map[string]PresenceState{},
		tenants:  map[string]string{},
		onUpdate: onUpdate,
		metrics:  metrics,
	}
}

// Ping records a liveness signal. The online flip (first signal, or first
// signal after an offline promotion) emits a single update; steady-state
// pings only advance lastSeenAt.
func (t *PresenceTracker) Ping(userID string, tenantID string) {
	t.mu.Lock()
	st, known := t.states[userID]
	wasOnline := known && st.Online
	st.UserID = userID
	st.Online = true
	st.LastSeenAt = t.clk.Now()
	t.states[userID] = st
	t.tenants[userID] = tenantID
	t.mu.Unlock()

	if !wasOnline {
		if t.metrics != nil {
			t.metrics.OnlineUsers.Inc()
		}
		t.onUpdate(tenantID, []PresenceState{st})
	}
}

// Snapshot returns the full presence set for one tenant, for the bulk fetch
// a client performs on every (re)connect.
func (t *PresenceTracker) Snapshot(tenantID string) []PresenceState {
	t.mu.Lock()
	var out []PresenceState
	for userID, st := range t.states {
		if t.tenants[userID] == tenantID {
			out = append(out, st)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Run sweeps for users whose grace window elapsed and promotes them offline,
// batching updates per tenant. Returns when ctx is done.
func (t *PresenceTracker) Run(ctx context.Context) {
	ticker := t.clk.Ticker(t.grace / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *PresenceTracker) sweep() {
	cutoff := t.clk.Now().Add(-t.grace)

	t.mu.Lock()
	expired := map[string][]PresenceState{}
	for userID, st := range t.states {
		if !st.Online || !st.LastSeenAt.Before(cutoff) {
			continue
		}
		st.Online = false
		// lastSeenAt keeps the final signal time; promotion does not advance it.
		t.states[userID] = st
		expired[t.tenants[userID]] = append(expired[t.tenants[userID]], st)
	}
	t.mu.Unlock()

	for tenantID, states := range expired {
		if t.metrics != nil {
			t.metrics.OnlineUsers.Sub(float64(len(states)))
		}
		sort.Slice(states, func(i, j int) bool { return states[i].UserID < states[j].UserID })
		t.onUpdate(tenantID, states)
	}
}
