package realtime

import (
	"sync"
)

// subscriber is the registry's view of a connection: an ordered delivery
// sink plus the tenant the connection is scoped to.
type subscriber interface {
	ConnectionID() string
	EffectiveTenantID() string
	deliver(ev Event) bool
}

// Registry is the single serialization point for room membership. All
// mutation goes through Join/Leave/RemoveConnection under one lock; no
// caller ever sees the raw maps.
type Registry struct {
	mu      sync.Mutex
	byRoom  map[RoomKey]map[string]subscriber
	byConn  map[string]map[RoomKey]bool
	tenants map[RoomKey]string
}

func NewRegistry() *Registry {
	return &Registry{
		byRoom:  map[RoomKey]map[string]subscriber{},
		byConn:  map[string]map[RoomKey]bool{},
		tenants: map[RoomKey]string{},
	}
}

// Join records membership. Idempotent: a second join of the same room by the
// same connection reports joined=false and changes nothing. A connection
// whose effective tenant differs from roomTenant is never added.
func (r *Registry) Join(s subscriber, room RoomKey, roomTenant string) (joined bool) {
	if s.EffectiveTenantID() != roomTenant {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.tenants[room]; ok && owner != roomTenant {
		return false
	}

	connID := s.ConnectionID()
	if r.byConn[connID][room] {
		return false
	}
	if r.byRoom[room] == nil {
		r.byRoom[room] = map[string]subscriber{}
		r.tenants[room] = roomTenant
	}
	r.byRoom[room][connID] = s
	if r.byConn[connID] == nil {
		r.byConn[connID] = map[RoomKey]bool{}
	}
	r.byConn[connID][room] = true
	return true
}

// Leave is idempotent; leaving a room the connection never joined is a no-op.
func (r *Registry) Leave(s subscriber, room RoomKey) (left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := s.ConnectionID()
	if !r.byConn[connID][room] {
		return false
	}
	delete(r.byConn[connID], room)
	r.removeFromRoomLocked(room, connID)
	return true
}

// RemoveConnection tears down every membership of connID and returns the
// rooms it held, in no particular order. Safe to call twice.
func (r *Registry) RemoveConnection(connID string) []RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.byConn[connID]
	if rooms == nil {
		return nil
	}
	delete(r.byConn, connID)
	out := make([]RoomKey, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
		r.removeFromRoomLocked(room, connID)
	}
	return out
}

func (r *Registry) removeFromRoomLocked(room RoomKey, connID string) {
	subs := r.byRoom[room]
	if subs == nil {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.byRoom, room)
		delete(r.tenants, room)
	}
}

// Rooms returns the connection's current membership set.
func (r *Registry) Rooms(connID string) []RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomKey, 0, len(r.byConn[connID]))
	for room := range r.byConn[connID] {
		out = append(out, room)
	}
	return out
}

// Deliver hands ev to every current subscriber of its room. Membership is
// snapshotted under the lock; the actual sends are per-connection channel
// writes that never block delivery to other subscribers. Returns the number
// of connections the event was handed to.
func (r *Registry) Deliver(ev Event) int {
	r.mu.Lock()
	subs := make([]subscriber, 0, len(r.byRoom[ev.Room]))
	for _, s := range r.byRoom[ev.Room] {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range subs {
		if s.deliver(ev) {
			n++
		}
	}
	return n
}

// RoomTenant reports the owning tenant of a room while it has subscribers.
func (r *Registry) RoomTenant(room RoomKey) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[room]
	return t, ok
}
