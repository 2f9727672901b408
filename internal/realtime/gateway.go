package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/hivedesk/hivedesk/pkg/uuidv7"
)

const (
	// DefaultResumeWindow is how long a disconnected connection's room set
	// is retained for replay.
	DefaultResumeWindow = 2 * time.Minute

	writeTimeout = 10 * time.Second
	// readTimeout must exceed the presence ping interval with room for a
	// missed frame.
	readTimeout = 3 * DefaultPingInterval

	sendQueueSize = 64
)

// Identity is the authenticated binding for one connection, resolved by the
// caller before the websocket upgrade. Both fields are always non-empty:
// credential-less handshakes are rejected upstream and never reach here.
type Identity struct {
	ActorID           string
	EffectiveTenantID string
}

// RoomScopeResolver maps a room to its owning tenant. A room that resolves
// to no tenant is not joinable.
type RoomScopeResolver interface {
	TenantForRoom(ctx context.Context, room RoomKey) (string, bool, error)
}

// Gateway owns websocket connections: it binds each to an Identity at
// handshake, serializes join/leave/ping handling per connection, and replays
// a reconnecting client's prior room set before declaring it ready.
type Gateway struct {
	registry *Registry
	presence *PresenceTracker
	scope    RoomScopeResolver
	metrics  *Metrics
	clk      clock.Clock
	logf     func(format string, args ...any)

	resumeWindow time.Duration
	upgrader     websocket.Upgrader

	mu       sync.Mutex
	retained map[string]retainedConn
}

type retainedConn struct {
	actorID   string
	tenantID  string
	rooms     []RoomKey
	expiresAt time.Time
}

type GatewayOptions struct {
	Registry     *Registry
	Presence     *PresenceTracker
	Scope        RoomScopeResolver
	Metrics      *Metrics
	Clock        clock.Clock
	ResumeWindow time.Duration
	Logf         func(format string, args ...any)
	CheckOrigin  func(r *http.Request) bool
}

func NewGateway(opts GatewayOptions) *Gateway {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	window := opts.ResumeWindow
	if window <= 0 {
		window = DefaultResumeWindow
	}
	return &Gateway{
		registry:     opts.Registry,
		presence:     opts.Presence,
		scope:        opts.Scope,
		metrics:      opts.Metrics,
		clk:          clk,
		logf:         logf,
		resumeWindow: window,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		retained: map[string]retainedConn{},
	}
}

type conn struct {
	id          string
	resumeToken string
	identity    Identity

	gw   *Gateway
	sock *websocket.Conn
	send chan Event

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) ConnectionID() string      { return c.id }
func (c *conn) EffectiveTenantID() string { return c.identity.EffectiveTenantID }

// deliver enqueues for the write pump. A full queue means a consumer that
// stopped draining; the connection is dropped rather than blocking delivery
// to its room peers, and the client's reconnect resync covers the gap.
func (c *conn) deliver(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		c.gw.logf("realtime: dropping slow connection %s", c.id)
		c.teardown()
		return false
	}
}

func (c *conn) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
		rooms := c.gw.registry.RemoveConnection(c.id)
		c.gw.retain(c, rooms)
		if c.gw.metrics != nil {
			c.gw.metrics.Connections.Dec()
		}
	})
}

// HandleConnection upgrades the request and runs the connection until the
// transport drops. The caller has already authenticated the session and
// resolved the effective tenant; id is trusted here.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request, id Identity) {
	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	c := &conn{
		id:          uuidv7.MustNewString(),
		resumeToken: uuidv7.MustNewString(),
		identity:    id,
		gw:          g,
		sock:        sock,
		send:        make(chan Event, sendQueueSize),
		done:        make(chan struct{}),
	}
	if g.metrics != nil {
		g.metrics.Connections.Inc()
	}

	// Every connection observes its own tenant's presence updates.
	g.joinRoom(r.Context(), c, PresenceRoom(id.EffectiveTenantID))

	replayed := g.resume(r.Context(), c, r.URL.Query().Get("resume"))
	g.sendReady(c, replayed)

	// First liveness signal: a reconnect flips the actor back online
	// without waiting for the next ping frame.
	g.presence.Ping(id.ActorID, id.EffectiveTenantID)

	go c.writePump()
	c.readPump(r.Context())
}

// resume replays the retained room set for a prior connection, exactly once
// per room, and returns the rooms that were rejoined. An expired, foreign or
// re-scoped token resumes nothing.
func (g *Gateway) resume(ctx context.Context, c *conn, token string) []RoomKey {
	if token == "" {
		return nil
	}

	g.mu.Lock()
	prior, ok := g.retained[token]
	if ok {
		delete(g.retained, token)
	}
	g.sweepRetainedLocked()
	g.mu.Unlock()

	if !ok || g.clk.Now().After(prior.expiresAt) {
		return nil
	}
	if prior.actorID != c.identity.ActorID || prior.tenantID != c.identity.EffectiveTenantID {
		g.logf("realtime: resume token scope mismatch for connection %s", c.id)
		return nil
	}

	var replayed []RoomKey
	for _, room := range prior.rooms {
		if g.joinRoom(ctx, c, room) {
			replayed = append(replayed, room)
		}
	}
	if g.metrics != nil {
		g.metrics.Resumes.Inc()
	}
	return replayed
}

func (g *Gateway) retain(c *conn, rooms []RoomKey) {
	if len(rooms) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retained[c.resumeToken] = retainedConn{
		actorID:   c.identity.ActorID,
		tenantID:  c.identity.EffectiveTenantID,
		rooms:     rooms,
		expiresAt: g.clk.Now().Add(g.resumeWindow),
	}
	g.sweepRetainedLocked()
}

func (g *Gateway) sweepRetainedLocked() {
	now := g.clk.Now()
	for token, rec := range g.retained {
		if now.After(rec.expiresAt) {
			delete(g.retained, token)
		}
	}
}

func (g *Gateway) sendReady(c *conn, replayed []RoomKey) {
	rooms := make([]string, 0, len(replayed))
	for _, room := range replayed {
		rooms = append(rooms, string(room))
	}
	sort.Strings(rooms)
	payload, _ := json.Marshal(ReadyPayload{
		ConnectionID:  c.id,
		ResumeToken:   c.resumeToken,
		ReplayedRooms: rooms,
	})
	c.deliver(Event{EventName: EventReady, Payload: payload, EmittedAt: g.clk.Now()})
}

// joinRoom enforces tenant scoping and idempotency. Rejections are silent to
// the client: logged, counted, never fatal to the transport.
func (g *Gateway) joinRoom(ctx context.Context, c *conn, room RoomKey) bool {
	tenant, ok := g.roomTenant(ctx, room)
	if !ok {
		g.logf("realtime: join rejected, unresolvable room %q for connection %s", room, c.id)
		if g.metrics != nil {
			g.metrics.RejectedJoins.Inc()
		}
		return false
	}
	if tenant != c.identity.EffectiveTenantID {
		g.logf("realtime: join rejected, room %q belongs to another tenant (connection %s)", room, c.id)
		if g.metrics != nil {
			g.metrics.RejectedJoins.Inc()
		}
		return false
	}
	if !g.registry.Join(c, room, tenant) {
		// Already a member: idempotent no-op, observable only here.
		g.logf("realtime: duplicate join of %q by connection %s", room, c.id)
		return false
	}
	if g.metrics != nil {
		g.metrics.Joins.Inc()
	}
	return true
}

func (g *Gateway) roomTenant(ctx context.Context, room RoomKey) (string, bool) {
	kind, id, ok := room.Kind()
	if !ok {
		return "", false
	}
	// Presence rooms are tenant-named and server-assigned.
	if kind == RoomKindPresence {
		return id, true
	}
	tenant, ok, err := g.scope.TenantForRoom(ctx, room)
	if err != nil {
		g.logf("realtime: room scope lookup failed for %q: %v", room, err)
		return "", false
	}
	return tenant, ok
}

// Emit delivers a server-initiated event to every connection joined to its
// room. Best-effort: no acknowledgement, no retry; reconnect-time resync is
// the receiving client's job.
func (g *Gateway) Emit(room RoomKey, eventName string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := Event{EventName: eventName, Room: room, Payload: b, EmittedAt: g.clk.Now()}
	n := g.registry.Deliver(ev)
	if g.metrics != nil && n > 0 {
		g.metrics.EventsDelivered.WithLabelValues(eventName).Add(float64(n))
	}
	return nil
}

// PresenceUpdate implements the tracker's update hook: singles go out as
// presence:update, sweep batches as presence:bulkUpdate, always into the
// owning tenant's presence room.
func (g *Gateway) PresenceUpdate(tenantID string, states []PresenceState) {
	if len(states) == 0 {
		return
	}
	room := PresenceRoom(tenantID)
	if len(states) == 1 {
		_ = g.Emit(room, EventPresenceUpdate, states[0])
		return
	}
	_ = g.Emit(room, EventPresenceBulkUpdate, states)
}

func (c *conn) readPump(ctx context.Context) {
	defer c.teardown()
	for {
		_ = c.sock.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.gw.logf("realtime: malformed frame from connection %s", c.id)
			continue
		}
		switch msg.Kind {
		case MessageKindPing:
			c.gw.presence.Ping(c.identity.ActorID, c.identity.EffectiveTenantID)
		case MessageKindJoin:
			room, ok := RoomFromMessage(msg)
			if !ok {
				c.gw.logf("realtime: join with invalid room from connection %s", c.id)
				continue
			}
			c.gw.joinRoom(ctx, c, room)
		case MessageKindLeave:
			room, ok := RoomFromMessage(msg)
			if !ok {
				continue
			}
			c.gw.registry.Leave(c, room)
		default:
			c.gw.logf("realtime: unknown frame kind %q from connection %s", msg.Kind, c.id)
		}
	}
}

func (c *conn) writePump() {
	defer c.teardown()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
