package realtime

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
)

// Invalidator is the cache collaborator: it drops query keys when told, and
// treats a full resync as authoritative over anything that happened while
// the transport was down.
type Invalidator interface {
	Invalidate(keys []string)
	InvalidateAll()
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate([]string) {}
func (noopInvalidator) InvalidateAll()      {}

// Backoff is the redial schedule: exponential with jitter, capped, and never
// giving up while the process lives.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2.0}
}

// withDefaults fills unset fields one by one, so a caller overriding only
// Initial still gets a growing, capped schedule instead of a zero-delay
// redial loop.
func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	return b
}

// next returns the delay for attempt n (0-based) with equal jitter: half
// fixed, half random, so synchronized clients spread their redials.
func (b Backoff) next(n int, rng *rand.Rand) time.Duration {
	d := float64(b.Initial)
	for range n {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	half := d / 2
	return time.Duration(half + rng.Float64()*half)
}

type ClientOptions struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Header carries the session credential; the server rejects the
	// handshake without it.
	Header       http.Header
	Invalidator  Invalidator
	Invalidation *InvalidationMap
	OnEvent      func(Event)
	Backoff      Backoff
	PingInterval time.Duration
	Clock        clock.Clock
	Logf         func(format string, args ...any)
}

// Client maintains one live connection to the gateway across transport
// drops. It tracks the room set the application wants, resumes server-side
// replay where possible, and fills the difference itself after ready.
type Client struct {
	opts ClientOptions
	clk  clock.Clock
	logf func(format string, args ...any)
	rng  *rand.Rand

	mu          sync.Mutex
	desired     map[ClientMessage]bool
	resumeToken string
	sock        *websocket.Conn

	writeMu sync.Mutex
}

func NewClient(opts ClientOptions) *Client {
	if opts.Invalidator == nil {
		opts.Invalidator = noopInvalidator{}
	}
	opts.Backoff = opts.Backoff.withDefaults()
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Client{
		opts:    opts,
		clk:     clk,
		logf:    logf,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		desired: map[ClientMessage]bool{},
	}
}

// Join marks a room as wanted and subscribes now if connected. The server
// treats repeats as no-ops, so Join is safe to call optimistically.
func (c *Client) Join(roomType string, roomID string) {
	msg := ClientMessage{Kind: MessageKindJoin, RoomType: roomType, RoomID: roomID}
	c.mu.Lock()
	c.desired[ClientMessage{RoomType: roomType, RoomID: roomID}] = true
	sock := c.sock
	c.mu.Unlock()
	if sock != nil {
		c.writeFrame(sock, msg)
	}
}

func (c *Client) Leave(roomType string, roomID string) {
	c.mu.Lock()
	delete(c.desired, ClientMessage{RoomType: roomType, RoomID: roomID})
	sock := c.sock
	c.mu.Unlock()
	if sock != nil {
		c.writeFrame(sock, ClientMessage{Kind: MessageKindLeave, RoomType: roomType, RoomID: roomID})
	}
}

// Run dials and re-dials until ctx is done.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		sock, err := c.dial(ctx)
		if err != nil {
			delay := c.opts.Backoff.next(attempt, c.rng)
			attempt++
			c.logf("realtime client: dial failed (%v), retrying in %s", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-c.clk.After(delay):
			}
			continue
		}
		attempt = 0
		c.runConn(ctx, sock)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.opts.URL
	c.mu.Lock()
	if c.resumeToken != "" {
		url += "?resume=" + c.resumeToken
	}
	c.mu.Unlock()

	sock, resp, err := websocket.DefaultDialer.DialContext(ctx, url, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return sock, err
}

func (c *Client) runConn(ctx context.Context, sock *websocket.Conn) {
	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sock = nil
		c.mu.Unlock()
		_ = sock.Close()
	}()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, sock)

	for {
		if ctx.Err() != nil {
			return
		}
		var ev Event
		if err := sock.ReadJSON(&ev); err != nil {
			return
		}
		if ev.EventName == EventReady {
			c.handleReady(sock, ev)
			continue
		}
		c.handleEvent(ev)
	}
}

// handleReady stores the next resume token, joins whatever the server did
// not replay, and invalidates everything: the disconnected window may have
// dropped events and the full resync is authoritative.
func (c *Client) handleReady(sock *websocket.Conn, ev Event) {
	var ready ReadyPayload
	if err := json.Unmarshal(ev.Payload, &ready); err != nil {
		c.logf("realtime client: malformed ready payload: %v", err)
		return
	}

	replayed := map[string]bool{}
	for _, room := range ready.ReplayedRooms {
		replayed[room] = true
	}

	c.mu.Lock()
	c.resumeToken = ready.ResumeToken
	var missing []ClientMessage
	for want := range c.desired {
		msg := ClientMessage{Kind: MessageKindJoin, RoomType: want.RoomType, RoomID: want.RoomID}
		if room, ok := RoomFromMessage(msg); ok && !replayed[string(room)] {
			missing = append(missing, msg)
		}
	}
	c.mu.Unlock()

	for _, msg := range missing {
		c.writeFrame(sock, msg)
	}
	c.opts.Invalidator.InvalidateAll()
}

func (c *Client) handleEvent(ev Event) {
	if c.opts.Invalidation != nil {
		keys, err := c.opts.Invalidation.Keys(ev)
		if err != nil {
			c.logf("realtime client: invalidation mapping for %q failed: %v", ev.EventName, err)
		} else if len(keys) > 0 {
			c.opts.Invalidator.Invalidate(keys)
		}
	}
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
}

func (c *Client) pingLoop(ctx context.Context, sock *websocket.Conn) {
	ticker := c.clk.Ticker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeFrame(sock, ClientMessage{Kind: MessageKindPing})
		}
	}
}

func (c *Client) writeFrame(sock *websocket.Conn, msg ClientMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sock.WriteJSON(msg); err != nil {
		c.logf("realtime client: write failed: %v", err)
	}
}
