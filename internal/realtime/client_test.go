package realtime

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestBackoff_NextBounds(t *testing.T) {
	b := DefaultBackoff()
	rng := rand.New(rand.NewSource(1))

	for n := range 12 {
		full := float64(b.Initial)
		for range n {
			full *= b.Multiplier
			if full >= float64(b.Max) {
				full = float64(b.Max)
				break
			}
		}
		for range 50 {
			d := b.next(n, rng)
			if float64(d) < full/2 || float64(d) > full {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", n, d, time.Duration(full/2), time.Duration(full))
			}
		}
	}
}

func TestBackoff_NextCapsAtMax(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2.0}
	rng := rand.New(rand.NewSource(1))
	for range 50 {
		if d := b.next(100, rng); d > b.Max {
			t.Fatalf("delay %s above cap %s", d, b.Max)
		}
	}
}

func TestBackoff_PartialOverrideKeepsGrowth(t *testing.T) {
	// Only Initial set: the schedule must still grow and cap, never collapse
	// to zero delays.
	b := Backoff{Initial: time.Second}.withDefaults()
	if b.Multiplier < 1 || b.Max <= 0 {
		t.Fatalf("withDefaults left %+v", b)
	}
	rng := rand.New(rand.NewSource(1))
	for n := 1; n < 10; n++ {
		if d := b.next(n, rng); d < b.Initial/2 {
			t.Fatalf("attempt %d: delay %s below initial floor", n, d)
		}
	}

	// A fully zero value is the stock schedule.
	if got, want := (Backoff{}).withDefaults(), DefaultBackoff(); got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestClient_DesiredRoomBookkeeping(t *testing.T) {
	c := NewClient(ClientOptions{URL: "ws://unused", Logf: quietLogf})

	c.Join(string(RoomKindProject), "p1")
	c.Join(string(RoomKindProject), "p1")
	c.Join(string(RoomKindChannel), "general")
	c.Leave(string(RoomKindChannel), "general")

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.desired) != 1 {
		t.Fatalf("desired=%v", c.desired)
	}
	if !c.desired[ClientMessage{RoomType: string(RoomKindProject), RoomID: "p1"}] {
		t.Fatalf("desired=%v", c.desired)
	}
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys [][]string
	all  int
}

func (r *recordingInvalidator) Invalidate(keys []string) {
	r.mu.Lock()
	r.keys = append(r.keys, keys)
	r.mu.Unlock()
}

func (r *recordingInvalidator) InvalidateAll() {
	r.mu.Lock()
	r.all++
	r.mu.Unlock()
}

func (r *recordingInvalidator) allCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all
}

func (r *recordingInvalidator) lastKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return nil
	}
	return r.keys[len(r.keys)-1]
}

func TestClient_EndToEnd(t *testing.T) {
	h := newGatewayHarness(t, staticScope{ProjectRoom("p1"): "t1"}, clock.New())
	h.setIdentity(Identity{ActorID: "u1", EffectiveTenantID: "t1"})

	rules, err := ParseInvalidationRulesYAML([]byte(testRulesYAML))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}

	inv := &recordingInvalidator{}
	var gotMu sync.Mutex
	var got []Event
	c := NewClient(ClientOptions{
		URL:          "ws" + strings.TrimPrefix(h.srv.URL, "http"),
		Invalidator:  inv,
		Invalidation: rules,
		OnEvent: func(ev Event) {
			gotMu.Lock()
			got = append(got, ev)
			gotMu.Unlock()
		},
		Backoff: Backoff{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2.0},
		Logf:    quietLogf,
	})
	c.Join(string(RoomKindProject), "p1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Rooms exist in the registry only while subscribed, so membership is
	// observable without knowing the connection id.
	waitFor(t, "client join", func() bool {
		_, ok := h.gw.registry.RoomTenant(ProjectRoom("p1"))
		return ok
	})
	waitFor(t, "ready resync", func() bool { return inv.allCount() == 1 })

	_ = h.gw.Emit(ProjectRoom("p1"), EventTaskChanged, TaskChangedPayload{TaskID: "x", ProjectID: "p1", Action: "updated"})
	waitFor(t, "event delivery", func() bool {
		gotMu.Lock()
		defer gotMu.Unlock()
		return len(got) == 1
	})
	gotMu.Lock()
	if got[0].EventName != EventTaskChanged {
		t.Fatalf("event=%q", got[0].EventName)
	}
	gotMu.Unlock()
	keys := inv.lastKeys()
	if len(keys) != 2 || keys[0] != "project-tasks:p1" || keys[1] != "task:x" {
		t.Fatalf("keys=%v", keys)
	}

	// Drop the transport: the client redials with its resume token, the
	// server replays the room, and the client resyncs again.
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		t.Fatal("no live socket")
	}
	_ = sock.Close()

	waitFor(t, "reconnect resync", func() bool { return inv.allCount() == 2 })
	waitFor(t, "room membership restored", func() bool {
		_, ok := h.gw.registry.RoomTenant(ProjectRoom("p1"))
		return ok
	})

	_ = h.gw.Emit(ProjectRoom("p1"), EventTaskChanged, TaskChangedPayload{TaskID: "y", ProjectID: "p1", Action: "moved"})
	waitFor(t, "post-reconnect delivery", func() bool {
		gotMu.Lock()
		defer gotMu.Unlock()
		return len(got) >= 2
	})
}

func TestClient_EventWithoutRulesStillDispatches(t *testing.T) {
	inv := &recordingInvalidator{}
	var seen []Event
	c := NewClient(ClientOptions{
		URL:         "ws://unused",
		Invalidator: inv,
		OnEvent:     func(ev Event) { seen = append(seen, ev) },
		Logf:        quietLogf,
	})

	c.handleEvent(Event{EventName: EventChatMessage, Room: ChannelRoom("general")})
	if len(seen) != 1 {
		t.Fatalf("seen=%d", len(seen))
	}
	if inv.lastKeys() != nil {
		t.Fatalf("keys=%v without an invalidation map", inv.lastKeys())
	}
}
