package realtime

import (
	"encoding/json"
	"testing"
)

type fakeSub struct {
	id     string
	tenant string
	got    []Event
	refuse bool
}

func (s *fakeSub) ConnectionID() string      { return s.id }
func (s *fakeSub) EffectiveTenantID() string { return s.tenant }
func (s *fakeSub) deliver(ev Event) bool {
	if s.refuse {
		return false
	}
	s.got = append(s.got, ev)
	return true
}

func event(room RoomKey, name string) Event {
	return Event{EventName: name, Room: room, Payload: json.RawMessage(`{}`)}
}

func TestRegistry_JoinIdempotent(t *testing.T) {
	r := NewRegistry()
	s := &fakeSub{id: "c1", tenant: "t1"}

	if !r.Join(s, ProjectRoom("p1"), "t1") {
		t.Fatal("first join must succeed")
	}
	for range 3 {
		if r.Join(s, ProjectRoom("p1"), "t1") {
			t.Fatal("repeat join must be a no-op")
		}
	}

	if n := r.Deliver(event(ProjectRoom("p1"), EventTaskChanged)); n != 1 {
		t.Fatalf("delivered to %d connections", n)
	}
	if len(s.got) != 1 {
		t.Fatalf("connection received %d events, want exactly 1", len(s.got))
	}
}

func TestRegistry_CrossTenantJoinRefused(t *testing.T) {
	r := NewRegistry()
	insider := &fakeSub{id: "c1", tenant: "t1"}
	outsider := &fakeSub{id: "c2", tenant: "t2"}

	if !r.Join(insider, ProjectRoom("p1"), "t1") {
		t.Fatal("insider join")
	}
	if r.Join(outsider, ProjectRoom("p1"), "t1") {
		t.Fatal("outsider must not join a t1 room")
	}

	r.Deliver(event(ProjectRoom("p1"), EventTaskChanged))
	if len(outsider.got) != 0 {
		t.Fatal("outsider must receive nothing")
	}
	if len(insider.got) != 1 {
		t.Fatal("insider must receive the event")
	}
}

func TestRegistry_RoomOwnerPinned(t *testing.T) {
	r := NewRegistry()
	s1 := &fakeSub{id: "c1", tenant: "t1"}
	s2 := &fakeSub{id: "c2", tenant: "t2"}

	if !r.Join(s1, RoomKey("project:p1"), "t1") {
		t.Fatal("join")
	}
	// Even a caller claiming the room belongs to t2 cannot re-home it while
	// it has subscribers.
	if r.Join(s2, RoomKey("project:p1"), "t2") {
		t.Fatal("conflicting owner must be refused")
	}
	if owner, ok := r.RoomTenant(RoomKey("project:p1")); !ok || owner != "t1" {
		t.Fatalf("owner=%q ok=%v", owner, ok)
	}
}

func TestRegistry_LeaveIdempotent(t *testing.T) {
	r := NewRegistry()
	s := &fakeSub{id: "c1", tenant: "t1"}

	if r.Leave(s, ProjectRoom("p1")) {
		t.Fatal("leaving a never-joined room must be a no-op")
	}
	r.Join(s, ProjectRoom("p1"), "t1")
	if !r.Leave(s, ProjectRoom("p1")) {
		t.Fatal("leave")
	}
	if r.Leave(s, ProjectRoom("p1")) {
		t.Fatal("second leave must be a no-op")
	}
	if n := r.Deliver(event(ProjectRoom("p1"), EventTaskChanged)); n != 0 {
		t.Fatalf("delivered=%d", n)
	}
}

func TestRegistry_RemoveConnectionReturnsRooms(t *testing.T) {
	r := NewRegistry()
	s := &fakeSub{id: "c1", tenant: "t1"}
	r.Join(s, ProjectRoom("p1"), "t1")
	r.Join(s, ChannelRoom("general"), "t1")

	rooms := r.RemoveConnection("c1")
	if len(rooms) != 2 {
		t.Fatalf("rooms=%v", rooms)
	}
	if again := r.RemoveConnection("c1"); again != nil {
		t.Fatalf("second remove=%v", again)
	}
	if _, ok := r.RoomTenant(ProjectRoom("p1")); ok {
		t.Fatal("empty room must release its tenant pin")
	}
}

func TestRegistry_DeliverOrderPerRoom(t *testing.T) {
	r := NewRegistry()
	s := &fakeSub{id: "c1", tenant: "t1"}
	r.Join(s, ProjectRoom("p1"), "t1")

	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		r.Deliver(event(ProjectRoom("p1"), n))
	}
	if len(s.got) != len(names) {
		t.Fatalf("got=%d", len(s.got))
	}
	for i, n := range names {
		if s.got[i].EventName != n {
			t.Fatalf("event %d = %q, want %q", i, s.got[i].EventName, n)
		}
	}
}

func TestRegistry_DeliverCountsOnlyAccepted(t *testing.T) {
	r := NewRegistry()
	ok := &fakeSub{id: "c1", tenant: "t1"}
	gone := &fakeSub{id: "c2", tenant: "t1", refuse: true}
	r.Join(ok, ProjectRoom("p1"), "t1")
	r.Join(gone, ProjectRoom("p1"), "t1")

	if n := r.Deliver(event(ProjectRoom("p1"), EventTaskChanged)); n != 1 {
		t.Fatalf("delivered=%d", n)
	}
}
