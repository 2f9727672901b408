package realtime

import (
	"encoding/json"
	"reflect"
	"testing"
)

const testRulesYAML = `
version: 1
events:
  "task:changed":
    - "'project-tasks:' + payload.projectId"
    - "'task:' + payload.taskId"
  "chat:message":
    - "'chat-messages:' + payload.roomId"
  "presence:update":
    - "'presence'"
  "presence:bulkUpdate":
    - "'presence'"
`

func TestInvalidationMap_Keys(t *testing.T) {
	m, err := ParseInvalidationRulesYAML([]byte(testRulesYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	payload, _ := json.Marshal(TaskChangedPayload{TaskID: "x", ProjectID: "p1", Action: "moved"})
	keys, err := m.Keys(Event{EventName: EventTaskChanged, Payload: payload})
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"project-tasks:p1", "task:x"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys=%v want=%v", keys, want)
	}
}

func TestInvalidationMap_ArrayPayload(t *testing.T) {
	m, err := ParseInvalidationRulesYAML([]byte(testRulesYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Sweep batches deliver a state slice, not an object.
	payload, _ := json.Marshal([]PresenceState{{UserID: "u1"}, {UserID: "u2"}})
	keys, err := m.Keys(Event{EventName: EventPresenceBulkUpdate, Payload: payload})
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"presence"}) {
		t.Fatalf("keys=%v want=[presence]", keys)
	}

	if _, err := m.Keys(Event{EventName: EventPresenceBulkUpdate, Payload: json.RawMessage(`{not json`)}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestInvalidationMap_UnknownEventInvalidatesNothing(t *testing.T) {
	m, err := ParseInvalidationRulesYAML([]byte(testRulesYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	keys, err := m.Keys(Event{EventName: "nope", Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if keys != nil {
		t.Fatalf("keys=%v", keys)
	}
}

func TestInvalidationMap_Deterministic(t *testing.T) {
	m, err := ParseInvalidationRulesYAML([]byte(testRulesYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload, _ := json.Marshal(ChatMessagePayload{MessageID: "m1", RoomID: "general", AuthorID: "u1"})
	first, err := m.Keys(Event{EventName: EventChatMessage, Payload: payload})
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	for range 5 {
		again, err := m.Keys(Event{EventName: EventChatMessage, Payload: payload})
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("first=%v again=%v", first, again)
		}
	}
}

func TestParseInvalidationRulesYAML_Errors(t *testing.T) {
	if _, err := ParseInvalidationRulesYAML([]byte("version: 2\nevents: {a: [\"'x'\"]}\n")); err == nil {
		t.Fatal("expected version error")
	}
	if _, err := ParseInvalidationRulesYAML([]byte("version: 1\nevents: {}\n")); err == nil {
		t.Fatal("expected empty rules error")
	}
	// A bad expression fails at load time, not at delivery.
	if _, err := ParseInvalidationRulesYAML([]byte("version: 1\nevents: {a: [\"payload.\"]}\n")); err == nil {
		t.Fatal("expected compile error")
	}
}
