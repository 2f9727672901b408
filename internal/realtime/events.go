// Package realtime owns the persistent client channels: the websocket
// gateway, the room registry, presence tracking and event fanout. Rooms are
// broadcast groups owned by exactly one tenant; nothing in this package may
// move an event across that boundary.
package realtime

import (
	"encoding/json"
	"strings"
	"time"
)

// RoomKey identifies a broadcast group, namespaced by kind.
type RoomKey string

type RoomKind string

const (
	RoomKindProject  RoomKind = "project"
	RoomKindChannel  RoomKind = "channel"
	RoomKindDM       RoomKind = "dm"
	RoomKindPresence RoomKind = "presence"
)

func ProjectRoom(projectID string) RoomKey { return RoomKey("project:" + projectID) }
func ChannelRoom(channelID string) RoomKey { return RoomKey("channel:" + channelID) }
func DMRoom(threadID string) RoomKey       { return RoomKey("dm:" + threadID) }
func PresenceRoom(tenantID string) RoomKey { return RoomKey("presence:" + tenantID) }

func (k RoomKey) Kind() (RoomKind, string, bool) {
	kind, id, ok := strings.Cut(string(k), ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch RoomKind(kind) {
	case RoomKindProject, RoomKindChannel, RoomKindDM, RoomKindPresence:
		return RoomKind(kind), id, true
	default:
		return "", "", false
	}
}

// ClientMessage is the client→server frame contract.
type ClientMessage struct {
	Kind     string `json:"kind"` // "join" | "leave" | "ping"
	RoomType string `json:"roomType,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
}

const (
	MessageKindJoin  = "join"
	MessageKindLeave = "leave"
	MessageKindPing  = "ping"
)

// RoomFromMessage maps a join/leave frame to a room key; presence rooms are
// server-assigned and not joinable by request.
func RoomFromMessage(m ClientMessage) (RoomKey, bool) {
	if m.RoomID == "" {
		return "", false
	}
	switch RoomKind(m.RoomType) {
	case RoomKindProject:
		return ProjectRoom(m.RoomID), true
	case RoomKindChannel:
		return ChannelRoom(m.RoomID), true
	case RoomKindDM:
		return DMRoom(m.RoomID), true
	default:
		return "", false
	}
}

// Event is the server→client frame contract. Payload carries identifiers
// only; receivers refetch rather than trust embedded state.
type Event struct {
	EventName string          `json:"eventName"`
	Room      RoomKey         `json:"room"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emittedAt"`
}

const (
	EventReady              = "ready"
	EventTaskChanged        = "task:changed"
	EventProjectChanged     = "project:changed"
	EventChatMessage        = "chat:message"
	EventGrantsChanged      = "grants:changed"
	EventPresenceUpdate     = "presence:update"
	EventPresenceBulkUpdate = "presence:bulkUpdate"
)

// ReadyPayload tells a (re)connecting client which rooms were replayed and
// which connection id to resume with next time. Consumers treat the window
// before this frame as possibly stale and resync.
type ReadyPayload struct {
	ConnectionID  string   `json:"connectionId"`
	ResumeToken   string   `json:"resumeToken"`
	ReplayedRooms []string `json:"replayedRooms"`
}
