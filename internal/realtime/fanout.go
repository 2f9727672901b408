package realtime

import (
	"context"
	"log"
)

type emitter interface {
	Emit(room RoomKey, eventName string, payload any) error
}

// Fanout translates domain mutations into room-scoped events. It runs
// synchronously after the mutation's persistence write and is best-effort:
// delivery gaps are reconciled by reconnecting clients, not retried here.
type Fanout struct {
	emit  emitter
	scope RoomScopeResolver
	logf  func(format string, args ...any)
}

func NewFanout(emit emitter, scope RoomScopeResolver, logf func(format string, args ...any)) *Fanout {
	if logf == nil {
		logf = log.Printf
	}
	return &Fanout{emit: emit, scope: scope, logf: logf}
}

type TaskChangedPayload struct {
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"`
	Action    string `json:"action"`
}

type ProjectChangedPayload struct {
	ProjectID string `json:"projectId"`
	Action    string `json:"action"`
}

type ChatMessagePayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	AuthorID  string `json:"authorId"`
}

type GrantsChangedPayload struct {
	SubjectType string `json:"subjectType"`
	SubjectID   string `json:"subjectId"`
	UserID      string `json:"userId"`
	Action      string `json:"action"`
}

// TaskChanged notifies the owning project's room. action is
// created|updated|moved|deleted.
func (f *Fanout) TaskChanged(ctx context.Context, tenantID string, projectID string, taskID string, action string) {
	room := ProjectRoom(projectID)
	if !f.roomBelongsTo(ctx, room, tenantID) {
		return
	}
	_ = f.emit.Emit(room, EventTaskChanged, TaskChangedPayload{TaskID: taskID, ProjectID: projectID, Action: action})
}

func (f *Fanout) ProjectChanged(ctx context.Context, tenantID string, projectID string, action string) {
	room := ProjectRoom(projectID)
	if !f.roomBelongsTo(ctx, room, tenantID) {
		return
	}
	_ = f.emit.Emit(room, EventProjectChanged, ProjectChangedPayload{ProjectID: projectID, Action: action})
}

// ChatMessage notifies the channel or DM-thread room the message landed in.
func (f *Fanout) ChatMessage(ctx context.Context, tenantID string, kind RoomKind, roomID string, messageID string, authorID string) {
	var room RoomKey
	switch kind {
	case RoomKindChannel:
		room = ChannelRoom(roomID)
	case RoomKindDM:
		room = DMRoom(roomID)
	default:
		f.logf("realtime: chat message for non-chat room kind %q", kind)
		return
	}
	if !f.roomBelongsTo(ctx, room, tenantID) {
		return
	}
	_ = f.emit.Emit(room, EventChatMessage, ChatMessagePayload{MessageID: messageID, RoomID: roomID, AuthorID: authorID})
}

// GrantChanged notifies the room of the project owning the granted subject.
func (f *Fanout) GrantChanged(ctx context.Context, tenantID string, projectID string, subjectType string, subjectID string, userID string, action string) {
	room := ProjectRoom(projectID)
	if !f.roomBelongsTo(ctx, room, tenantID) {
		return
	}
	_ = f.emit.Emit(room, EventGrantsChanged, GrantsChangedPayload{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		UserID:      userID,
		Action:      action,
	})
}

// roomBelongsTo refuses any emission whose target room is not owned by the
// mutation's tenant. A mismatch is a programming error upstream, never a
// reason to widen delivery.
func (f *Fanout) roomBelongsTo(ctx context.Context, room RoomKey, tenantID string) bool {
	owner, ok, err := f.scope.TenantForRoom(ctx, room)
	if err != nil {
		f.logf("realtime: fanout scope lookup failed for %q: %v", room, err)
		return false
	}
	if !ok {
		f.logf("realtime: fanout to unresolvable room %q dropped", room)
		return false
	}
	if owner != tenantID {
		f.logf("realtime: SECURITY fanout to %q blocked, room owned by %q not %q", room, owner, tenantID)
		return false
	}
	return true
}
