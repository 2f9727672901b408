package server

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/hivedesk/hivedesk/internal/realtime"
)

// pgRoomScope resolves a room key to its owning tenant from the records the
// room is named after. The gateway refuses any room this cannot resolve.
type pgRoomScope struct {
	q queryRower
}

func newPGRoomScope(q queryRower) *pgRoomScope {
	return &pgRoomScope{q: q}
}

func (s *pgRoomScope) TenantForRoom(ctx context.Context, room realtime.RoomKey) (string, bool, error) {
	kind, id, ok := room.Kind()
	if !ok {
		return "", false, nil
	}

	var sql string
	switch kind {
	case realtime.RoomKindProject:
		sql = `SELECT tenant_id::text FROM workspace.projects WHERE id = $1 AND deleted_at IS NULL;`
	case realtime.RoomKindChannel:
		sql = `SELECT tenant_id::text FROM chat.channels WHERE id = $1 AND deleted_at IS NULL;`
	case realtime.RoomKindDM:
		sql = `SELECT tenant_id::text FROM chat.dm_threads WHERE id = $1;`
	case realtime.RoomKindPresence:
		return id, true, nil
	default:
		return "", false, nil
	}

	var tenantID string
	if err := s.q.QueryRow(ctx, sql, id).Scan(&tenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		if isPgInvalidInput(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return tenantID, true, nil
}

// MemoryRoomScope is the in-process double used without a database.
type MemoryRoomScope struct {
	mu    sync.Mutex
	rooms map[realtime.RoomKey]string
}

func NewMemoryRoomScope() *MemoryRoomScope {
	return &MemoryRoomScope{rooms: map[realtime.RoomKey]string{}}
}

func (s *MemoryRoomScope) Put(room realtime.RoomKey, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = tenantID
}

func (s *MemoryRoomScope) TenantForRoom(_ context.Context, room realtime.RoomKey) (string, bool, error) {
	if kind, id, ok := room.Kind(); ok && kind == realtime.RoomKindPresence {
		return id, true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tenantID, ok := s.rooms[room]
	return tenantID, ok, nil
}
