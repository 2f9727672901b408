package server

import (
	"net/http"

	"github.com/hivedesk/hivedesk/internal/realtime"
	"github.com/hivedesk/hivedesk/internal/routing"
)

// handleRealtimeSocket upgrades an authenticated request into a gateway
// connection. Credential checks happened in the middleware chain before the
// upgrade: a request without a valid session never reaches this handler, so
// no connection record exists for it.
func handleRealtimeSocket(w http.ResponseWriter, r *http.Request, gw *realtime.Gateway) {
	tc, tenantID, ok := requireTenantContext(w, r, routing.RouteClassWebsocket)
	if !ok {
		return
	}
	gw.HandleConnection(w, r, realtime.Identity{
		ActorID:           tc.EffectiveActorID(),
		EffectiveTenantID: tenantID,
	})
}

// handlePresenceSnapshotAPI is the bulk fetch a client performs on every
// (re)connect, covering the window its transport was down.
func handlePresenceSnapshotAPI(w http.ResponseWriter, r *http.Request, presence *realtime.PresenceTracker) {
	const rc = routing.RouteClassInternalAPI
	_, tenantID, ok := requireTenantContext(w, r, rc)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presence": presence.Snapshot(tenantID)})
}
