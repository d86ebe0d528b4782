package api

import (
	"net/http"

	"github.com/avastusrada/permsync/pkg/httputil"
)

// handleListPasses returns recent synchronization passes, newest first.
// ?entityId= filters to one entity; ?limit= caps the result (default 50).
func (s *Server) handleListPasses(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	passLog := s.opts.SyncService.PassLog()
	if entityID := httputil.ParseQueryString(r, "entityId", ""); entityID != "" {
		httputil.WriteSuccess(w, passLog.ByEntity(entityID))
		return
	}
	httputil.WriteSuccess(w, passLog.Recent(limit))
}

// handleSyncStats returns aggregate pass statistics plus the live queue depth.
func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	stats := s.opts.SyncService.PassLog().Stats()
	httputil.WriteSuccess(w, map[string]interface{}{
		"passes":      stats,
		"queue_depth": s.opts.SyncService.QueueDepth(),
	})
}
