package api

import (
	"net/http"
	"time"

	"github.com/org/sessionvault/internal/storage"
)

// AuditLogHandler handles GET /v1/sys/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AuditFilter{
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
		Limit:    intParam(q.Get("limit"), 100),
		Offset:   intParam(q.Get("offset"), 0),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp, want RFC3339")
			return
		}
		filter.Since = &t
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}
