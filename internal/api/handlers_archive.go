package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/org/sessionvault/internal/archive"
	"github.com/org/sessionvault/pkg/models"
)

// writeEngineError maps the engine's error taxonomy onto status codes:
// not-found 404, double-archive 409, bad input 400, corruption 500
// (operator alert, not a client problem), storage trouble 502.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, archive.ErrAlreadyArchived):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, archive.ErrInvalidTier), errors.Is(err, archive.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, archive.ErrStorage):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ArchiveCreateHandler handles POST /v1/archives
func (s *Server) ArchiveCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Session        *models.SessionRecord `json:"session"`
		Notes          []models.Note         `json:"notes"`
		ArchivedBy     string                `json:"archived_by"`
		ArchivedByName string                `json:"archived_by_name"`
		Tier           models.RetentionTier  `json:"retention_tier"`
		RetentionDays  int                   `json:"retention_days"`
		Metadata       map[string]string     `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ArchivedBy == "" {
		req.ArchivedBy = actorFromCtx(r.Context())
	}

	rec, err := s.engine.ArchiveSession(r.Context(), archive.Request{
		Session:        req.Session,
		Notes:          req.Notes,
		ArchivedBy:     req.ArchivedBy,
		ArchivedByName: req.ArchivedByName,
		Tier:           req.Tier,
		RetentionDays:  req.RetentionDays,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": rec})
}

// ArchiveListHandler handles GET /v1/archives
func (s *Server) ArchiveListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ArchiveFilter{
		UserID:     q.Get("user_id"),
		Severity:   q.Get("severity"),
		Tier:       models.RetentionTier(q.Get("tier")),
		ArchivedBy: q.Get("archived_by"),
		Limit:      intParam(q.Get("limit"), 0),
		Offset:     intParam(q.Get("offset"), 0),
	}
	var ok bool
	if filter.From, ok = timeParam(q.Get("from")); !ok {
		writeError(w, http.StatusBadRequest, "invalid from timestamp, want RFC3339")
		return
	}
	if filter.To, ok = timeParam(q.Get("to")); !ok {
		writeError(w, http.StatusBadRequest, "invalid to timestamp, want RFC3339")
		return
	}

	recs, total, err := s.engine.List(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   recs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// ArchiveGetHandler handles GET /v1/archives/{id}
func (s *Server) ArchiveGetHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// ArchiveBySessionHandler handles GET /v1/archives/session/{sessionID}
func (s *Server) ArchiveBySessionHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetBySession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// ArchivePayloadHandler handles GET /v1/archives/{id}/payload. The
// response body is the decrypted archive payload document.
func (s *Server) ArchivePayloadHandler(w http.ResponseWriter, r *http.Request) {
	plaintext, rec, err := s.engine.Retrieve(r.Context(), chi.URLParam(r, "id"), actorFromCtx(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writePayload(w, rec, plaintext)
}

// SessionPayloadHandler handles GET /v1/archives/session/{sessionID}/payload
func (s *Server) SessionPayloadHandler(w http.ResponseWriter, r *http.Request) {
	plaintext, rec, err := s.engine.RetrieveBySession(r.Context(), chi.URLParam(r, "sessionID"), actorFromCtx(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writePayload(w, rec, plaintext)
}

func writePayload(w http.ResponseWriter, rec *models.Archive, plaintext []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Archive-Session", rec.SessionID)
	w.WriteHeader(http.StatusOK)
	w.Write(plaintext) //nolint:errcheck
}

// RetentionExtendHandler handles POST /v1/archives/{id}/retention/extend
func (s *Server) RetentionExtendHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.engine.ExtendRetention(r.Context(), chi.URLParam(r, "id"), req.Days, actorFromCtx(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// RetentionPermanentHandler handles POST /v1/archives/{id}/retention/permanent
func (s *Server) RetentionPermanentHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.SetPermanent(r.Context(), chi.URLParam(r, "id"), actorFromCtx(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// ArchiveDeleteHandler handles DELETE /v1/archives/{id}
func (s *Server) ArchiveDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "id"), actorFromCtx(r.Context())); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveExpiringHandler handles GET /v1/archives/expiring?days=N
func (s *Server) ArchiveExpiringHandler(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), 30)
	expiring, err := s.engine.ExpiringSoon(r.Context(), days)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": expiring, "days": days})
}

// ArchiveStatsHandler handles GET /v1/archives/stats
func (s *Server) ArchiveStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stats})
}

// query-param helpers

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func timeParam(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}
