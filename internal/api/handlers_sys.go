package api

import (
	"net/http"
)

// HealthHandler handles GET /v1/sys/health. It pings the metadata store
// and probes the object store; either failing flips the response to 503
// so load balancers stop routing here.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus := "ok"
	healthy := true
	if err := s.store.Ping(ctx); err != nil {
		dbStatus = err.Error()
		healthy = false
	}

	blobHealth := s.blobs.HealthCheck(ctx)
	if !blobHealth.Healthy {
		healthy = false
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy":      healthy,
		"database":     dbStatus,
		"object_store": blobHealth,
	})
}
