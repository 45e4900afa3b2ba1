// Package api exposes the archive engine's operations to the dashboard
// backend over HTTP. Handlers translate the engine's error taxonomy
// into status codes; they hold no archive logic of their own.
package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/sessionvault/internal/archive"
	"github.com/org/sessionvault/internal/audit"
	"github.com/org/sessionvault/internal/auth"
	"github.com/org/sessionvault/internal/objstore"
	"github.com/org/sessionvault/internal/storage"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string
	TLSCertFile    string
	TLSKeyFile     string
	RateLimitRPS   int
	RateLimitBurst int
}

// BlobHealth is the probe interface the health endpoint needs from the
// object store.
type BlobHealth interface {
	HealthCheck(ctx context.Context) *objstore.Health
}

// Server is the API server.
type Server struct {
	engine  *archive.Engine
	store   storage.Store
	blobs   BlobHealth
	auditor *audit.Recorder
	verify  *auth.Verifier
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(engine *archive.Engine, store storage.Store, blobs BlobHealth, auditor *audit.Recorder, verifier *auth.Verifier, cfg Config) *Server {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2 * cfg.RateLimitRPS
	}
	return &Server{
		engine:  engine,
		store:   store,
		blobs:   blobs,
		auditor: auditor,
		verify:  verifier,
		cfg:     cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
	})

	// Service-token guarded routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.verify))

		r.Post("/v1/archives", s.ArchiveCreateHandler)
		r.Get("/v1/archives", s.ArchiveListHandler)
		r.Get("/v1/archives/expiring", s.ArchiveExpiringHandler)
		r.Get("/v1/archives/stats", s.ArchiveStatsHandler)
		r.Get("/v1/archives/session/{sessionID}", s.ArchiveBySessionHandler)
		r.Get("/v1/archives/session/{sessionID}/payload", s.SessionPayloadHandler)
		r.Get("/v1/archives/{id}", s.ArchiveGetHandler)
		r.Get("/v1/archives/{id}/payload", s.ArchivePayloadHandler)
		r.Post("/v1/archives/{id}/retention/extend", s.RetentionExtendHandler)
		r.Post("/v1/archives/{id}/retention/permanent", s.RetentionPermanentHandler)
		r.Delete("/v1/archives/{id}", s.ArchiveDeleteHandler)

		r.Get("/v1/sys/audit-log", s.AuditLogHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
