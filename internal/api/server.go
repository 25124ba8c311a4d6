// SPDX-License-Identifier: MIT

// Package api serves the local HTTP surface: health probes, the engine
// status view, component visibility queries and Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shopstream/campaign-engine/internal/coordinator"
	"github.com/shopstream/campaign-engine/internal/log"
)

// Engine is the coordinator surface the API reads from.
type Engine interface {
	Status() coordinator.Snapshot
}

// Visibility answers per-type render queries. The component registry
// implements it.
type Visibility interface {
	IsTypeVisible(componentType string) bool
}

// Config holds the HTTP server settings.
type Config struct {
	// RateLimit bounds /api requests per client IP per minute. Zero
	// defaults to 120.
	RateLimit int
}

// Server carries the handler dependencies.
type Server struct {
	engine     Engine
	visibility Visibility
	ready      func() error
	logger     zerolog.Logger
}

// NewServer builds the API server. ready may be nil when no backing store
// needs probing.
func NewServer(engine Engine, visibility Visibility, ready func() error, logger zerolog.Logger) *Server {
	return &Server{
		engine:     engine,
		visibility: visibility,
		ready:      ready,
		logger:     logger.With().Str(log.FieldComponent, "api").Logger(),
	}
}

// Router assembles the chi router.
func (s *Server) Router(cfg Config) http.Handler {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 120
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.contextLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.Limit(
			cfg.RateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
		r.Get("/status", s.handleStatus)
		r.Get("/components", s.handleComponents)
		r.Get("/components/{type}/visible", s.handleVisible)
	})
	return r
}

// contextLogger attaches the server logger to the request context so
// handlers and downstream calls share one correlated logger.
func (s *Server) contextLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := s.logger.WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			logger := log.FromContext(r.Context())
			logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleComponents(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"components": st.Components,
		"gateOpen":   st.GateOpen,
	})
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	componentType := chi.URLParam(r, "type")
	if componentType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing component type"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":    componentType,
		"visible": s.visibility.IsTypeVisible(componentType),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
