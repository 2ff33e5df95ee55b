package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each component check in /api/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// WebSocket API (authenticates in-band, exempt from rate limiting)
	if s.ws != nil {
		r.Handle(s.wsPath, s.ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		r.Post("/auth/token", s.handleToken)

		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Get("/metrics", s.handleMetrics)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Get("/", s.handleAPIStatus)
				r.Get("/config", s.handleGetConfig)
				r.Get("/services", s.handleGetServices)
				r.Get("/states", s.handleGetStates)
				r.Get("/states/{entity_id}", s.handleGetState)
			})
		})
	})

	return r
}

// handleAPIStatus answers the classic liveness probe used by clients.
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API running."})
}

// handleHealth reports the hub run state and every registered component.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	healthy := true

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			healthy = false
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"state":      s.hub.State().String(),
		"components": components,
	})
}
