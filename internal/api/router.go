package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// componentCheckTimeout bounds one component health probe.
const componentCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/history", s.handleGetDeviceHistory)
				r.Post("/cmd", s.handleSendCommand)
			})
		})
	})

	return r
}

// handleHealth returns the server health status, stream connection state,
// and the health of each registered infrastructure component.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.controller.StreamStats()

	components := make(map[string]string, len(s.components))
	for name, checker := range s.components {
		ctx, cancel := context.WithTimeout(r.Context(), componentCheckTimeout)
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"stream": map[string]any{
			"connected":     stats.Connected,
			"frames_rx":     stats.FramesRx,
			"frames_tx":     stats.FramesTx,
			"events_merged": stats.EventsMerged,
			"errors_total":  stats.ErrorsTotal,
			"connects":      stats.ConnectsTotal,
			"stale_closes":  stats.StaleCloses,
			"last_message":  stats.LastMessage,
		},
		"components": components,
	})
}
