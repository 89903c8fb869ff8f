package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/history", s.handleDeviceHistory)
					r.Post("/command", s.handleDeviceCommand)
				})
			})
		})

		// WebSocket (token via query parameter, validated in handler,
		// since browser WebSocket clients cannot set headers)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns bridge health for supervisors and dashboards.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	metrics := s.bridge.GetMetrics()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:              string(metrics.Status),
		Reason:              metrics.Reason,
		Version:             s.version,
		DevicesManaged:      metrics.DevicesManaged,
		RateLimitRemaining:  metrics.RateLimitRemaining,
		ConsecutiveFailures: metrics.ConsecutiveFailures,
	})
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status              string `json:"status"`
	Reason              string `json:"reason,omitempty"`
	Version             string `json:"version"`
	DevicesManaged      int    `json:"devices_managed"`
	RateLimitRemaining  int    `json:"rate_limit_remaining"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}
