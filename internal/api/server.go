// Package api is the orchestrator's HTTP surface. Handlers are thin:
// decode, delegate to the core, map domain errors to status codes.
// Nothing in here mutates task state directly.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/health"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/orchestrator"
)

// Server is the orchestrator API server.
type Server struct {
	core    *orchestrator.Core
	checker *health.Checker
	logger  *logrus.Entry
}

// NewServer creates the API over a core and a health checker. The
// checker may be nil; /health then reports healthy unconditionally.
func NewServer(core *orchestrator.Core, checker *health.Checker) *Server {
	return &Server{
		core:    core,
		checker: checker,
		logger:  log.WithComponent("api"),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleListTasks)
		r.Get("/{taskID}", s.handleGetTask)
		r.Post("/{taskID}/retry", s.handleRetry)
		r.Post("/{taskID}/cancel", s.handleCancel)
	})

	r.Route("/workers", func(r chi.Router) {
		r.Get("/", s.handleWorkers)
		r.Get("/available", s.handleAvailableWorkers)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error onto a status code. Internal detail
// stays in the message string; there are no stack traces on the wire.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownCapability):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBadState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
