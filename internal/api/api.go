// Package api exposes the agent engine over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"panwatch/internal/engine"
	"panwatch/internal/metrics"
	"panwatch/pkg/panwatch"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Core    *panwatch.Core
	Engine  *engine.Service
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewRouter builds the HTTP API router.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	h := &handler{core: d.Core, engine: d.Engine}

	r.Get("/api/health", h.health)
	r.Handle("/metrics", d.Metrics.Handler())

	// Agents
	r.Get("/api/agents", h.listAgents)
	r.Put("/api/agents/{name}", h.updateAgent)
	r.Post("/api/agents/{name}/trigger", h.triggerAgent)
	r.Post("/api/agents/{name}/stocks/{stockID}/trigger", h.triggerForStock)
	r.Get("/api/agents/{name}/history", h.agentHistory)
	r.Post("/api/agents/intraday/scan", h.scanIntraday)

	r.Get("/api/schedules", h.schedules)
	r.Get("/api/logs", h.logs)

	return r
}

type handler struct {
	core   *panwatch.Core
	engine *engine.Service
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	annotate(w, "error_message", message)
	writeJSON(w, status, ErrorResponse{Code: status, Message: message})
}
