// Package server exposes the pricing engine over a JSON HTTP API. Transport
// stays thin: handlers decode, delegate to the engine, and encode; all
// pricing semantics live in internal/pricing and internal/cascade.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"atelier-pricing/internal/cascade"
	"atelier-pricing/internal/pricing"
	"atelier-pricing/internal/storage"
)

// Store is the persistence surface the handlers need. *storage.PostgresStore
// satisfies it; tests use an in-memory implementation.
type Store interface {
	cascade.Catalog
	SaveSettings(ctx context.Context, s pricing.Settings) (pricing.Settings, error)
	CreateMaterial(ctx context.Context, m pricing.Material) (pricing.Material, error)
	UpdateMaterials(ctx context.Context, ids []string, changes storage.MaterialChanges) ([]string, error)
	ProcessesUsingMaterials(ctx context.Context, materialIDs []string) ([]pricing.Process, error)
	TasksUsing(ctx context.Context, materialIDs, processIDs []string) ([]pricing.Task, error)
	ExportPriceList(ctx context.Context) ([]byte, error)
}

// Server wires the store and the cascade propagator behind a chi router.
type Server struct {
	store      Store
	propagator *cascade.Propagator
	logger     *zap.Logger
}

func New(store Store, propagator *cascade.Propagator, logger *zap.Logger) *Server {
	return &Server{store: store, propagator: propagator, logger: logger}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Get("/materials", s.handleListMaterials)
		r.Post("/materials", s.handleCreateMaterial)
		r.Patch("/materials", s.handlePatchMaterials)

		r.Get("/processes", s.handleListProcesses)
		r.Get("/processes/using-materials", s.handleProcessesUsingMaterials)

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/using", s.handleTasksUsing)

		r.Post("/recalculate", s.handleRecalculate)

		r.Get("/migration/report", s.handleMigrationReport)
		r.Get("/export/pricelist", s.handleExportPriceList)
	})

	return r
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps engine errors onto HTTP statuses: invalid settings 422,
// store unreachable 503, everything else the given fallback.
func (s *Server) respondError(w http.ResponseWriter, fallback int, err error) {
	status := fallback
	var invalid *pricing.InvalidSettingsError
	switch {
	case errors.As(err, &invalid):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pricing.ErrPersistenceUnavailable):
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
