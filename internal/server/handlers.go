package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"atelier-pricing/internal/cascade"
	"atelier-pricing/internal/migrate"
	"atelier-pricing/internal/pricing"
	"atelier-pricing/internal/storage"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}

type settingsResponse struct {
	Settings    pricing.Settings `json:"settings"`
	Propagation cascade.Summary  `json:"propagation"`
}

// handlePutSettings validates the payload atomically: an invalid payload is
// rejected before anything is persisted or propagated.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload pricing.Settings
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := payload.Validate(); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err)
		return
	}

	saved, err := s.store.SaveSettings(r.Context(), payload)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	summary, err := s.propagator.Propagate(r.Context(), cascade.Event{Kind: cascade.SettingsChanged})
	if err != nil {
		// Settings are saved but prices are stale; surface the aborted run.
		s.logger.Error("settings saved but propagation aborted", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, settingsResponse{Settings: saved, Propagation: summary})
		return
	}
	s.respondJSON(w, http.StatusOK, settingsResponse{Settings: saved, Propagation: summary})
}

func (s *Server) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := s.store.Materials(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	category := r.URL.Query().Get("category")
	includeArchived := r.URL.Query().Get("archived") == "true"
	filtered := materials[:0]
	for _, m := range materials {
		if category != "" && m.Category != category {
			continue
		}
		if m.Archived && !includeArchived {
			continue
		}
		filtered = append(filtered, m)
	}
	s.respondJSON(w, http.StatusOK, filtered)
}

func (s *Server) handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	var m pricing.Material
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if m.DisplayName == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("displayName is required"))
		return
	}
	// A record is legacy-scalar or variant-form, never partially both.
	if m.HasVariants && (m.UnitCost != 0 || m.MetalType != "" || m.Karat != "") {
		s.respondError(w, http.StatusBadRequest, errors.New("variant material must not carry legacy scalar fields"))
		return
	}
	if !m.HasVariants && len(m.Variants) > 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("legacy material must not carry variants"))
		return
	}

	created, err := s.store.CreateMaterial(r.Context(), m)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

type patchMaterialsRequest struct {
	IDs     []string                `json:"ids"`
	Changes storage.MaterialChanges `json:"changes"`
}

type patchMaterialsResponse struct {
	Updated     []string        `json:"updated"`
	Propagation cascade.Summary `json:"propagation"`
}

func (s *Server) handlePatchMaterials(w http.ResponseWriter, r *http.Request) {
	var req patchMaterialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.IDs) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("ids must not be empty"))
		return
	}

	updated, err := s.store.UpdateMaterials(r.Context(), req.IDs, req.Changes)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	summary, err := s.propagator.Propagate(r.Context(), cascade.Event{
		Kind:        cascade.MaterialsChanged,
		MaterialIDs: updated,
	})
	if err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, patchMaterialsResponse{Updated: updated, Propagation: summary})
		return
	}
	s.respondJSON(w, http.StatusOK, patchMaterialsResponse{Updated: updated, Propagation: summary})
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := s.store.Processes(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := processes[:0]
		for _, p := range processes {
			if p.Category == category {
				filtered = append(filtered, p)
			}
		}
		processes = filtered
	}
	s.respondJSON(w, http.StatusOK, processes)
}

func (s *Server) handleProcessesUsingMaterials(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("ids query parameter is required"))
		return
	}
	processes, err := s.store.ProcessesUsingMaterials(r.Context(), ids)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, processes)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.Tasks(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Category == category {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	s.respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTasksUsing(w http.ResponseWriter, r *http.Request) {
	materialIDs := splitIDs(r.URL.Query().Get("materials"))
	processIDs := splitIDs(r.URL.Query().Get("processes"))
	if len(materialIDs) == 0 && len(processIDs) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("materials or processes query parameter is required"))
		return
	}
	tasks, err := s.store.TasksUsing(r.Context(), materialIDs, processIDs)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, tasks)
}

type recalculateRequest struct {
	Scope string   `json:"scope"`
	IDs   []string `json:"ids,omitempty"`
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var event cascade.Event
	switch req.Scope {
	case "settings":
		event = cascade.Event{Kind: cascade.SettingsChanged}
	case "materials":
		if len(req.IDs) == 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("materials scope requires ids"))
			return
		}
		event = cascade.Event{Kind: cascade.MaterialsChanged, MaterialIDs: req.IDs}
	case "processes":
		if len(req.IDs) == 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("processes scope requires ids"))
			return
		}
		event = cascade.Event{Kind: cascade.ProcessesChanged, ProcessIDs: req.IDs}
	default:
		s.respondError(w, http.StatusBadRequest, errors.New("scope must be settings, materials, or processes"))
		return
	}

	summary, err := s.propagator.Propagate(r.Context(), event)
	if err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, summary)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMigrationReport(w http.ResponseWriter, r *http.Request) {
	materials, err := s.store.Materials(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, migrate.Analyze(materials))
}

func (s *Server) handleExportPriceList(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ExportPriceList(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="pricelist.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
