package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"atelier-pricing/internal/cascade"
	"atelier-pricing/internal/pricing"
	"atelier-pricing/internal/storage"
)

// memStore backs handler tests without Postgres or Redis.
type memStore struct {
	mu        sync.Mutex
	settings  pricing.Settings
	materials []pricing.Material
	processes []pricing.Process
	tasks     []pricing.Task
}

func (m *memStore) Settings(context.Context) (pricing.Settings, error) {
	return m.settings, nil
}

func (m *memStore) SaveSettings(_ context.Context, s pricing.Settings) (pricing.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Version = m.settings.Version + 1
	m.settings = s
	return s, nil
}

func (m *memStore) Materials(context.Context) ([]pricing.Material, error) {
	return append([]pricing.Material(nil), m.materials...), nil
}

func (m *memStore) CreateMaterial(_ context.Context, mat pricing.Material) (pricing.Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mat.ID == "" {
		mat.ID = "generated"
	}
	m.materials = append(m.materials, mat)
	return mat, nil
}

func (m *memStore) UpdateMaterials(_ context.Context, ids []string, changes storage.MaterialChanges) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var updated []string
	for i := range m.materials {
		for _, id := range ids {
			if m.materials[i].ID != id {
				continue
			}
			if changes.UnitCost != nil {
				m.materials[i].UnitCost = *changes.UnitCost
			}
			if changes.Archived != nil {
				m.materials[i].Archived = *changes.Archived
			}
			updated = append(updated, id)
		}
	}
	return updated, nil
}

func (m *memStore) Processes(context.Context) ([]pricing.Process, error) {
	return append([]pricing.Process(nil), m.processes...), nil
}

func (m *memStore) ProcessesUsingMaterials(_ context.Context, materialIDs []string) ([]pricing.Process, error) {
	ix := cascade.BuildIndex(m.processes, m.tasks)
	ids := ix.ProcessesUsingMaterials(materialIDs)
	return m.processesByID(ids), nil
}

func (m *memStore) Tasks(context.Context) ([]pricing.Task, error) {
	return append([]pricing.Task(nil), m.tasks...), nil
}

func (m *memStore) TasksUsing(_ context.Context, materialIDs, processIDs []string) ([]pricing.Task, error) {
	ix := cascade.BuildIndex(m.processes, m.tasks)
	ids := ix.TasksUsing(materialIDs, processIDs)
	var out []pricing.Task
	for _, t := range m.tasks {
		for _, id := range ids {
			if t.ID == id {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (m *memStore) processesByID(ids []string) []pricing.Process {
	var out []pricing.Process
	for _, p := range m.processes {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out
}

func (m *memStore) SaveProcessPricing(_ context.Context, id string, pp pricing.ProcessPricing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.processes {
		if m.processes[i].ID == id {
			m.processes[i].Pricing = &pp
		}
	}
	return nil
}

func (m *memStore) SaveTaskPricing(_ context.Context, id string, tp pricing.TaskPricing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks[i].Pricing = &tp
		}
	}
	return nil
}

func (m *memStore) ExportPriceList(context.Context) ([]byte, error) {
	return []byte("xlsx"), nil
}

func testStore() *memStore {
	return &memStore{
		settings: pricing.Settings{
			Wage:              60,
			MaterialMarkup:    1.5,
			AdministrativeFee: 0.10,
			BusinessFee:       0.15,
			ConsumablesFee:    0.05,
			MetalComplexity:   map[string]float64{pricing.FamilyGold: 1.0},
			Version:           1,
		},
		materials: []pricing.Material{
			{ID: "m1", DisplayName: "Easy Solder", Category: "solder", UnitCost: 10},
		},
		processes: []pricing.Process{
			{
				ID:            "p1",
				DisplayName:   "Ring Sizing",
				LaborMinutes:  90,
				EquipmentCost: 5,
				Materials:     []pricing.MaterialRef{{MaterialID: "m1", Quantity: 2}},
			},
		},
		tasks: []pricing.Task{
			{
				ID:        "t1",
				Title:     "Resize Ring",
				MetalType: "gold",
				Karat:     "14k",
				Processes: []pricing.ProcessRef{{ProcessID: "p1", Quantity: 1}},
			},
		},
	}
}

func newTestServer(store *memStore) *Server {
	logger := zap.NewNop()
	return New(store, cascade.New(store, logger, 4), logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetSettings(t *testing.T) {
	srv := newTestServer(testStore())
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/settings", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got pricing.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Wage != 60 || got.Version != 1 {
		t.Errorf("settings = %+v", got)
	}
}

func TestPutSettings_TriggersPropagation(t *testing.T) {
	store := testStore()
	srv := newTestServer(store)

	payload := store.settings
	payload.Wage = 90
	rec := doJSON(t, srv.Router(), http.MethodPut, "/api/v1/settings", payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Settings    pricing.Settings `json:"settings"`
		Propagation cascade.Summary  `json:"propagation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Settings.Version != 2 {
		t.Errorf("version = %d, want 2", resp.Settings.Version)
	}
	if resp.Propagation.TasksUpdated != 1 || resp.Propagation.Outcome != cascade.Completed {
		t.Errorf("propagation = %+v", resp.Propagation)
	}
	if store.tasks[0].Pricing == nil {
		t.Fatal("task pricing not recomputed")
	}
	// wage 90: labor 135 + equipment 5 + materials 30 = 170; retail 221.
	if store.tasks[0].Pricing.RetailPrice != 221 {
		t.Errorf("retail = %v, want 221", store.tasks[0].Pricing.RetailPrice)
	}
}

func TestPutSettings_InvalidRejectedAtomically(t *testing.T) {
	store := testStore()
	srv := newTestServer(store)

	payload := store.settings
	payload.MaterialMarkup = 0.5
	rec := doJSON(t, srv.Router(), http.MethodPut, "/api/v1/settings", payload)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if store.settings.MaterialMarkup != 1.5 {
		t.Error("invalid settings must not be applied")
	}
	if store.tasks[0].Pricing != nil {
		t.Error("invalid settings must not trigger propagation")
	}
}

func TestPatchMaterials_Propagates(t *testing.T) {
	store := testStore()
	srv := newTestServer(store)

	cost := 20.0
	rec := doJSON(t, srv.Router(), http.MethodPatch, "/api/v1/materials", map[string]any{
		"ids":     []string{"m1"},
		"changes": map[string]any{"unitCost": cost},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Updated     []string        `json:"updated"`
		Propagation cascade.Summary `json:"propagation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Updated) != 1 || resp.Updated[0] != "m1" {
		t.Errorf("updated = %v", resp.Updated)
	}
	if resp.Propagation.ProcessesUpdated != 1 || resp.Propagation.TasksUpdated != 1 {
		t.Errorf("propagation = %+v", resp.Propagation)
	}
	// unit cost 20: materials 2*20*1.5 = 60; base 90+5+60 = 155; retail 201.50.
	if got := store.tasks[0].Pricing.RetailPrice; got != 201.50 {
		t.Errorf("retail = %v, want 201.50", got)
	}
}

func TestRecalculate_Scopes(t *testing.T) {
	srv := newTestServer(testStore())
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/recalculate", map[string]any{"scope": "settings"})
	if rec.Code != http.StatusOK {
		t.Fatalf("settings scope: status = %d", rec.Code)
	}
	var summary cascade.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.MaterialsUpdated != 1 || summary.ProcessesUpdated != 1 || summary.TasksUpdated != 1 {
		t.Errorf("summary = %+v", summary)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/recalculate", map[string]any{"scope": "materials", "ids": []string{"m1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("materials scope: status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/recalculate", map[string]any{"scope": "orders"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown scope: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/recalculate", map[string]any{"scope": "materials"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("materials without ids: status = %d, want 400", rec.Code)
	}
}

func TestProcessesUsingMaterials(t *testing.T) {
	srv := newTestServer(testStore())
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/processes/using-materials?ids=m1", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var processes []pricing.Process
	if err := json.Unmarshal(rec.Body.Bytes(), &processes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(processes) != 1 || processes[0].ID != "p1" {
		t.Errorf("processes = %+v, want [p1]", processes)
	}
}

func TestTasksUsing(t *testing.T) {
	srv := newTestServer(testStore())
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/tasks/using?processes=p1", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var tasks []pricing.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("tasks = %+v, want [t1]", tasks)
	}
}

func TestCreateMaterial_RejectsMixedForm(t *testing.T) {
	srv := newTestServer(testStore())
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/materials", map[string]any{
		"displayName": "Mixed",
		"hasVariants": true,
		"unitCost":    5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMigrationReport(t *testing.T) {
	store := testStore()
	store.materials = append(store.materials,
		pricing.Material{ID: "m2", DisplayName: "14K Gold Easy Solder", Category: "solder", UnitCost: 12, MetalType: "gold", Karat: "14k"},
		pricing.Material{ID: "m3", DisplayName: "Sterling Silver Easy Solder", Category: "solder", UnitCost: 3, MetalType: "silver", Karat: "925"},
	)
	srv := newTestServer(store)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/migration/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "easy solder") {
		t.Errorf("report missing cluster: %s", rec.Body.String())
	}
}

func TestExportPriceList(t *testing.T) {
	srv := newTestServer(testStore())
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/export/pricelist", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}
}
