package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"atelier-pricing/internal/pricing"
)

// Reference metal for the pricing snapshot stored on a Process record.
// Processes carry no declared metal of their own; tasks are always priced at
// their own declared metal, so the stored process snapshot is informational
// and uses the shop's dominant metal.
const (
	ReferenceMetalType = "gold"
	ReferenceKarat     = "14k"
)

// EventKind names the upstream change that triggered a propagation.
type EventKind string

const (
	SettingsChanged  EventKind = "settings"
	MaterialsChanged EventKind = "materials"
	ProcessesChanged EventKind = "processes"
)

// Event describes a catalog change to propagate.
type Event struct {
	Kind        EventKind
	MaterialIDs []string
	ProcessIDs  []string
}

// Outcome is the terminal state of a propagation run.
type Outcome string

const (
	Completed           Outcome = "completed"
	CompletedWithErrors Outcome = "completedWithErrors"
	Aborted             Outcome = "aborted"
)

// ObjectError records a single object that failed to recompute. The batch
// keeps going past these.
type ObjectError struct {
	Kind  string `json:"kind"` // material|process|task
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Summary reports what a propagation run touched. Callers must surface it;
// an HTTP 200 does not mean "fully consistent".
type Summary struct {
	MaterialsUpdated int           `json:"materialsUpdated"`
	ProcessesUpdated int           `json:"processesUpdated"`
	TasksUpdated     int           `json:"tasksUpdated"`
	Errors           []ObjectError `json:"errors"`
	Outcome          Outcome       `json:"outcome"`
}

// Catalog is the read/write contract the propagator needs from the store.
type Catalog interface {
	Settings(ctx context.Context) (pricing.Settings, error)
	Materials(ctx context.Context) ([]pricing.Material, error)
	Processes(ctx context.Context) ([]pricing.Process, error)
	Tasks(ctx context.Context) ([]pricing.Task, error)
	SaveProcessPricing(ctx context.Context, id string, pp pricing.ProcessPricing) error
	SaveTaskPricing(ctx context.Context, id string, tp pricing.TaskPricing) error
}

// Propagator re-runs the pricing chain over the strict three-level DAG
// materials -> processes -> tasks. Objects within a level recompute
// concurrently; a level never starts before the previous one finished, so no
// process is priced against a stale material and no task against a stale
// process.
type Propagator struct {
	catalog Catalog
	logger  *zap.Logger
	workers int
}

// New creates a Propagator with the given worker bound per level.
func New(catalog Catalog, logger *zap.Logger, workers int) *Propagator {
	if workers <= 0 {
		workers = 8
	}
	return &Propagator{catalog: catalog, logger: logger, workers: workers}
}

// run carries the immutable inputs of a single propagation. Settings and the
// catalog are snapshotted once at the start; a settings change arriving
// mid-run is never observed by in-flight calculations.
type run struct {
	settings  pricing.Settings
	materials map[string]*pricing.Material
	processes map[string]*pricing.Process
	tasks     map[string]*pricing.Task
	index     *Index

	mu      sync.Mutex
	summary Summary
}

func (r *run) record(kind, id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Errors = append(r.summary.Errors, ObjectError{Kind: kind, ID: id, Error: err.Error()})
}

func (r *run) touched(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch level {
	case "material":
		r.summary.MaterialsUpdated++
	case "process":
		r.summary.ProcessesUpdated++
	case "task":
		r.summary.TasksUpdated++
	}
}

// Propagate executes one ordered recomputation run for the given event.
// Per-object calculation failures are recorded and do not stop the batch;
// inability to reach the store aborts the run with zero objects updated.
func (p *Propagator) Propagate(ctx context.Context, event Event) (Summary, error) {
	const operation = "cascade.Propagate"
	start := time.Now()

	r, err := p.snapshot(ctx)
	if err != nil {
		p.logger.Error("propagation aborted: catalog snapshot failed",
			zap.String("operation", operation),
			zap.String("event", string(event.Kind)),
			zap.Error(err))
		return Summary{Outcome: Aborted}, fmt.Errorf("%s: %w", operation, err)
	}

	materialIDs, processIDs, taskIDs := p.plan(r, event)

	err = p.recomputeMaterials(ctx, r, materialIDs)
	if err == nil {
		err = p.recomputeProcesses(ctx, r, processIDs)
	}
	if err == nil {
		err = p.recomputeTasks(ctx, r, taskIDs)
	}
	if err != nil {
		// Store unreachable mid-run: the whole batch aborts and reports
		// nothing updated so callers retry from scratch.
		p.logger.Error("propagation aborted: store write failed",
			zap.String("operation", operation),
			zap.String("event", string(event.Kind)),
			zap.Error(err))
		return Summary{Outcome: Aborted}, fmt.Errorf("%s: %w", operation, err)
	}

	summary := r.summary
	if len(summary.Errors) > 0 {
		summary.Outcome = CompletedWithErrors
	} else {
		summary.Outcome = Completed
	}

	p.logger.Info("propagation finished",
		zap.String("event", string(event.Kind)),
		zap.String("outcome", string(summary.Outcome)),
		zap.Int("materials_updated", summary.MaterialsUpdated),
		zap.Int("processes_updated", summary.ProcessesUpdated),
		zap.Int("tasks_updated", summary.TasksUpdated),
		zap.Int("errors", len(summary.Errors)),
		zap.Duration("elapsed", time.Since(start)))
	return summary, nil
}

func (p *Propagator) snapshot(ctx context.Context) (*run, error) {
	settings, err := p.catalog.Settings(ctx)
	if err != nil {
		return nil, err
	}
	materials, err := p.catalog.Materials(ctx)
	if err != nil {
		return nil, err
	}
	processes, err := p.catalog.Processes(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := p.catalog.Tasks(ctx)
	if err != nil {
		return nil, err
	}

	r := &run{
		settings:  settings,
		materials: make(map[string]*pricing.Material, len(materials)),
		processes: make(map[string]*pricing.Process, len(processes)),
		tasks:     make(map[string]*pricing.Task, len(tasks)),
		index:     BuildIndex(processes, tasks),
	}
	for i := range materials {
		r.materials[materials[i].ID] = &materials[i]
	}
	for i := range processes {
		r.processes[processes[i].ID] = &processes[i]
	}
	for i := range tasks {
		r.tasks[tasks[i].ID] = &tasks[i]
	}
	return r, nil
}

// plan resolves the event into the per-level recomputation sets, honoring the
// mandatory materials -> processes -> tasks order.
func (p *Propagator) plan(r *run, event Event) (materialIDs, processIDs, taskIDs []string) {
	switch event.Kind {
	case SettingsChanged:
		for id := range r.materials {
			materialIDs = append(materialIDs, id)
		}
		for id := range r.processes {
			processIDs = append(processIDs, id)
		}
		for id := range r.tasks {
			taskIDs = append(taskIDs, id)
		}
		sort.Strings(materialIDs)
		sort.Strings(processIDs)
		sort.Strings(taskIDs)
	case MaterialsChanged:
		materialIDs = append(materialIDs, event.MaterialIDs...)
		processIDs = r.index.ProcessesUsingMaterials(event.MaterialIDs)
		taskIDs = r.index.TasksUsing(event.MaterialIDs, processIDs)
	case ProcessesChanged:
		taskIDs = r.index.TasksUsing(nil, event.ProcessIDs)
	}
	return materialIDs, processIDs, taskIDs
}

// recomputeMaterials re-resolves every changed material against the settings
// snapshot. Materials carry no persisted derived block, so this level exists
// to surface resolution problems (bad variant keys, no active variants)
// before processes are priced against them.
func (p *Propagator) recomputeMaterials(ctx context.Context, r *run, ids []string) error {
	return p.level(ctx, ids, func(_ context.Context, id string) error {
		m, ok := r.materials[id]
		if !ok {
			r.record("material", id, &pricing.MissingReferenceError{Kind: "material", ID: id})
			return nil
		}
		if err := revalidateMaterial(m); err != nil {
			r.record("material", id, err)
			return nil
		}
		r.touched("material")
		return nil
	})
}

func (p *Propagator) recomputeProcesses(ctx context.Context, r *run, ids []string) error {
	lookup := func(id string) (*pricing.Material, bool) {
		m, ok := r.materials[id]
		return m, ok
	}
	return p.level(ctx, ids, func(ctx context.Context, id string) error {
		proc, ok := r.processes[id]
		if !ok {
			r.record("process", id, &pricing.MissingReferenceError{Kind: "process", ID: id})
			return nil
		}
		pp, err := pricing.CalculateProcess(proc, ReferenceMetalType, ReferenceKarat, r.settings, lookup)
		if err != nil {
			r.record("process", id, err)
			return nil
		}
		if err := p.catalog.SaveProcessPricing(ctx, id, pp.Round()); err != nil {
			return err
		}
		proc.Pricing = &pp
		r.touched("process")
		return nil
	})
}

func (p *Propagator) recomputeTasks(ctx context.Context, r *run, ids []string) error {
	materialLookup := func(id string) (*pricing.Material, bool) {
		m, ok := r.materials[id]
		return m, ok
	}
	processLookup := func(id string) (*pricing.Process, bool) {
		proc, ok := r.processes[id]
		return proc, ok
	}
	return p.level(ctx, ids, func(ctx context.Context, id string) error {
		task, ok := r.tasks[id]
		if !ok {
			r.record("task", id, &pricing.MissingReferenceError{Kind: "task", ID: id})
			return nil
		}
		tp, err := pricing.CalculateTask(task, r.settings, processLookup, materialLookup)
		if err != nil {
			r.record("task", id, err)
			return nil
		}
		if err := p.catalog.SaveTaskPricing(ctx, id, tp.Round()); err != nil {
			return err
		}
		r.touched("task")
		return nil
	})
}

// level runs fn over every id with bounded concurrency. Writes are
// per-object, so workers never race on the same row. A returned error means
// the store went away and aborts the run.
func (p *Propagator) level(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) error {
	if len(ids) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error { return fn(ctx, id) })
	}
	return g.Wait()
}

// revalidateMaterial checks that a material can still be priced: a variant
// record needs at least one active variant with a recognized metal key, a
// legacy record a non-negative cost.
func revalidateMaterial(m *pricing.Material) error {
	if !m.HasVariants {
		if m.UnitCost < 0 {
			return errors.New("legacy material has negative unit cost")
		}
		return nil
	}
	active := 0
	for _, v := range m.Variants {
		if !v.IsActive {
			continue
		}
		if _, ok := pricing.MetalKey(v.MetalType, v.Karat); !ok {
			return fmt.Errorf("variant has unrecognized metal %q %q", v.MetalType, v.Karat)
		}
		active++
	}
	if active == 0 {
		return errors.New("variant material has no active variants")
	}
	return nil
}
