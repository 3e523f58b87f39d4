package pricing

import (
	"errors"
	"time"
)

// ProcessRef references a process with a repetition count.
type ProcessRef struct {
	ProcessID string  `json:"processId"`
	Quantity  float64 `json:"quantity"`
}

// ServiceTerms carries the customer-facing service modifiers of a task.
type ServiceTerms struct {
	RushMultiplier float64 `json:"rushMultiplier,omitempty"`
	EstimatedDays  int     `json:"estimatedDays,omitempty"`
}

// Task bundles processes and standalone materials into a sellable repair job.
type Task struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Category          string        `json:"category"`
	MetalType         string        `json:"metalType,omitempty"`
	Karat             string        `json:"karat,omitempty"`
	RequiresMetalType bool          `json:"requiresMetalType"`
	Processes         []ProcessRef  `json:"processes,omitempty"`
	Materials         []MaterialRef `json:"materials,omitempty"`
	Service           ServiceTerms  `json:"service"`

	// Pricing is derived and overwritten on every recalculation.
	Pricing *TaskPricing `json:"pricing,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskPricing is the derived price snapshot of a task.
type TaskPricing struct {
	TotalLaborMinutes    float64   `json:"totalLaborMinutes"`
	TotalMaterialCost    float64   `json:"totalMaterialCost"`
	MarkedUpMaterialCost float64   `json:"markedUpMaterialCost"`
	BaseCost             float64   `json:"baseCost"`
	RetailPrice          float64   `json:"retailPrice"`
	WholesalePrice       float64   `json:"wholesalePrice"`
	BusinessMultiplier   float64   `json:"businessMultiplier"`
	CalculatedAt         time.Time `json:"calculatedAt"`
}

// Round returns a copy with currency fields rounded for storage. Retail and
// wholesale are already rounded by the calculator.
func (p TaskPricing) Round() TaskPricing {
	p.TotalMaterialCost = Round2(p.TotalMaterialCost)
	p.MarkedUpMaterialCost = Round2(p.MarkedUpMaterialCost)
	p.BaseCost = Round2(p.BaseCost)
	return p
}

// ProcessLookup resolves a process id against the catalog snapshot of the
// current run.
type ProcessLookup func(id string) (*Process, bool)

// CalculateTask computes the price snapshot of a task against a settings
// snapshot. Process costs are computed at the task's declared metal; material
// markup is applied once, inside the resolver, both for process materials and
// for standalone task materials.
//
// When RequiresMetalType is set, an unsupported reference fails the whole
// calculation with IncompatibleMetalError naming the first such reference; a
// default metal is never silently substituted.
func CalculateTask(t *Task, s Settings, processes ProcessLookup, materials MaterialLookup) (TaskPricing, error) {
	var (
		totalLaborMinutes  float64
		totalEquipmentCost float64
		rawMaterialCost    float64
		markedUpCost       float64
	)

	for _, ref := range t.Processes {
		proc, ok := processes(ref.ProcessID)
		if !ok {
			return TaskPricing{}, &MissingReferenceError{Kind: "process", ID: ref.ProcessID}
		}
		pp, err := CalculateProcess(proc, t.MetalType, t.Karat, s, materials)
		if err != nil {
			return TaskPricing{}, t.wrapUnsupported(err, "process", proc.ID, proc.DisplayName)
		}
		totalLaborMinutes += pp.CalculatedLaborMinutes * ref.Quantity
		totalEquipmentCost += pp.EquipmentCost * ref.Quantity
		rawMaterialCost += pp.RawMaterialCost * ref.Quantity
		markedUpCost += pp.MaterialCost * ref.Quantity
	}

	for _, ref := range t.Materials {
		m, ok := materials(ref.MaterialID)
		if !ok {
			return TaskPricing{}, &MissingReferenceError{Kind: "material", ID: ref.MaterialID}
		}
		unit, err := ResolveUnitCost(m, t.MetalType, t.Karat, s)
		if err != nil {
			return TaskPricing{}, t.wrapUnsupported(err, "material", m.ID, m.DisplayName)
		}
		raw, _ := RawUnitCost(m, t.MetalType, t.Karat)
		rawMaterialCost += raw * ref.Quantity
		markedUpCost += unit * ref.Quantity
	}

	laborCost := totalLaborMinutes * s.LaborRatePerMinute()
	baseCost := laborCost + totalEquipmentCost + markedUpCost
	multiplier := s.BusinessMultiplier()

	rush := t.Service.RushMultiplier
	if rush <= 0 {
		rush = 1.0
	}

	retail := Round2(baseCost * multiplier * rush)
	return TaskPricing{
		TotalLaborMinutes:    totalLaborMinutes,
		TotalMaterialCost:    rawMaterialCost,
		MarkedUpMaterialCost: markedUpCost,
		BaseCost:             baseCost,
		RetailPrice:          retail,
		WholesalePrice:       Round2(retail * 0.5),
		BusinessMultiplier:   multiplier,
		CalculatedAt:         time.Now().UTC(),
	}, nil
}

// wrapUnsupported converts an UnsupportedMetalError into an
// IncompatibleMetalError when the task pins its metal. The unsupported
// material keeps top billing in the error so callers see the root reference.
func (t *Task) wrapUnsupported(err error, kind, id, name string) error {
	if !t.RequiresMetalType {
		return err
	}
	var unsupported *UnsupportedMetalError
	if !errors.As(err, &unsupported) {
		return err
	}
	if unsupported.MaterialID != "" {
		kind = "material"
		id = unsupported.MaterialID
		name = unsupported.MaterialName
	}
	return &IncompatibleMetalError{
		TaskID:        t.ID,
		ReferenceKind: kind,
		ReferenceID:   id,
		ReferenceName: name,
		MetalType:     t.MetalType,
		Karat:         t.Karat,
	}
}
