package pricing

import "time"

// MaterialRef references a catalog material with a usage quantity.
type MaterialRef struct {
	MaterialID string  `json:"materialId"`
	Quantity   float64 `json:"quantity"`
}

// Process is a single repair operation: bench labor plus equipment and
// consumed materials.
type Process struct {
	ID              string             `json:"id"`
	DisplayName     string             `json:"displayName"`
	Category        string             `json:"category"`
	LaborMinutes    float64            `json:"laborMinutes"`
	SkillLevel      string             `json:"skillLevel"` // basic|standard|advanced|expert
	RiskLevel       string             `json:"riskLevel"`  // low|medium|high|critical
	EquipmentCost   float64            `json:"equipmentCost"`
	MetalComplexity map[string]float64 `json:"metalComplexity,omitempty"`
	Materials       []MaterialRef      `json:"materials,omitempty"`

	// Pricing is derived, not authoritative. It is overwritten on every
	// recalculation and must never be edited independent of its inputs.
	Pricing *ProcessPricing `json:"pricing,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProcessPricing is the derived cost breakdown of a process for one metal.
type ProcessPricing struct {
	LaborCost              float64   `json:"laborCost"`
	EquipmentCost          float64   `json:"equipmentCost"`
	MaterialCost           float64   `json:"materialCost"`
	RawMaterialCost        float64   `json:"rawMaterialCost"`
	TotalCost              float64   `json:"totalCost"`
	MetalComplexity        float64   `json:"metalComplexity"`
	CalculatedLaborMinutes float64   `json:"calculatedLaborMinutes"`
	CalculatedAt           time.Time `json:"calculatedAt"`
}

// Round returns a copy with all currency fields rounded for storage.
func (p ProcessPricing) Round() ProcessPricing {
	p.LaborCost = Round2(p.LaborCost)
	p.EquipmentCost = Round2(p.EquipmentCost)
	p.MaterialCost = Round2(p.MaterialCost)
	p.RawMaterialCost = Round2(p.RawMaterialCost)
	p.TotalCost = Round2(p.TotalCost)
	return p
}

// MaterialLookup resolves a material id against the catalog snapshot of the
// current run.
type MaterialLookup func(id string) (*Material, bool)

// ProcessComplexity returns the process complexity multiplier for a metal
// type. Unknown families default to the neutral 1.0; complexity is advisory,
// never a hard gate.
func ProcessComplexity(p *Process, metalType string) float64 {
	family := MetalFamily(metalType)
	if family == "" {
		return 1.0
	}
	if mult, ok := p.MetalComplexity[family]; ok {
		return mult
	}
	return 1.0
}

// CalculateProcess computes the full cost breakdown of a process for the
// given metal. Material costs come back marked up from the resolver. Values
// are left unrounded so downstream task math does not compound rounding
// error; Round is applied at storage time.
func CalculateProcess(p *Process, metalType, karat string, s Settings, materials MaterialLookup) (ProcessPricing, error) {
	complexity := ProcessComplexity(p, metalType)
	minutes := p.LaborMinutes * complexity
	laborCost := minutes * s.LaborRatePerMinute()

	var materialCost, rawMaterialCost float64
	for _, ref := range p.Materials {
		m, ok := materials(ref.MaterialID)
		if !ok {
			return ProcessPricing{}, &MissingReferenceError{Kind: "material", ID: ref.MaterialID}
		}
		unit, err := ResolveUnitCost(m, metalType, karat, s)
		if err != nil {
			return ProcessPricing{}, err
		}
		raw, _ := RawUnitCost(m, metalType, karat)
		materialCost += unit * ref.Quantity
		rawMaterialCost += raw * ref.Quantity
	}

	return ProcessPricing{
		LaborCost:              laborCost,
		EquipmentCost:          p.EquipmentCost,
		MaterialCost:           materialCost,
		RawMaterialCost:        rawMaterialCost,
		TotalCost:              laborCost + p.EquipmentCost + materialCost,
		MetalComplexity:        complexity,
		CalculatedLaborMinutes: minutes,
		CalculatedAt:           time.Now().UTC(),
	}, nil
}
