package pricing

import (
	"errors"
	"testing"
)

func lookupOf(materials ...*Material) MaterialLookup {
	byID := make(map[string]*Material, len(materials))
	for _, m := range materials {
		byID[m.ID] = m
	}
	return func(id string) (*Material, bool) {
		m, ok := byID[id]
		return m, ok
	}
}

// Scenario: wage 60, markup 1.5, 90 labor minutes at gold complexity 1.0,
// equipment 5, one material at unit cost 10 x2.
func TestCalculateProcess_Breakdown(t *testing.T) {
	s := testSettings()
	p := &Process{
		ID:            "p1",
		DisplayName:   "Ring Sizing",
		LaborMinutes:  90,
		EquipmentCost: 5,
		MetalComplexity: map[string]float64{FamilyGold: 1.0},
		Materials:     []MaterialRef{{MaterialID: "m-legacy", Quantity: 2}},
	}

	pp, err := CalculateProcess(p, "gold", "14k", s, lookupOf(legacySolder()))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	nearlyEqual(t, "laborCost", pp.LaborCost, 90)
	nearlyEqual(t, "equipmentCost", pp.EquipmentCost, 5)
	nearlyEqual(t, "materialCost", pp.MaterialCost, 30)
	nearlyEqual(t, "rawMaterialCost", pp.RawMaterialCost, 20)
	nearlyEqual(t, "totalCost", pp.TotalCost, 125)
	nearlyEqual(t, "metalComplexity", pp.MetalComplexity, 1.0)
	nearlyEqual(t, "calculatedLaborMinutes", pp.CalculatedLaborMinutes, 90)
	if pp.CalculatedAt.IsZero() {
		t.Error("calculatedAt must be set")
	}
}

func TestCalculateProcess_ComplexityScalesLabor(t *testing.T) {
	s := testSettings()
	p := &Process{
		ID:           "p2",
		LaborMinutes: 60,
		MetalComplexity: map[string]float64{FamilyPlatinum: 1.4},
	}

	pp, err := CalculateProcess(p, "platinum", "950", s, lookupOf())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	nearlyEqual(t, "calculatedLaborMinutes", pp.CalculatedLaborMinutes, 84)
	nearlyEqual(t, "laborCost", pp.LaborCost, 84)
}

func TestCalculateProcess_UnknownFamilyNeutral(t *testing.T) {
	p := &Process{ID: "p3", LaborMinutes: 30, MetalComplexity: map[string]float64{FamilyGold: 2.0}}

	// Neither a mapped family nor a recognized metal may error; complexity
	// defaults to 1.0.
	for _, metal := range []string{"titanium", "mystery-metal", ""} {
		pp, err := CalculateProcess(p, metal, "na", testSettings(), lookupOf())
		if err != nil {
			t.Fatalf("calculate for %q: %v", metal, err)
		}
		nearlyEqual(t, "metalComplexity "+metal, pp.MetalComplexity, 1.0)
		nearlyEqual(t, "laborCost "+metal, pp.LaborCost, 30)
	}
}

func TestCalculateProcess_MissingMaterial(t *testing.T) {
	p := &Process{ID: "p4", Materials: []MaterialRef{{MaterialID: "gone", Quantity: 1}}}

	_, err := CalculateProcess(p, "gold", "14k", testSettings(), lookupOf())
	var missing *MissingReferenceError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingReferenceError, got %v", err)
	}
	if missing.Kind != "material" || missing.ID != "gone" {
		t.Errorf("error = %v, want missing material gone", missing)
	}
}

func TestCalculateProcess_UnsupportedMetalPropagates(t *testing.T) {
	p := &Process{ID: "p5", Materials: []MaterialRef{{MaterialID: "m-variant", Quantity: 1}}}

	_, err := CalculateProcess(p, "palladium", "950", testSettings(), lookupOf(variantSolder()))
	var unsupported *UnsupportedMetalError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedMetalError, got %v", err)
	}
}
