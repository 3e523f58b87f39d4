package pricing

import (
	"math"
	"time"
)

// Variant is one metal-specific cost entry of a variant-form material.
type Variant struct {
	MetalType        string   `json:"metalType"`
	Karat            string   `json:"karat"`
	UnitCost         float64  `json:"unitCost"`
	SKU              string   `json:"sku,omitempty"`
	StullerProductID string   `json:"stullerProductId,omitempty"`
	CompatibleMetals []string `json:"compatibleMetals,omitempty"`
	IsActive         bool     `json:"isActive"`
}

// Material is a catalog record in one of two forms, discriminated by
// HasVariants: the legacy scalar form carries a single UnitCost and is
// treated as metal-agnostic, the variant form carries per-metal cost entries.
// A record is never partially both.
type Material struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Supplier    string `json:"supplier,omitempty"`

	HasVariants bool      `json:"hasVariants"`
	Variants    []Variant `json:"variants,omitempty"`

	// Legacy scalar fields, meaningful only when HasVariants is false.
	UnitCost  float64 `json:"unitCost,omitempty"`
	SKU       string  `json:"sku,omitempty"`
	MetalType string  `json:"metalType,omitempty"`
	Karat     string  `json:"karat,omitempty"`

	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveVariant finds the active variant addressed by (metalType, karat).
func (m *Material) ActiveVariant(metalType, karat string) (*Variant, bool) {
	key, ok := MetalKey(metalType, karat)
	if !ok {
		return nil, false
	}
	for i := range m.Variants {
		v := &m.Variants[i]
		if !v.IsActive {
			continue
		}
		vk, ok := MetalKey(v.MetalType, v.Karat)
		if ok && vk == key {
			return v, true
		}
	}
	return nil, false
}

// Supports reports whether the material can be resolved for the given metal.
// Legacy materials support any metal; variant materials only when an active
// variant matches the key. Used to filter compatible materials before a
// resolution is attempted.
func Supports(m *Material, metalType, karat string) bool {
	if !m.HasVariants {
		return true
	}
	_, ok := m.ActiveVariant(metalType, karat)
	return ok
}

// RawUnitCost resolves the supplier unit cost before markup. Legacy materials
// ignore the requested metal entirely.
func RawUnitCost(m *Material, metalType, karat string) (float64, error) {
	if !m.HasVariants {
		return m.UnitCost, nil
	}
	v, ok := m.ActiveVariant(metalType, karat)
	if !ok {
		return 0, &UnsupportedMetalError{
			MaterialID:   m.ID,
			MaterialName: m.DisplayName,
			MetalType:    metalType,
			Karat:        karat,
		}
	}
	return v.UnitCost, nil
}

// ResolveUnitCost resolves the marked-up unit cost of a material for the
// given metal. Markup application lives here and nowhere else, so callers can
// never double-apply it.
func ResolveUnitCost(m *Material, metalType, karat string, s Settings) (float64, error) {
	raw, err := RawUnitCost(m, metalType, karat)
	if err != nil {
		return 0, err
	}
	return raw * s.MaterialMarkup, nil
}

// Round2 rounds a currency amount to 2 decimal places. Applied at the point
// of storage, never mid-calculation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
