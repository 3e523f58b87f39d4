package pricing

import "time"

// Settings holds the shop-wide pricing parameters. Calculators receive it as
// an immutable snapshot; the "current settings" notion is a single value
// fetched once per propagation run, never a hidden global.
type Settings struct {
	Wage              float64            `json:"wage"`
	MaterialMarkup    float64            `json:"materialMarkup"`
	AdministrativeFee float64            `json:"administrativeFee"`
	BusinessFee       float64            `json:"businessFee"`
	ConsumablesFee    float64            `json:"consumablesFee"`
	MetalComplexity   map[string]float64 `json:"metalComplexityMultipliers"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	Version           int64              `json:"version"`
}

// DefaultSettings is the bootstrap configuration written once when the
// settings row does not exist yet.
func DefaultSettings() Settings {
	return Settings{
		Wage:              60.0,
		MaterialMarkup:    1.5,
		AdministrativeFee: 0.10,
		BusinessFee:       0.15,
		ConsumablesFee:    0.05,
		MetalComplexity: map[string]float64{
			FamilyGold:      1.0,
			FamilySilver:    0.9,
			FamilyPlatinum:  1.4,
			FamilyPalladium: 1.3,
			FamilyTitanium:  1.5,
		},
		Version: 1,
	}
}

// Validate checks the settings invariants: wage positive, markup at least 1,
// all fee fractions and complexity multipliers non-negative.
func (s Settings) Validate() error {
	switch {
	case s.Wage <= 0:
		return &InvalidSettingsError{Field: "wage", Reason: "must be greater than zero"}
	case s.MaterialMarkup < 1:
		return &InvalidSettingsError{Field: "materialMarkup", Reason: "must be at least 1"}
	case s.AdministrativeFee < 0:
		return &InvalidSettingsError{Field: "administrativeFee", Reason: "must not be negative"}
	case s.BusinessFee < 0:
		return &InvalidSettingsError{Field: "businessFee", Reason: "must not be negative"}
	case s.ConsumablesFee < 0:
		return &InvalidSettingsError{Field: "consumablesFee", Reason: "must not be negative"}
	}
	for family, mult := range s.MetalComplexity {
		if mult < 0 {
			return &InvalidSettingsError{Field: "metalComplexityMultipliers." + family, Reason: "must not be negative"}
		}
	}
	return nil
}

// LaborRatePerMinute converts the hourly wage to a per-minute rate.
func (s Settings) LaborRatePerMinute() float64 {
	return s.Wage / 60.0
}

// BusinessMultiplier is 1 plus the sum of the fee fractions; base cost times
// this multiplier yields retail price.
func (s Settings) BusinessMultiplier() float64 {
	return 1 + s.AdministrativeFee + s.BusinessFee + s.ConsumablesFee
}
