package pricing

import "strings"

// Metal families used for variant keys and complexity multipliers.
const (
	FamilyGold      = "gold"
	FamilySilver    = "silver"
	FamilyPlatinum  = "platinum"
	FamilyPalladium = "palladium"
	FamilyTitanium  = "titanium"
	FamilyStainless = "stainless"
	FamilyBrass     = "brass"
	FamilyCopper    = "copper"
)

// metalAliases maps every spelling of a metal type the catalog has ever used
// to its canonical family. Writers and readers must go through this table so
// that "Yellow Gold" and "gold" address the same variant.
var metalAliases = map[string]string{
	"gold":            FamilyGold,
	"yellow-gold":     FamilyGold,
	"white-gold":      FamilyGold,
	"rose-gold":       FamilyGold,
	"green-gold":      FamilyGold,
	"silver":          FamilySilver,
	"sterling-silver": FamilySilver,
	"fine-silver":     FamilySilver,
	"argentium":       FamilySilver,
	"platinum":        FamilyPlatinum,
	"palladium":       FamilyPalladium,
	"titanium":        FamilyTitanium,
	"stainless":       FamilyStainless,
	"stainless-steel": FamilyStainless,
	"surgical-steel":  FamilyStainless,
	"brass":           FamilyBrass,
	"copper":          FamilyCopper,
}

// karatAliases normalizes karat / fineness spellings. Silver and platinum
// catalogs use millesimal fineness where gold uses karat.
var karatAliases = map[string]string{
	"10k":      "10k",
	"10kt":     "10k",
	"14k":      "14k",
	"14kt":     "14k",
	"18k":      "18k",
	"18kt":     "18k",
	"22k":      "22k",
	"22kt":     "22k",
	"24k":      "24k",
	"24kt":     "24k",
	"925":      "925",
	"sterling": "925",
	"950":      "950",
	"999":      "999",
	"fine":     "999",
	"n/a":      "na",
	"na":       "na",
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ReplaceAll(s, " ", "-")
}

// MetalFamily returns the canonical family for a metal type, or "" when the
// type is unrecognized.
func MetalFamily(metalType string) string {
	return metalAliases[normalizeToken(metalType)]
}

// MetalKey maps a (metalType, karat) pair to the canonical variant key, e.g.
// ("Yellow Gold", "14K") -> "gold_14k". The second return is false when either
// input is missing or unrecognized. Pure lookup, no side effects.
func MetalKey(metalType, karat string) (string, bool) {
	family := MetalFamily(metalType)
	if family == "" {
		return "", false
	}
	k, ok := karatAliases[normalizeToken(karat)]
	if !ok {
		return "", false
	}
	return family + "_" + k, true
}
