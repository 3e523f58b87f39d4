// Package migrate proposes consolidations of legacy scalar materials into
// multi-variant records. Analysis is read-only: the report it produces feeds
// a human-approved migration step and never mutates the catalog.
package migrate

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"atelier-pricing/internal/pricing"
)

// Proposal is one candidate consolidation: a cluster of legacy materials that
// represent the same physical item across metal types.
type Proposal struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	MemberIDs    []string         `json:"memberIds"`
	DonorID      string           `json:"donorId"`
	Consolidated pricing.Material `json:"consolidated"`
	RiskFlags    []string         `json:"riskFlags,omitempty"`
}

// Report is the full analyzer output over the material catalog.
type Report struct {
	LegacyCount    int        `json:"legacyCount"`
	ClusteredCount int        `json:"clusteredCount"`
	Proposals      []Proposal `json:"proposals"`
	GeneratedAt    time.Time  `json:"generatedAt"`
}

// metalTokens are stripped from display names when clustering, so that
// "14K Yellow Gold Easy Solder" and "Sterling Silver Easy Solder" land in the
// same bucket.
var metalTokens = map[string]bool{
	"10k": true, "10kt": true, "14k": true, "14kt": true, "18k": true,
	"18kt": true, "22k": true, "22kt": true, "24k": true, "24kt": true,
	"925": true, "950": true, "999": true,
	"gold": true, "yellow": true, "white": true, "rose": true, "green": true,
	"silver": true, "sterling": true, "fine": true, "argentium": true,
	"platinum": true, "palladium": true, "titanium": true, "stainless": true,
	"steel": true, "brass": true, "copper": true,
}

// normalizeName strips metal and karat tokens from a display name and
// collapses the rest to a lowercase cluster key.
func normalizeName(displayName string) string {
	fields := strings.Fields(strings.ToLower(displayName))
	kept := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,()-")
		if f == "" || metalTokens[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// donorScore ranks a member by metadata completeness. The most complete
// member donates description, supplier, and name to the consolidated record.
func donorScore(m *pricing.Material) int {
	score := 0
	if m.Description != "" {
		score++
	}
	if m.SKU != "" {
		score++
	}
	if m.Supplier != "" {
		score++
	}
	if m.UnitCost > 0 {
		score++
	}
	return score
}

// Analyze clusters legacy scalar materials by normalized name and category
// and proposes one variant-form record per cluster with at least two members.
func Analyze(materials []pricing.Material) Report {
	report := Report{GeneratedAt: time.Now().UTC()}

	clusters := make(map[string][]*pricing.Material)
	var order []string
	for i := range materials {
		m := &materials[i]
		if m.HasVariants || m.Archived {
			continue
		}
		report.LegacyCount++
		key := normalizeName(m.DisplayName) + "|" + strings.ToLower(m.Category)
		if _, seen := clusters[key]; !seen {
			order = append(order, key)
		}
		clusters[key] = append(clusters[key], m)
	}

	for _, key := range order {
		members := clusters[key]
		if len(members) < 2 {
			continue
		}
		report.ClusteredCount += len(members)
		report.Proposals = append(report.Proposals, propose(key, members))
	}

	sort.Slice(report.Proposals, func(i, j int) bool {
		return report.Proposals[i].Name < report.Proposals[j].Name
	})
	return report
}

func propose(key string, members []*pricing.Material) Proposal {
	donor := members[0]
	for _, m := range members[1:] {
		if donorScore(m) > donorScore(donor) {
			donor = m
		}
	}

	name := strings.SplitN(key, "|", 2)[0]
	consolidated := pricing.Material{
		ID:          uuid.NewString(),
		DisplayName: donor.DisplayName,
		Category:    donor.Category,
		Description: donor.Description,
		Supplier:    donor.Supplier,
		HasVariants: true,
	}

	var flags []string
	families := make(map[string]bool)
	variantKeys := make(map[string]bool)
	for _, m := range members {
		if m.UnitCost == 0 {
			flags = appendOnce(flags, "zero-cost member")
		}
		vk, ok := pricing.MetalKey(m.MetalType, m.Karat)
		if !ok {
			flags = appendOnce(flags, "member with unrecognized metal")
			continue
		}
		if variantKeys[vk] {
			flags = appendOnce(flags, "duplicate variant key")
			continue
		}
		variantKeys[vk] = true
		families[pricing.MetalFamily(m.MetalType)] = true
		consolidated.Variants = append(consolidated.Variants, pricing.Variant{
			MetalType: m.MetalType,
			Karat:     m.Karat,
			UnitCost:  m.UnitCost,
			SKU:       m.SKU,
			IsActive:  true,
		})
	}
	if len(families) > 3 {
		flags = appendOnce(flags, "more than three metal families")
	}

	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
	}

	return Proposal{
		ID:           uuid.NewString(),
		Name:         name,
		Category:     donor.Category,
		MemberIDs:    memberIDs,
		DonorID:      donor.ID,
		Consolidated: consolidated,
		RiskFlags:    flags,
	}
}

func appendOnce(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}
