// Package scoring derives fundamentals, valuation and governance scores, a
// risk tier and red-flag/pro findings from a merged IPO record. Scoring is a
// pure function of the record and the Policy.
package scoring

import "strings"

// Band maps relative valuation ratios up to MaxRatio onto an adjustment.
// Bands are ordered by ascending MaxRatio with non-increasing adjustments.
type Band struct {
	MaxRatio   float64
	Adjustment float64
}

// SectorMedian is the reference valuation of a sector
type SectorMedian struct {
	PE float64
	PB float64
}

// Policy holds every tunable threshold of the engine. The breakpoints are
// heuristics; replacing them must keep bands monotone.
type Policy struct {
	FundamentalsWeight float64
	ValuationWeight    float64
	GovernanceWeight   float64

	PEBands    []Band
	PEOverflow float64
	PBBands    []Band
	PBOverflow float64

	// Sectors is matched by case-insensitive substring of the record's sector
	Sectors         map[string]SectorMedian
	DefaultSectorPE float64
	DefaultSectorPB float64

	PEPremiumFlag      float64 // fraction above sector median
	MaxOFSRatio        float64
	HighDebtToEquity   float64
	LowDebtToEquity    float64
	PromoterCeiling    float64
	PATMarginFloor     float64
	StrongGrowth       float64
	StrongROE          float64
	StrongGMPPercent   float64
	StrongSubscription float64
	MinSubscription    float64

	// ModerateMaxFlags is the highest red-flag count still rated moderate
	ModerateMaxFlags int

	Rules []Rule
}

// DefaultPolicy returns the production thresholds
func DefaultPolicy() Policy {
	return Policy{
		FundamentalsWeight: 0.40,
		ValuationWeight:    0.35,
		GovernanceWeight:   0.25,

		PEBands: []Band{
			{MaxRatio: 0.70, Adjustment: 2},
			{MaxRatio: 0.90, Adjustment: 1},
			{MaxRatio: 1.10, Adjustment: 0},
			{MaxRatio: 1.23, Adjustment: -0.5},
		},
		PEOverflow: -1,
		PBBands: []Band{
			{MaxRatio: 0.70, Adjustment: 1},
			{MaxRatio: 1.00, Adjustment: 0.5},
			{MaxRatio: 1.30, Adjustment: 0},
			{MaxRatio: 1.60, Adjustment: -0.5},
		},
		PBOverflow: -1,

		Sectors: map[string]SectorMedian{
			"information technology": {PE: 30, PB: 8},
			"software":               {PE: 30, PB: 8},
			"it services":            {PE: 30, PB: 8},
			"bank":                   {PE: 18, PB: 2.5},
			"finance":                {PE: 20, PB: 3},
			"nbfc":                   {PE: 20, PB: 3},
			"fmcg":                   {PE: 45, PB: 10},
			"consumer":               {PE: 45, PB: 8},
			"retail":                 {PE: 50, PB: 8},
			"pharma":                 {PE: 30, PB: 4.5},
			"healthcare":             {PE: 35, PB: 5},
			"auto":                   {PE: 25, PB: 4},
			"infrastructure":         {PE: 20, PB: 2.5},
			"construction":           {PE: 20, PB: 2.5},
			"chemical":               {PE: 30, PB: 4},
			"power":                  {PE: 15, PB: 2},
			"energy":                 {PE: 15, PB: 2},
			"realty":                 {PE: 25, PB: 2.5},
			"real estate":            {PE: 25, PB: 2.5},
			"textile":                {PE: 20, PB: 2.5},
			"metal":                  {PE: 12, PB: 1.8},
		},
		DefaultSectorPE: 25,
		DefaultSectorPB: 3.5,

		PEPremiumFlag:      0.23,
		MaxOFSRatio:        0.30,
		HighDebtToEquity:   1.0,
		LowDebtToEquity:    0.5,
		PromoterCeiling:    75,
		PATMarginFloor:     10,
		StrongGrowth:       20,
		StrongROE:          15,
		StrongGMPPercent:   20,
		StrongSubscription: 10,
		MinSubscription:    1,

		ModerateMaxFlags: 3,

		Rules: DefaultRules(),
	}
}

// adjustment returns the band adjustment for ratio
func adjustment(ratio float64, bands []Band, overflow float64) float64 {
	for _, b := range bands {
		if ratio <= b.MaxRatio {
			return b.Adjustment
		}
	}
	return overflow
}

// sectorMedian resolves the reference P/E and P/B. The record's own sector
// figures win over the policy table, which wins over the defaults.
func (p *Policy) sectorMedian(sector string, sectorPE, sectorPB *float64) (pe, pb float64) {
	pe, pb = p.DefaultSectorPE, p.DefaultSectorPB

	if sector = strings.ToLower(strings.TrimSpace(sector)); sector != "" {
		best := ""
		for name, median := range p.Sectors {
			// longest match wins, ties broken alphabetically
			if !strings.Contains(sector, name) {
				continue
			}
			if len(name) > len(best) || (len(name) == len(best) && name < best) {
				best = name
				pe, pb = median.PE, median.PB
			}
		}
	}

	if sectorPE != nil && *sectorPE > 0 {
		pe = *sectorPE
	}
	if sectorPB != nil && *sectorPB > 0 {
		pb = *sectorPB
	}
	return pe, pb
}
