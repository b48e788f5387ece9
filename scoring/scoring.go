package scoring

import (
	"math"

	"github.com/fenilmodi00/ipo-aggregator/models"
)

const (
	baseScore = 5.0
	maxScore  = 10.0
)

// Metrics are the scoring inputs with NaN and infinite values removed
type Metrics struct {
	RevenueGrowth     *float64
	ROE               *float64
	ROCE              *float64
	DebtToEquity      *float64
	PATMargin         *float64
	PromoterHolding   *float64
	PE                *float64 // nil when missing or non-positive
	PB                *float64
	OFSRatio          *float64
	GMPPercent        *float64
	SubscriptionTotal *float64

	NegativeEarnings bool
	SectorPE         float64
	SectorPB         float64
}

// Engine scores merged records under a fixed Policy
type Engine struct {
	policy Policy
}

// NewEngine creates an engine. The policy is copied.
func NewEngine(policy Policy) *Engine {
	if len(policy.Rules) == 0 {
		policy.Rules = DefaultRules()
	}
	return &Engine{policy: policy}
}

var defaultEngine = NewEngine(DefaultPolicy())

// Score scores record with the default policy
func Score(record *models.MergedIpoRecord) models.ScoreResult {
	return defaultEngine.Score(record)
}

// Policy returns the engine's policy
func (e *Engine) Policy() Policy { return e.policy }

// Score derives the score result of record. It reads the record only.
func (e *Engine) Score(record *models.MergedIpoRecord) models.ScoreResult {
	p := &e.policy
	m := e.Metrics(record)

	fundamentals := clamp(e.fundamentals(m))
	valuation := clamp(e.valuation(m))
	governance := clamp(e.governance(m))
	overall := clamp(p.FundamentalsWeight*fundamentals + p.ValuationWeight*valuation + p.GovernanceWeight*governance)

	result := models.ScoreResult{
		FundamentalsScore: round2(fundamentals),
		ValuationScore:    round2(valuation),
		GovernanceScore:   round2(governance),
		OverallScore:      round2(overall),
		RedFlags:          []string{},
		Pros:              []string{},
	}

	for _, rule := range p.Rules {
		finding, ok := rule.Evaluate(m, p)
		if !ok {
			continue
		}
		if finding.RedFlag {
			result.RedFlags = append(result.RedFlags, finding.Message)
		} else {
			result.Pros = append(result.Pros, finding.Message)
		}
	}
	result.RiskLevel = e.RiskLevel(len(result.RedFlags))
	return result
}

// RiskLevel maps a red flag count onto a tier
func (e *Engine) RiskLevel(flags int) models.RiskLevel {
	switch {
	case flags == 0:
		return models.RiskConservative
	case flags <= e.policy.ModerateMaxFlags:
		return models.RiskModerate
	default:
		return models.RiskAggressive
	}
}

// Metrics extracts the sanitized scoring inputs of record
func (e *Engine) Metrics(record *models.MergedIpoRecord) Metrics {
	f := record.Financials
	m := Metrics{
		RevenueGrowth:     finite(f.RevenueGrowth),
		ROE:               finite(f.ROE),
		ROCE:              finite(f.ROCE),
		DebtToEquity:      finite(f.DebtToEquity),
		PATMargin:         finite(f.PATMargin),
		PromoterHolding:   finite(f.PromoterHolding),
		PE:                finite(f.PERatio),
		PB:                finite(f.PBRatio),
		OFSRatio:          finite(f.OFSRatio),
		GMPPercent:        finite(record.GMPPercent),
		SubscriptionTotal: finite(record.Subscription.Total),
	}
	if m.PE != nil && *m.PE <= 0 {
		m.PE = nil
		m.NegativeEarnings = true
	}
	if m.PB != nil && *m.PB <= 0 {
		m.PB = nil
	}
	m.SectorPE, m.SectorPB = e.policy.sectorMedian(record.Sector, finite(f.SectorPE), finite(f.SectorPB))
	return m
}

func (e *Engine) fundamentals(m Metrics) float64 {
	score := baseScore
	if m.RevenueGrowth != nil {
		score += math.Min(*m.RevenueGrowth/20, 2)
	}
	if m.ROE != nil {
		score += math.Min(*m.ROE/15, 2)
	}
	if m.ROCE != nil {
		score += math.Min(*m.ROCE/30, 1)
	}
	return score
}

func (e *Engine) valuation(m Metrics) float64 {
	score := baseScore
	if m.PE != nil && m.SectorPE > 0 {
		score += adjustment(*m.PE/m.SectorPE, e.policy.PEBands, e.policy.PEOverflow)
	}
	if m.PB != nil && m.SectorPB > 0 {
		score += adjustment(*m.PB/m.SectorPB, e.policy.PBBands, e.policy.PBOverflow)
	}
	return score
}

func (e *Engine) governance(m Metrics) float64 {
	score := baseScore
	if m.PromoterHolding != nil && *m.PromoterHolding < e.policy.PromoterCeiling {
		score += 2
	}
	if m.DebtToEquity != nil && *m.DebtToEquity < e.policy.LowDebtToEquity {
		score += 2
	}
	if m.PATMargin != nil && *m.PATMargin > e.policy.PATMarginFloor {
		score++
	}
	return score
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := *v
	return &out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(maxScore, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
