package models

// RiskLevel is the categorical risk tier derived from red flag count
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
)

// ScoreResult holds the derived scoring fields of a merged record
type ScoreResult struct {
	FundamentalsScore float64   `json:"fundamentalsScore"`
	ValuationScore    float64   `json:"valuationScore"`
	GovernanceScore   float64   `json:"governanceScore"`
	OverallScore      float64   `json:"overallScore"`
	RiskLevel         RiskLevel `json:"riskLevel"`
	RedFlags          []string  `json:"redFlags"`
	Pros              []string  `json:"pros"`
}
