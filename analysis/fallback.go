package analysis

import (
	"fmt"

	"github.com/fenilmodi00/ipo-aggregator/models"
)

// Fallback builds the analysis from the score result alone. Equal records
// always yield equal analyses.
func Fallback(record *models.MergedIpoRecord) models.Analysis {
	recommendation := fallbackRecommendation(record)

	summary := fmt.Sprintf("%s scores %.1f/10 overall (fundamentals %.1f, valuation %.1f, governance %.1f).",
		record.CompanyName, record.OverallScore, record.FundamentalsScore, record.ValuationScore, record.GovernanceScore)
	if record.GMPPercent != nil {
		summary += fmt.Sprintf(" The grey market premium is %.1f%%.", *record.GMPPercent)
	}

	var risk string
	switch record.RiskLevel {
	case models.RiskConservative:
		risk = "No red flags were found in the reported metrics."
	case models.RiskAggressive:
		risk = fmt.Sprintf("%d red flags make this an aggressive bet.", len(record.RedFlags))
	default:
		risk = fmt.Sprintf("%d red flag(s) warrant a closer look.", len(record.RedFlags))
	}
	if record.Confidence == models.ConfidenceLow {
		risk += " Data comes from a single or conflicting source."
	}

	insights := make([]string, 0, len(record.RedFlags)+len(record.Pros))
	insights = append(insights, record.Pros...)
	insights = append(insights, record.RedFlags...)

	return models.Analysis{
		Symbol:         record.Symbol,
		Summary:        summary,
		Recommendation: recommendation,
		RiskAssessment: risk,
		KeyInsights:    insights,
		Provider:       ProviderFallback,
		Fallback:       true,
	}
}

func fallbackRecommendation(record *models.MergedIpoRecord) string {
	switch {
	case record.RiskLevel == models.RiskAggressive || record.OverallScore < 5:
		return RecommendAvoid
	case record.OverallScore >= 7:
		return RecommendSubscribe
	case record.GMPPercent != nil && *record.GMPPercent >= 15:
		return RecommendListing
	default:
		return RecommendNeutral
	}
}
