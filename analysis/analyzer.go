package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/sirupsen/logrus"
)

// Recommendations emitted by the rule-based fallback
const (
	RecommendSubscribe = "SUBSCRIBE"
	RecommendListing   = "SUBSCRIBE_FOR_LISTING_GAINS"
	RecommendNeutral   = "NEUTRAL"
	RecommendAvoid     = "AVOID"
)

const systemPrompt = `You are an equity research analyst covering Indian primary markets.
You write short, factual notes on IPOs for retail investors. Never invent figures
that are not in the input.

Output Format (JSON only, no markdown fences):
{"summary": string, "recommendation": "SUBSCRIBE" | "SUBSCRIBE_FOR_LISTING_GAINS" | "NEUTRAL" | "AVOID",
 "riskAssessment": string, "keyInsights": [string]}`

var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// Analyzer produces an Analysis per record. It never returns an error;
// every failure of the generator degrades to the rule-based analysis.
type Analyzer struct {
	generator Generator
	timeout   time.Duration
	logger    *logrus.Entry
}

// NewAnalyzer creates an analyzer. generator may be nil.
func NewAnalyzer(generator Generator, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Analyzer{
		generator: generator,
		timeout:   timeout,
		logger:    logrus.WithField("component", "Analyzer"),
	}
}

// Provider names the generator in use
func (a *Analyzer) Provider() string {
	if a.generator == nil {
		return ProviderFallback
	}
	return a.generator.Provider()
}

// Analyze describes record
func (a *Analyzer) Analyze(ctx context.Context, record *models.MergedIpoRecord) (analysis models.Analysis) {
	if a.generator == nil {
		return Fallback(record)
	}

	logger := a.logger.WithFields(logrus.Fields{"symbol": record.Symbol, "provider": a.generator.Provider()})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Generator panicked, using rule-based analysis")
			analysis = Fallback(record)
		}
	}()

	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.generator.Generate(genCtx, Prompt(record), systemPrompt)
	if err != nil {
		logger.WithError(err).Warn("Generation failed, using rule-based analysis")
		return Fallback(record)
	}

	parsed, err := parseResponse(text)
	if err != nil {
		logger.WithError(err).Warn("Unparseable generator output, using rule-based analysis")
		return Fallback(record)
	}

	parsed.Symbol = record.Symbol
	parsed.Provider = a.generator.Provider()
	return parsed
}

type response struct {
	Summary        string   `json:"summary"`
	Recommendation string   `json:"recommendation"`
	RiskAssessment string   `json:"riskAssessment"`
	KeyInsights    []string `json:"keyInsights"`
}

func parseResponse(text string) (models.Analysis, error) {
	s := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}

	var r response
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return models.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return models.Analysis{}, fmt.Errorf("analysis has no summary")
	}

	recommendation := strings.ToUpper(strings.TrimSpace(r.Recommendation))
	switch recommendation {
	case RecommendSubscribe, RecommendListing, RecommendNeutral, RecommendAvoid:
	default:
		recommendation = RecommendNeutral
	}
	if r.KeyInsights == nil {
		r.KeyInsights = []string{}
	}
	return models.Analysis{
		Summary:        strings.TrimSpace(r.Summary),
		Recommendation: recommendation,
		RiskAssessment: strings.TrimSpace(r.RiskAssessment),
		KeyInsights:    r.KeyInsights,
	}, nil
}

// Prompt renders the facts of record for the generator
func Prompt(record *models.MergedIpoRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "IPO: %s (%s)\n", record.CompanyName, record.Symbol)
	line := func(label string, v *float64, format string) {
		if v != nil {
			fmt.Fprintf(&b, "%s: "+format+"\n", label, *v)
		}
	}
	if record.Sector != "" {
		fmt.Fprintf(&b, "Sector: %s\n", record.Sector)
	}
	fmt.Fprintf(&b, "Status: %s\n", record.Status)
	if record.PriceBandLow != nil && record.PriceBandHigh != nil {
		fmt.Fprintf(&b, "Price band: ₹%.0f-%.0f\n", *record.PriceBandLow, *record.PriceBandHigh)
	}
	line("Issue size (₹ crore)", record.IssueSize, "%.2f")
	f := record.Financials
	line("Revenue growth %", f.RevenueGrowth, "%.1f")
	line("ROE %", f.ROE, "%.1f")
	line("ROCE %", f.ROCE, "%.1f")
	line("Debt to equity", f.DebtToEquity, "%.2f")
	line("PAT margin %", f.PATMargin, "%.1f")
	line("Promoter holding %", f.PromoterHolding, "%.1f")
	line("P/E", f.PERatio, "%.1f")
	line("P/B", f.PBRatio, "%.1f")
	line("GMP ₹", record.GMP, "%.0f")
	line("GMP %", record.GMPPercent, "%.1f")
	line("Subscription (x)", record.Subscription.Total, "%.2f")

	fmt.Fprintf(&b, "Scores (0-10): overall %.2f, fundamentals %.2f, valuation %.2f, governance %.2f\n",
		record.OverallScore, record.FundamentalsScore, record.ValuationScore, record.GovernanceScore)
	fmt.Fprintf(&b, "Risk tier: %s\n", record.RiskLevel)
	for _, flag := range record.RedFlags {
		fmt.Fprintf(&b, "Red flag: %s\n", flag)
	}
	for _, pro := range record.Pros {
		fmt.Fprintf(&b, "Strength: %s\n", pro)
	}
	fmt.Fprintf(&b, "Data confidence: %s across %d sources\n", record.Confidence, len(record.Sources))
	return b.String()
}
