package scoring

import "fmt"

// Finding is the outcome of one rule: a red flag or a pro
type Finding struct {
	RedFlag bool
	Message string
}

// Rule inspects the sanitized metrics and reports at most one finding
type Rule struct {
	Name     string
	Evaluate func(m Metrics, p *Policy) (Finding, bool)
}

func flag(format string, args ...any) (Finding, bool) {
	return Finding{RedFlag: true, Message: fmt.Sprintf(format, args...)}, true
}

func pro(format string, args ...any) (Finding, bool) {
	return Finding{Message: fmt.Sprintf(format, args...)}, true
}

// DefaultRules is the red-flag/pro rule table in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		{Name: "valuation", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			switch {
			case m.NegativeEarnings:
				return flag("Negative earnings, P/E not meaningful")
			case m.PE == nil:
				return Finding{}, false
			case *m.PE > m.SectorPE*(1+p.PEPremiumFlag):
				return flag("P/E %.1f is %.0f%% above sector median %.1f", *m.PE, (*m.PE/m.SectorPE-1)*100, m.SectorPE)
			case *m.PE < m.SectorPE:
				return pro("P/E %.1f below sector median %.1f", *m.PE, m.SectorPE)
			}
			return Finding{}, false
		}},
		{Name: "offer_for_sale", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			if m.OFSRatio == nil {
				return Finding{}, false
			}
			if *m.OFSRatio > p.MaxOFSRatio {
				return flag("Offer for sale is %.0f%% of the issue", *m.OFSRatio*100)
			}
			return pro("Mostly fresh issue, offer for sale %.0f%%", *m.OFSRatio*100)
		}},
		{Name: "leverage", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			switch {
			case m.DebtToEquity == nil:
				return Finding{}, false
			case *m.DebtToEquity > p.HighDebtToEquity:
				return flag("High debt-to-equity of %.2f", *m.DebtToEquity)
			case *m.DebtToEquity < p.LowDebtToEquity:
				return pro("Low debt-to-equity of %.2f", *m.DebtToEquity)
			}
			return Finding{}, false
		}},
		{Name: "growth", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			switch {
			case m.RevenueGrowth == nil:
				return Finding{}, false
			case *m.RevenueGrowth < 0:
				return flag("Revenue declined %.1f%% year on year", -*m.RevenueGrowth)
			case *m.RevenueGrowth > p.StrongGrowth:
				return pro("Revenue grew %.1f%% year on year", *m.RevenueGrowth)
			}
			return Finding{}, false
		}},
		{Name: "return_on_equity", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			if m.ROE != nil && *m.ROE > p.StrongROE {
				return pro("Return on equity of %.1f%%", *m.ROE)
			}
			return Finding{}, false
		}},
		{Name: "profitability", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			switch {
			case m.PATMargin == nil:
				return Finding{}, false
			case *m.PATMargin < 0:
				return flag("Loss making with PAT margin of %.1f%%", *m.PATMargin)
			case *m.PATMargin > p.PATMarginFloor:
				return pro("Healthy PAT margin of %.1f%%", *m.PATMargin)
			}
			return Finding{}, false
		}},
		{Name: "grey_market", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			switch {
			case m.GMPPercent == nil:
				return Finding{}, false
			case *m.GMPPercent < 0:
				return flag("Negative grey market premium of %.1f%%", *m.GMPPercent)
			case *m.GMPPercent > p.StrongGMPPercent:
				return pro("Strong grey market premium of %.1f%%", *m.GMPPercent)
			}
			return Finding{}, false
		}},
		{Name: "subscription", Evaluate: func(m Metrics, p *Policy) (Finding, bool) {
			switch {
			case m.SubscriptionTotal == nil:
				return Finding{}, false
			case *m.SubscriptionTotal < p.MinSubscription:
				return flag("Undersubscribed at %.2fx", *m.SubscriptionTotal)
			case *m.SubscriptionTotal > p.StrongSubscription:
				return pro("Oversubscribed %.1fx", *m.SubscriptionTotal)
			}
			return Finding{}, false
		}},
	}
}
