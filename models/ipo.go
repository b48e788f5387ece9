package models

import "time"

// SourceID identifies the provider a raw record was scraped from
type SourceID string

const (
	SourceChittorgarh  SourceID = "chittorgarh"
	SourceInvestorGain SourceID = "investorgain"
	SourceGroww        SourceID = "groww"
	SourceNSE          SourceID = "nse"
	SourceNSETools     SourceID = "nsetools"
)

// KnownSources lists every source the scraper package can construct
var KnownSources = []SourceID{
	SourceChittorgarh,
	SourceInvestorGain,
	SourceGroww,
	SourceNSE,
	SourceNSETools,
}

// RecordKind is the kind of raw record a scraper operation produces
type RecordKind string

const (
	KindIPO          RecordKind = "ipo"
	KindSubscription RecordKind = "subscription"
	KindGMP          RecordKind = "gmp"
)

// AllKinds in fan-out order
var AllKinds = []RecordKind{KindIPO, KindSubscription, KindGMP}

// IPO lifecycle statuses as persisted
const (
	StatusUpcoming = "upcoming"
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusListed   = "listed"
	StatusUnknown  = "unknown"
)

// Financials holds the metrics the scoring engine reads. Every field is
// optional; nil means the source did not report it.
type Financials struct {
	RevenueGrowth   *float64 `json:"revenueGrowth,omitempty"`   // % YoY
	ROE             *float64 `json:"roe,omitempty"`             // %
	ROCE            *float64 `json:"roce,omitempty"`            // %
	DebtToEquity    *float64 `json:"debtToEquity,omitempty"`    // ratio
	PATMargin       *float64 `json:"patMargin,omitempty"`       // %
	PromoterHolding *float64 `json:"promoterHolding,omitempty"` // % post issue
	PERatio         *float64 `json:"peRatio,omitempty"`
	PBRatio         *float64 `json:"pbRatio,omitempty"`
	SectorPE        *float64 `json:"sectorPe,omitempty"`
	SectorPB        *float64 `json:"sectorPb,omitempty"`
	OFSRatio        *float64 `json:"ofsRatio,omitempty"` // offer-for-sale share of issue, 0..1
}

// IpoData is a raw IPO listing record as extracted by one scraper
type IpoData struct {
	Source        SourceID   `json:"source"`
	Symbol        string     `json:"symbol,omitempty"`
	CompanyName   string     `json:"companyName,omitempty"`
	OpenDate      *time.Time `json:"openDate,omitempty"`
	CloseDate     *time.Time `json:"closeDate,omitempty"`
	ListingDate   *time.Time `json:"listingDate,omitempty"`
	PriceBandLow  *float64   `json:"priceBandLow,omitempty"`
	PriceBandHigh *float64   `json:"priceBandHigh,omitempty"`
	LotSize       *int       `json:"lotSize,omitempty"`
	IssueSize     *float64   `json:"issueSize,omitempty"` // ₹ crore
	Exchange      string     `json:"exchange,omitempty"`
	Status        string     `json:"status,omitempty"`
	Sector        string     `json:"sector,omitempty"`
	DetailURL     string     `json:"detailUrl,omitempty"`
	Financials    Financials `json:"financials"`
}

// Identity returns the raw symbol and company name of the record
func (d IpoData) Identity() (string, string) { return d.Symbol, d.CompanyName }
