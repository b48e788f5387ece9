package models

import (
	"sort"
	"time"
)

// Confidence is the qualitative corroboration level of a merged record
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidence levels, low < medium < high
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Field names a mergeable attribute of MergedIpoRecord
type Field string

const (
	FieldSymbol          Field = "symbol"
	FieldCompanyName     Field = "companyName"
	FieldOpenDate        Field = "openDate"
	FieldCloseDate       Field = "closeDate"
	FieldListingDate     Field = "listingDate"
	FieldExchange        Field = "exchange"
	FieldStatus          Field = "status"
	FieldSector          Field = "sector"
	FieldPriceBandLow    Field = "priceBandLow"
	FieldPriceBandHigh   Field = "priceBandHigh"
	FieldLotSize         Field = "lotSize"
	FieldIssueSize       Field = "issueSize"
	FieldRevenueGrowth   Field = "revenueGrowth"
	FieldROE             Field = "roe"
	FieldROCE            Field = "roce"
	FieldDebtToEquity    Field = "debtToEquity"
	FieldPATMargin       Field = "patMargin"
	FieldPromoterHolding Field = "promoterHolding"
	FieldPERatio         Field = "peRatio"
	FieldPBRatio         Field = "pbRatio"
	FieldSectorPE        Field = "sectorPe"
	FieldSectorPB        Field = "sectorPb"
	FieldOFSRatio        Field = "ofsRatio"
	FieldGMP             Field = "gmp"
	FieldGMPPercent      Field = "gmpPercent"
	FieldIPOPrice        Field = "ipoPrice"
	FieldEstListing      Field = "estimatedListingPrice"
	FieldSubQIB          Field = "subscription.qib"
	FieldSubNII          Field = "subscription.nii"
	FieldSubRetail       Field = "subscription.retail"
	FieldSubEmployee     Field = "subscription.employee"
	FieldSubTotal        Field = "subscription.total"
)

// Conflict kinds recorded on merged records
const (
	ConflictValueMismatch = "value_mismatch"
	ConflictKeyCollision  = "key_collision"
)

// FieldConflict records two sources disagreeing on a single-valued field.
// The winner is decided by priority; the conflict is informational.
type FieldConflict struct {
	Field  Field               `json:"field"`
	Kind   string              `json:"kind"`
	Winner SourceID            `json:"winner,omitempty"`
	Values map[SourceID]string `json:"values,omitempty"`
	Note   string              `json:"note,omitempty"`
}

// MergedIpoRecord is the unified record for one IPO across all sources.
// It is rebuilt from scratch on every aggregation pass.
type MergedIpoRecord struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"companyName"`
	// NameKey is the normalized company name, empty when no source named
	// the company. It identifies the IPO across passes where the exchange
	// symbol is unknown.
	NameKey string `json:"nameKey,omitempty"`

	OpenDate    *time.Time `json:"openDate,omitempty"`
	CloseDate   *time.Time `json:"closeDate,omitempty"`
	ListingDate *time.Time `json:"listingDate,omitempty"`
	Exchange    string     `json:"exchange,omitempty"`
	Status      string     `json:"status"`
	Sector      string     `json:"sector,omitempty"`

	PriceBandLow  *float64 `json:"priceBandLow,omitempty"`
	PriceBandHigh *float64 `json:"priceBandHigh,omitempty"`
	LotSize       *int     `json:"lotSize,omitempty"`
	IssueSize     *float64 `json:"issueSize,omitempty"`

	Financials   Financials            `json:"financials"`
	Subscription SubscriptionMultiples `json:"subscription"`

	GMP                   *float64 `json:"gmp,omitempty"`
	GMPPercent            *float64 `json:"gmpPercent,omitempty"`
	IPOPrice              *float64 `json:"ipoPrice,omitempty"`
	EstimatedListingPrice *float64 `json:"estimatedListingPrice,omitempty"`

	Sources      []SourceID         `json:"sources"`
	FieldSources map[Field]SourceID `json:"fieldSources,omitempty"`
	Confidence   Confidence         `json:"confidence"`
	Conflicts    []FieldConflict    `json:"conflicts,omitempty"`

	ScoreResult

	AggregatedAt time.Time `json:"aggregatedAt"`
}

// HasSource reports whether id contributed to the record
func (r *MergedIpoRecord) HasSource(id SourceID) bool {
	for _, s := range r.Sources {
		if s == id {
			return true
		}
	}
	return false
}

// HasExchangeSymbol reports whether a source reported the symbol. Otherwise
// Symbol holds the name key.
func (r *MergedIpoRecord) HasExchangeSymbol() bool {
	_, ok := r.FieldSources[FieldSymbol]
	return ok
}

// SortRecords orders records by symbol for stable output
func SortRecords(records []MergedIpoRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Symbol < records[j].Symbol
	})
}
