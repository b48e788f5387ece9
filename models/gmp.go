package models

// GmpData is a raw grey market premium record
type GmpData struct {
	Source                SourceID `json:"source"`
	Symbol                string   `json:"symbol,omitempty"`
	CompanyName           string   `json:"companyName,omitempty"`
	GMP                   *float64 `json:"gmp,omitempty"`
	GMPPercent            *float64 `json:"gmpPercent,omitempty"`
	IPOPrice              *float64 `json:"ipoPrice,omitempty"`
	EstimatedListingPrice *float64 `json:"estimatedListingPrice,omitempty"`
	Rating                *int     `json:"rating,omitempty"`
	UpdatedOn             string   `json:"updatedOn,omitempty"`
}

// Identity returns the raw symbol and company name of the record
func (d GmpData) Identity() (string, string) { return d.Symbol, d.CompanyName }

// SubscriptionMultiples are oversubscription ratios per investor category
type SubscriptionMultiples struct {
	QIB      *float64 `json:"qib,omitempty"`
	NII      *float64 `json:"nii,omitempty"`
	Retail   *float64 `json:"retail,omitempty"`
	Employee *float64 `json:"employee,omitempty"`
	Total    *float64 `json:"total,omitempty"`
}

// SubscriptionData is a raw subscription record
type SubscriptionData struct {
	Source      SourceID              `json:"source"`
	Symbol      string                `json:"symbol,omitempty"`
	CompanyName string                `json:"companyName,omitempty"`
	Multiples   SubscriptionMultiples `json:"multiples"`
}

// Identity returns the raw symbol and company name of the record
func (d SubscriptionData) Identity() (string, string) { return d.Symbol, d.CompanyName }

// RawRecord is implemented by every raw record kind
type RawRecord interface {
	Identity() (symbol string, companyName string)
}
