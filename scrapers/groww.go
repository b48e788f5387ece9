package scrapers

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/normalize"
)

const growwIpoPath = "/v1/api/stocks_primary_market_data/v2/ipo/all"

type growwResponse struct {
	IpoCompanyListingOrderMap map[string][]growwIpo `json:"ipoCompanyListingOrderMap"`
}

type growwSubscription struct {
	Category        string    `json:"category"`
	SubscribedTimes flexFloat `json:"subscribedTimes"`
}

type growwIpo struct {
	Symbol            flexString          `json:"symbol"`
	CompanyName       string              `json:"companyName"`
	BiddingStartDate  string              `json:"biddingStartDate"`
	BiddingEndDate    string              `json:"biddingEndDate"`
	ListingDate       string              `json:"listingDate"`
	MinPrice          flexFloat           `json:"minPrice"`
	MaxPrice          flexFloat           `json:"maxPrice"`
	LotSize           flexFloat           `json:"lotSize"`
	IssueSize         flexString          `json:"issueSize"`
	Status            string              `json:"status"`
	IsSme             bool                `json:"isSme"`
	SubscriptionRates []growwSubscription `json:"subscriptionRates"`
}

// GrowwScraper reads the Groww primary market JSON API
type GrowwScraper struct {
	baseScraper
}

// NewGrowwScraper creates the scraper
func NewGrowwScraper(opts Options) *GrowwScraper {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://groww.in"
	}
	return &GrowwScraper{baseScraper: newBaseScraper(models.SourceGroww, opts)}
}

func (s *GrowwScraper) ID() models.SourceID { return models.SourceGroww }

func (s *GrowwScraper) ListsIPOs() bool { return true }

func (s *GrowwScraper) Capabilities() []models.RecordKind {
	return []models.RecordKind{models.KindIPO, models.KindSubscription}
}

func (s *GrowwScraper) GetIpos(ctx context.Context) models.ScraperResult[models.IpoData] {
	return run(&s.baseScraper, models.KindIPO, func() ([]models.IpoData, error) {
		items, err := s.load(ctx)
		if err != nil {
			return nil, err
		}

		now := s.now()
		ipos := make([]models.IpoData, 0, len(items))
		for _, item := range items {
			name := normalize.CleanCompanyName(item.CompanyName)
			symbol := normalize.Symbol(string(item.Symbol))
			if name == "" && symbol == "" {
				continue
			}
			ipo := models.IpoData{
				Source:        models.SourceGroww,
				Symbol:        symbol,
				CompanyName:   name,
				OpenDate:      normalize.Date(item.BiddingStartDate),
				CloseDate:     normalize.Date(item.BiddingEndDate),
				ListingDate:   normalize.Date(item.ListingDate),
				PriceBandLow:  item.MinPrice.Value,
				PriceBandHigh: item.MaxPrice.Value,
				LotSize:       item.LotSize.Int(),
				IssueSize:     normalize.Crores(string(item.IssueSize)),
				Exchange:      "NSE, BSE",
			}
			if item.IsSme {
				ipo.Exchange = "SME"
			}
			ipo.Status = normalize.Status(item.Status)
			if ipo.Status == "" {
				ipo.Status = normalize.StatusFromDates(ipo.OpenDate, ipo.CloseDate, ipo.ListingDate, now)
			}
			ipos = append(ipos, ipo)
		}
		return ipos, nil
	})
}

func (s *GrowwScraper) GetSubscriptions(ctx context.Context) models.ScraperResult[models.SubscriptionData] {
	return run(&s.baseScraper, models.KindSubscription, func() ([]models.SubscriptionData, error) {
		items, err := s.load(ctx)
		if err != nil {
			return nil, err
		}

		var subs []models.SubscriptionData
		for _, item := range items {
			if len(item.SubscriptionRates) == 0 {
				continue
			}
			multiples := growwMultiples(item.SubscriptionRates)
			if multiples == (models.SubscriptionMultiples{}) {
				continue
			}
			subs = append(subs, models.SubscriptionData{
				Source:      models.SourceGroww,
				Symbol:      normalize.Symbol(string(item.Symbol)),
				CompanyName: normalize.CleanCompanyName(item.CompanyName),
				Multiples:   multiples,
			})
		}
		return subs, nil
	})
}

func (s *GrowwScraper) GetGmp(context.Context) models.ScraperResult[models.GmpData] {
	return models.Unsupported[models.GmpData]()
}

func (s *GrowwScraper) load(ctx context.Context) ([]growwIpo, error) {
	body, err := s.fetch(ctx, s.baseURL+growwIpoPath, acceptJSON, map[string]string{
		"Referer": s.baseURL + "/ipo",
	})
	if err != nil {
		return nil, err
	}

	var response growwResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, s.parseError("decode IPO listing", err)
	}

	groups := make([]string, 0, len(response.IpoCompanyListingOrderMap))
	for status := range response.IpoCompanyListingOrderMap {
		groups = append(groups, status)
	}
	sort.Strings(groups)

	var items []growwIpo
	for _, status := range groups {
		items = append(items, response.IpoCompanyListingOrderMap[status]...)
	}
	return items, nil
}

func growwMultiples(rates []growwSubscription) models.SubscriptionMultiples {
	var m models.SubscriptionMultiples
	for _, rate := range rates {
		value := rate.SubscribedTimes.Value
		switch category := strings.ToUpper(strings.TrimSpace(rate.Category)); {
		case strings.Contains(category, "QIB"):
			m.QIB = value
		case strings.Contains(category, "NII"), strings.Contains(category, "HNI"):
			m.NII = value
		case strings.Contains(category, "RETAIL"), category == "RII", category == "IND":
			m.Retail = value
		case strings.Contains(category, "EMP"):
			m.Employee = value
		case strings.Contains(category, "TOTAL"), strings.Contains(category, "OVERALL"):
			m.Total = value
		}
	}
	return m
}
