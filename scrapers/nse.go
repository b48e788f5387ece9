package scrapers

import (
	"context"
	"encoding/json"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/normalize"
)

const (
	nseCurrentPath  = "/api/ipo-current-issue"
	nseUpcomingPath = "/api/all-upcoming-issues?category=ipo"
)

type nseIssue struct {
	Symbol         string    `json:"symbol"`
	CompanyName    string    `json:"companyName"`
	Series         string    `json:"series"`
	IssueStartDate string    `json:"issueStartDate"`
	IssueEndDate   string    `json:"issueEndDate"`
	Status         string    `json:"status"`
	IssuePrice     string    `json:"issuePrice"`
	IssueSize      flexFloat `json:"issueSize"`
	NoOfTime       flexFloat `json:"noOfTime"`
	MinBidQuantity flexFloat `json:"minBidQuantity"`
}

// NSEScraper reads the exchange's public IPO endpoints. They reject requests
// without the cookies set by the home page, so every run starts with a
// warm-up request on the session client.
type NSEScraper struct {
	baseScraper
}

// NewNSEScraper creates the scraper. opts.HTTPClient should carry a cookie jar.
func NewNSEScraper(opts Options) *NSEScraper {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.nseindia.com"
	}
	return &NSEScraper{baseScraper: newBaseScraper(models.SourceNSE, opts)}
}

func (s *NSEScraper) ID() models.SourceID { return models.SourceNSE }

func (s *NSEScraper) ListsIPOs() bool { return true }

func (s *NSEScraper) Capabilities() []models.RecordKind {
	return []models.RecordKind{models.KindIPO, models.KindSubscription}
}

func (s *NSEScraper) GetIpos(ctx context.Context) models.ScraperResult[models.IpoData] {
	return run(&s.baseScraper, models.KindIPO, func() ([]models.IpoData, error) {
		s.warmUp(ctx)

		current, err := s.issues(ctx, nseCurrentPath)
		if err != nil {
			return nil, err
		}
		upcoming, err := s.issues(ctx, nseUpcomingPath)
		if err != nil {
			// the current issues are still worth reporting
			s.logger.WithError(err).Warn("Upcoming issues unavailable")
		}

		now := s.now()
		seen := make(map[string]bool)
		var ipos []models.IpoData
		for _, issue := range append(current, upcoming...) {
			symbol := normalize.Symbol(issue.Symbol)
			name := normalize.CleanCompanyName(issue.CompanyName)
			if symbol == "" && name == "" {
				continue
			}
			key := normalize.GroupKey(symbol, name)
			if seen[key] {
				continue
			}
			seen[key] = true

			ipo := models.IpoData{
				Source:      models.SourceNSE,
				Symbol:      symbol,
				CompanyName: name,
				OpenDate:    normalize.Date(issue.IssueStartDate),
				CloseDate:   normalize.Date(issue.IssueEndDate),
				LotSize:     issue.MinBidQuantity.Int(),
				Exchange:    "NSE",
			}
			if issue.Series == "SME" {
				ipo.Exchange = "NSE SME"
			}
			ipo.PriceBandLow, ipo.PriceBandHigh = normalize.PriceBand(issue.IssuePrice)
			ipo.Status = normalize.Status(issue.Status)
			if ipo.Status == "" {
				ipo.Status = normalize.StatusFromDates(ipo.OpenDate, ipo.CloseDate, nil, now)
			}
			ipos = append(ipos, ipo)
		}
		return ipos, nil
	})
}

func (s *NSEScraper) GetSubscriptions(ctx context.Context) models.ScraperResult[models.SubscriptionData] {
	return run(&s.baseScraper, models.KindSubscription, func() ([]models.SubscriptionData, error) {
		s.warmUp(ctx)

		current, err := s.issues(ctx, nseCurrentPath)
		if err != nil {
			return nil, err
		}

		var subs []models.SubscriptionData
		for _, issue := range current {
			if issue.NoOfTime.Value == nil {
				continue
			}
			subs = append(subs, models.SubscriptionData{
				Source:      models.SourceNSE,
				Symbol:      normalize.Symbol(issue.Symbol),
				CompanyName: normalize.CleanCompanyName(issue.CompanyName),
				Multiples:   models.SubscriptionMultiples{Total: issue.NoOfTime.Value},
			})
		}
		return subs, nil
	})
}

func (s *NSEScraper) GetGmp(context.Context) models.ScraperResult[models.GmpData] {
	return models.Unsupported[models.GmpData]()
}

func (s *NSEScraper) warmUp(ctx context.Context) {
	if _, err := s.fetch(ctx, s.baseURL+"/", acceptHTML, nil); err != nil {
		s.logger.WithError(err).Debug("Cookie warm-up failed")
	}
}

func (s *NSEScraper) issues(ctx context.Context, path string) ([]nseIssue, error) {
	body, err := s.fetch(ctx, s.baseURL+path, acceptJSON, map[string]string{
		"Referer": s.baseURL + "/market-data/all-upcoming-issues-ipo",
	})
	if err != nil {
		return nil, err
	}

	var issues []nseIssue
	if err := json.Unmarshal(body, &issues); err != nil {
		// some endpoints wrap the list
		var wrapped struct {
			Data []nseIssue `json:"data"`
		}
		if wrapErr := json.Unmarshal(body, &wrapped); wrapErr != nil {
			return nil, s.parseError("decode "+path, err)
		}
		issues = wrapped.Data
	}
	return issues, nil
}
