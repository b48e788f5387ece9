package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/normalize"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/gocolly/colly/v2"
)

const nseToolsIposPath = "/ipos"

// nseToolsQuote is one record of the bridge's /ipos document
type nseToolsQuote struct {
	Symbol          string    `json:"symbol"`
	CompanyName     string    `json:"companyName"`
	Sector          string    `json:"sector"`
	PERatio         flexFloat `json:"peRatio"`
	PBRatio         flexFloat `json:"pbRatio"`
	SectorPE        flexFloat `json:"sectorPe"`
	SectorPB        flexFloat `json:"sectorPb"`
	PromoterHolding flexFloat `json:"promoterHolding"`
	DebtToEquity    flexFloat `json:"debtToEquity"`
	ROE             flexFloat `json:"roe"`
	ROCE            flexFloat `json:"roce"`
	PATMargin       flexFloat `json:"patMargin"`
	RevenueGrowth   flexFloat `json:"revenueGrowth"`
	OFSRatio        flexFloat `json:"ofsRatio"`
}

// NSEToolsAdapter reads valuation metrics from a local nsetools bridge. The
// adapter contributes IPO records carrying only identity and financials;
// with no bridge configured it reports every kind as unsupported.
type NSEToolsAdapter struct {
	baseScraper
	timeout time.Duration
}

// NewNSEToolsAdapter creates the adapter. An empty opts.BaseURL disables it.
func NewNSEToolsAdapter(opts Options, timeout time.Duration) *NSEToolsAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NSEToolsAdapter{
		baseScraper: newBaseScraper(models.SourceNSETools, opts),
		timeout:     timeout,
	}
}

func (a *NSEToolsAdapter) ID() models.SourceID { return models.SourceNSETools }

// ListsIPOs is false: the bridge only knows the symbols it is asked about,
// so an IPO it does not return may still be open.
func (a *NSEToolsAdapter) ListsIPOs() bool { return false }

func (a *NSEToolsAdapter) Capabilities() []models.RecordKind {
	if a.baseURL == "" {
		return nil
	}
	return []models.RecordKind{models.KindIPO}
}

func (a *NSEToolsAdapter) GetIpos(ctx context.Context) models.ScraperResult[models.IpoData] {
	if a.baseURL == "" {
		return models.Unsupported[models.IpoData]()
	}
	return run(&a.baseScraper, models.KindIPO, func() ([]models.IpoData, error) {
		quotes, err := a.quotes(ctx)
		if err != nil {
			return nil, err
		}

		ipos := make([]models.IpoData, 0, len(quotes))
		for _, q := range quotes {
			symbol := normalize.Symbol(q.Symbol)
			name := normalize.CleanCompanyName(q.CompanyName)
			if symbol == "" && name == "" {
				continue
			}
			ipos = append(ipos, models.IpoData{
				Source:      models.SourceNSETools,
				Symbol:      symbol,
				CompanyName: name,
				Sector:      normalize.CleanText(q.Sector),
				Financials: models.Financials{
					RevenueGrowth:   q.RevenueGrowth.Value,
					ROE:             q.ROE.Value,
					ROCE:            q.ROCE.Value,
					DebtToEquity:    q.DebtToEquity.Value,
					PATMargin:       q.PATMargin.Value,
					PromoterHolding: q.PromoterHolding.Value,
					PERatio:         q.PERatio.Value,
					PBRatio:         q.PBRatio.Value,
					SectorPE:        q.SectorPE.Value,
					SectorPB:        q.SectorPB.Value,
					OFSRatio:        q.OFSRatio.Value,
				},
			})
		}
		return ipos, nil
	})
}

func (a *NSEToolsAdapter) GetSubscriptions(context.Context) models.ScraperResult[models.SubscriptionData] {
	return models.Unsupported[models.SubscriptionData]()
}

func (a *NSEToolsAdapter) GetGmp(context.Context) models.ScraperResult[models.GmpData] {
	return models.Unsupported[models.GmpData]()
}

func (a *NSEToolsAdapter) quotes(ctx context.Context) ([]nseToolsQuote, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := a.baseURL + nseToolsIposPath
	collector := colly.NewCollector(colly.StdlibContext(ctx), colly.AllowURLRevisit())
	if a.httpClient.Transport != nil {
		collector.WithTransport(a.httpClient.Transport)
	}
	collector.SetRequestTimeout(a.timeout)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptJSON)
	})

	var (
		quotes    []nseToolsQuote
		decodeErr error
		status    int
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		decodeErr = json.Unmarshal(r.Body, &quotes)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := collector.Visit(url); err != nil {
		if status != 0 {
			return nil, shared.NewServiceError(shared.ErrorCategoryNetwork, shared.CodeSourceStatus,
				fmt.Sprintf("nsetools bridge returned HTTP %d", status), string(a.id), url, status >= 500, err)
		}
		return nil, shared.NewServiceError(shared.ErrorCategoryNetwork, shared.CodeSourceFetchFailed,
			"nsetools bridge unreachable", string(a.id), url, true, err)
	}
	if decodeErr != nil {
		return nil, a.parseError("decode nsetools quotes", decodeErr)
	}
	return quotes, nil
}
