package scrapers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/config"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2025, 12, 11, 9, 0, 0, 0, time.UTC) }

const chittorgarhListHTML = `<html><body>
<table class="table">
<thead><tr>
<th>Issuer Company</th><th>Exchange</th><th>Open Date</th><th>Close Date</th>
<th>Listing Date</th><th>Issue Price</th><th>Issue Size</th><th>Lot Size</th>
</tr></thead>
<tbody>
<tr><td><a href="/ipo/abc-technologies-ipo/2101/">ABC Technologies Ltd IPO</a></td><td>NSE, BSE</td>
<td>Dec 10, 2025</td><td>Dec 12, 2025</td><td>Dec 17, 2025</td><td>₹450 to ₹475</td><td>125.00</td><td>30</td></tr>
<tr><td><a href="/ipo/xyz-foods-ipo/2102/">XYZ Foods Limited IPO</a></td><td>BSE SME</td>
<td>Dec 15, 2025</td><td>Dec 17, 2025</td><td>Dec 22, 2025</td><td>₹95</td><td>20.5</td><td>1200</td></tr>
<tr><td>AB</td><td>NSE</td><td></td><td></td><td></td><td></td><td></td><td></td></tr>
</tbody>
</table>
</body></html>`

const chittorgarhDetailHTML = `<html><body>
<table>
<tr><td>NSE Symbol</td><td>ABCTECH</td></tr>
<tr><td>Total Issue Size</td><td>26,31,578 shares (aggregating up to ₹125.00 Cr)</td></tr>
<tr><td>Offer for Sale</td><td>5,26,315 shares (aggregating up to ₹25.00 Cr)</td></tr>
<tr><td>Share Holding Pre Issue</td><td>100.00%</td></tr>
<tr><td>Share Holding Post Issue</td><td>68.50%</td></tr>
</table>
<table>
<tr><th>KPI</th><th>Values</th></tr>
<tr><td>ROE</td><td>18.50%</td></tr>
<tr><td>ROCE</td><td>22.10%</td></tr>
<tr><td>Debt/Equity</td><td>0.35</td></tr>
<tr><td>PAT Margin</td><td>12.40%</td></tr>
<tr><td>P/E (x)</td><td>30.10</td><td>28.40</td></tr>
<tr><td>Industry P/E</td><td>32.00</td></tr>
<tr><td>Price to Book Value</td><td>4.20</td></tr>
</table>
<table>
<tr><th>Period Ended</th><th>31 Mar 2025</th><th>31 Mar 2024</th></tr>
<tr><td>Revenue</td><td>500.00</td><td>400.00</td></tr>
</table>
</body></html>`

const chittorgarhSubscriptionHTML = `<html><body>
<table>
<thead><tr><th>Company Name</th><th>QIB (x)</th><th>NII (x)</th><th>Retail (x)</th><th>Employee (x)</th><th>Total (x)</th></tr></thead>
<tbody>
<tr><td>ABC Technologies Ltd</td><td>85.20</td><td>120.45</td><td>30.10</td><td>5.00</td><td>68.75</td></tr>
<tr><td>XYZ Foods Limited</td><td>-</td><td>-</td><td>-</td><td>-</td><td>-</td></tr>
</tbody>
</table>
</body></html>`

const investorGainHTML = `<html><body>
<table id="report_table">
<thead><tr><th>IPO Name</th><th>GMP</th><th>Rating</th><th>Sub</th><th>Price</th><th>Est Listing</th><th>Updated On</th></tr></thead>
<tbody>
<tr><td>ABC Technologies Ltd IPO</td><td>₹125 (26.3%)</td><td>🔥🔥🔥</td><td>45.2x</td><td>475</td><td>₹600 (26.3%)</td><td>11-Dec 17:30</td></tr>
<tr><td>XYZ Foods Limited IPO</td><td>N/A</td><td></td><td>-</td><td>95</td><td>N/A</td><td>11-Dec 17:30</td></tr>
</tbody>
</table>
</body></html>`

const growwJSON = `{
  "ipoCompanyListingOrderMap": {
    "ACTIVE": [
      {"symbol": "ABCTECH", "companyName": "ABC Technologies Limited", "biddingStartDate": "2025-12-10",
       "biddingEndDate": "2025-12-12", "listingDate": "2025-12-17", "minPrice": 450, "maxPrice": "475",
       "lotSize": 30, "issueSize": "125.00", "status": "ACTIVE",
       "subscriptionRates": [
         {"category": "QIB", "subscribedTimes": 85.2},
         {"category": "NII", "subscribedTimes": "120.45"},
         {"category": "RETAIL", "subscribedTimes": 30.1},
         {"category": "TOTAL", "subscribedTimes": 68.75}
       ]}
    ],
    "UPCOMING": [
      {"symbol": "", "companyName": "XYZ Foods Ltd", "biddingStartDate": "2025-12-15",
       "biddingEndDate": "2025-12-17", "minPrice": 95, "maxPrice": 95, "lotSize": 1200, "isSme": true}
    ]
  }
}`

func TestChittorgarhGetIpos(t *testing.T) {
	var detailHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(chittorgarhListPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chittorgarhListHTML))
	})
	mux.HandleFunc("/ipo/", func(w http.ResponseWriter, r *http.Request) {
		detailHits.Add(1)
		if strings.Contains(r.URL.Path, "abc-technologies") {
			_, _ = w.Write([]byte(chittorgarhDetailHTML))
			return
		}
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	scraper := NewChittorgarhScraper(Options{BaseURL: server.URL, HTTPClient: server.Client(), Now: fixedNow}, 5)
	result := scraper.GetIpos(context.Background())

	require.True(t, result.Success, result.Error)
	require.Len(t, result.Data, 2, "rows with short names are skipped")
	assert.Equal(t, int32(2), detailHits.Load())

	abc := result.Data[0]
	assert.Equal(t, models.SourceChittorgarh, abc.Source)
	assert.Equal(t, "ABC Technologies Ltd", abc.CompanyName)
	assert.Equal(t, "ABCTECH", abc.Symbol)
	assert.Equal(t, models.StatusOpen, abc.Status)
	require.NotNil(t, abc.PriceBandLow)
	assert.Equal(t, 450.0, *abc.PriceBandLow)
	assert.Equal(t, 475.0, *abc.PriceBandHigh)
	require.NotNil(t, abc.LotSize)
	assert.Equal(t, 30, *abc.LotSize)
	require.NotNil(t, abc.IssueSize)
	assert.InDelta(t, 125.0, *abc.IssueSize, 1e-9)

	f := abc.Financials
	require.NotNil(t, f.ROE)
	assert.InDelta(t, 18.5, *f.ROE, 1e-9)
	assert.InDelta(t, 22.1, *f.ROCE, 1e-9)
	assert.InDelta(t, 0.35, *f.DebtToEquity, 1e-9)
	assert.InDelta(t, 12.4, *f.PATMargin, 1e-9)
	require.NotNil(t, f.PERatio)
	assert.InDelta(t, 28.4, *f.PERatio, 1e-9, "post-issue P/E is the last column")
	require.NotNil(t, f.SectorPE)
	assert.InDelta(t, 32.0, *f.SectorPE, 1e-9)
	assert.InDelta(t, 4.2, *f.PBRatio, 1e-9)
	assert.InDelta(t, 68.5, *f.PromoterHolding, 1e-9)
	require.NotNil(t, f.OFSRatio)
	assert.InDelta(t, 0.2, *f.OFSRatio, 1e-9)
	require.NotNil(t, f.RevenueGrowth)
	assert.InDelta(t, 25.0, *f.RevenueGrowth, 1e-9)

	xyz := result.Data[1]
	assert.Equal(t, "XYZ Foods Limited", xyz.CompanyName)
	assert.Equal(t, models.StatusUpcoming, xyz.Status)
	assert.Empty(t, xyz.Symbol, "failed detail page keeps list data")
	assert.Equal(t, 95.0, *xyz.PriceBandLow)
	assert.Equal(t, 95.0, *xyz.PriceBandHigh)
}

func TestChittorgarhDetailLimit(t *testing.T) {
	var detailHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(chittorgarhListPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chittorgarhListHTML))
	})
	mux.HandleFunc("/ipo/", func(w http.ResponseWriter, r *http.Request) {
		detailHits.Add(1)
		_, _ = w.Write([]byte(chittorgarhDetailHTML))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	scraper := NewChittorgarhScraper(Options{BaseURL: server.URL, HTTPClient: server.Client(), Now: fixedNow}, 0)
	result := scraper.GetIpos(context.Background())

	require.True(t, result.Success, result.Error)
	assert.Len(t, result.Data, 2)
	assert.Equal(t, int32(0), detailHits.Load())
}

func TestChittorgarhSubscriptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chittorgarhSubscriptionHTML))
	}))
	defer server.Close()

	scraper := NewChittorgarhScraper(Options{BaseURL: server.URL, HTTPClient: server.Client()}, 0)
	result := scraper.GetSubscriptions(context.Background())

	require.True(t, result.Success, result.Error)
	require.Len(t, result.Data, 1, "rows without any multiple are dropped")
	m := result.Data[0].Multiples
	assert.InDelta(t, 85.2, *m.QIB, 1e-9)
	assert.InDelta(t, 120.45, *m.NII, 1e-9)
	assert.InDelta(t, 30.1, *m.Retail, 1e-9)
	assert.InDelta(t, 5.0, *m.Employee, 1e-9)
	assert.InDelta(t, 68.75, *m.Total, 1e-9)

	gmp := scraper.GetGmp(context.Background())
	assert.True(t, gmp.Success)
	assert.Empty(t, gmp.Data)
}

func TestChittorgarhFailuresBecomeResults(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    string
	}{
		{
			name: "bad status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			code: shared.CodeSourceStatus,
		},
		{
			name: "no table",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html><body><p>maintenance</p></body></html>"))
			},
			code: shared.CodeSourceParseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			scraper := NewChittorgarhScraper(Options{BaseURL: server.URL, HTTPClient: server.Client()}, 0)
			result := scraper.GetIpos(context.Background())

			assert.False(t, result.Success)
			assert.Empty(t, result.Data)
			assert.Contains(t, result.Error, tt.code)
		})
	}
}

type countingRenderer struct {
	calls atomic.Int32
	html  string
}

func (r *countingRenderer) Render(context.Context, string) (string, error) {
	r.calls.Add(1)
	return r.html, nil
}

func TestInvestorGainGmpAndSubscription(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, investorGainGmpPath, r.URL.Path)
		_, _ = w.Write([]byte(investorGainHTML))
	}))
	defer server.Close()

	scraper := NewInvestorGainScraper(Options{BaseURL: server.URL, HTTPClient: server.Client()}, nil)

	gmps := scraper.GetGmp(context.Background())
	require.True(t, gmps.Success, gmps.Error)
	require.Len(t, gmps.Data, 2)

	abc := gmps.Data[0]
	assert.Equal(t, "ABC Technologies Ltd", abc.CompanyName)
	require.NotNil(t, abc.GMP)
	assert.Equal(t, 125.0, *abc.GMP)
	require.NotNil(t, abc.GMPPercent)
	assert.InDelta(t, 26.3, *abc.GMPPercent, 1e-9)
	require.NotNil(t, abc.Rating)
	assert.Equal(t, 3, *abc.Rating)
	assert.InDelta(t, 600.0, *abc.EstimatedListingPrice, 1e-9)

	xyz := gmps.Data[1]
	assert.Nil(t, xyz.GMP, "N/A premium is missing, not zero")
	assert.Nil(t, xyz.GMPPercent)
	assert.Nil(t, xyz.EstimatedListingPrice)

	subs := scraper.GetSubscriptions(context.Background())
	require.True(t, subs.Success, subs.Error)
	require.Len(t, subs.Data, 1)
	assert.InDelta(t, 45.2, *subs.Data[0].Multiples.Total, 1e-9)

	assert.Equal(t, int32(1), hits.Load(), "both kinds share one page load")

	ipos := scraper.GetIpos(context.Background())
	assert.True(t, ipos.Success)
	assert.Empty(t, ipos.Data)
}

func TestInvestorGainUsesRenderer(t *testing.T) {
	renderer := &countingRenderer{html: investorGainHTML}
	scraper := NewInvestorGainScraper(Options{BaseURL: "http://127.0.0.1:1"}, renderer)

	result := scraper.GetGmp(context.Background())
	require.True(t, result.Success, result.Error)
	assert.Len(t, result.Data, 2)
	assert.Equal(t, int32(1), renderer.calls.Load())
}

func TestGrowwScraper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, growwIpoPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(growwJSON))
	}))
	defer server.Close()

	scraper := NewGrowwScraper(Options{BaseURL: server.URL, HTTPClient: server.Client(), Now: fixedNow})

	ipos := scraper.GetIpos(context.Background())
	require.True(t, ipos.Success, ipos.Error)
	require.Len(t, ipos.Data, 2)

	abc := ipos.Data[0]
	assert.Equal(t, "ABCTECH", abc.Symbol)
	assert.Equal(t, models.StatusOpen, abc.Status)
	assert.Equal(t, 450.0, *abc.PriceBandLow)
	assert.Equal(t, 475.0, *abc.PriceBandHigh, "string numbers decode")
	assert.Equal(t, 30, *abc.LotSize)
	require.NotNil(t, abc.OpenDate)
	assert.Equal(t, 10, abc.OpenDate.Day())

	xyz := ipos.Data[1]
	assert.Empty(t, xyz.Symbol)
	assert.Equal(t, "SME", xyz.Exchange)
	assert.Equal(t, models.StatusUpcoming, xyz.Status, "status derived from dates when absent")

	subs := scraper.GetSubscriptions(context.Background())
	require.True(t, subs.Success, subs.Error)
	require.Len(t, subs.Data, 1)
	m := subs.Data[0].Multiples
	assert.InDelta(t, 85.2, *m.QIB, 1e-9)
	assert.InDelta(t, 120.45, *m.NII, 1e-9)
	assert.InDelta(t, 30.1, *m.Retail, 1e-9)
	assert.InDelta(t, 68.75, *m.Total, 1e-9)
	assert.Nil(t, m.Employee)
}

func TestGrowwMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ipoCompanyListingOrderMap": [`))
	}))
	defer server.Close()

	result := NewGrowwScraper(Options{BaseURL: server.URL, HTTPClient: server.Client()}).GetIpos(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "decode")
}

func TestNSEScraperWarmsUpCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "session", Path: "/"})
		_, _ = w.Write([]byte("<html></html>"))
	})
	requireCookie := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if _, err := r.Cookie("nsit"); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/api/ipo-current-issue", requireCookie(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol": "ABCTECH", "companyName": "ABC Technologies Limited", "series": "EQ",
			 "issueStartDate": "10-Dec-2025", "issueEndDate": "12-Dec-2025", "status": "Active",
			 "issuePrice": "Rs.450 to Rs.475", "noOfTime": "68.75", "minBidQuantity": "30"}
		]`))
	}))
	mux.HandleFunc("/api/all-upcoming-issues", requireCookie(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ipo", r.URL.Query().Get("category"))
		_, _ = w.Write([]byte(`{"data": [
			{"symbol": "XYZFOODS", "companyName": "XYZ Foods Limited", "series": "SME",
			 "issueStartDate": "15-Dec-2025", "issueEndDate": "17-Dec-2025", "issuePrice": "Rs.95"},
			{"symbol": "ABCTECH", "companyName": "ABC Technologies Limited"}
		]}`))
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := shared.NewHTTPClientFactory(5 * time.Second).CreateSessionClient(5 * time.Second)
	scraper := NewNSEScraper(Options{BaseURL: server.URL, HTTPClient: client, Now: fixedNow})

	ipos := scraper.GetIpos(context.Background())
	require.True(t, ipos.Success, ipos.Error)
	require.Len(t, ipos.Data, 2, "duplicates across endpoints are collapsed")
	assert.Equal(t, "ABCTECH", ipos.Data[0].Symbol)
	assert.Equal(t, models.StatusOpen, ipos.Data[0].Status)
	assert.Equal(t, 30, *ipos.Data[0].LotSize)
	assert.Equal(t, 475.0, *ipos.Data[0].PriceBandHigh)
	assert.Equal(t, "XYZFOODS", ipos.Data[1].Symbol)
	assert.Equal(t, "NSE SME", ipos.Data[1].Exchange)
	assert.Equal(t, models.StatusUpcoming, ipos.Data[1].Status)

	subs := scraper.GetSubscriptions(context.Background())
	require.True(t, subs.Success, subs.Error)
	require.Len(t, subs.Data, 1)
	assert.InDelta(t, 68.75, *subs.Data[0].Multiples.Total, 1e-9)
}

func TestNSEToolsAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, nseToolsIposPath, r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"symbol": "abctech", "companyName": "ABC Technologies Ltd", "sector": "IT Services",
			 "peRatio": 35.2, "pbRatio": "4.1", "sectorPe": 30, "promoterHolding": 68.5, "debtToEquity": null}
		]`))
	}))
	defer server.Close()

	adapter := NewNSEToolsAdapter(Options{BaseURL: server.URL, HTTPClient: server.Client()}, time.Second)
	assert.Equal(t, []models.RecordKind{models.KindIPO}, adapter.Capabilities())

	result := adapter.GetIpos(context.Background())
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Data, 1)
	ipo := result.Data[0]
	assert.Equal(t, "ABCTECH", ipo.Symbol)
	assert.Equal(t, "IT Services", ipo.Sector)
	assert.InDelta(t, 35.2, *ipo.Financials.PERatio, 1e-9)
	assert.InDelta(t, 4.1, *ipo.Financials.PBRatio, 1e-9)
	assert.Nil(t, ipo.Financials.DebtToEquity)
	assert.Nil(t, ipo.OpenDate)
}

func TestNSEToolsAdapterFailures(t *testing.T) {
	t.Run("disabled without a bridge", func(t *testing.T) {
		adapter := NewNSEToolsAdapter(Options{}, time.Second)
		assert.Empty(t, adapter.Capabilities())
		result := adapter.GetIpos(context.Background())
		assert.True(t, result.Success)
		assert.Empty(t, result.Data)
	})

	t.Run("bridge error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		result := NewNSEToolsAdapter(Options{BaseURL: server.URL, HTTPClient: server.Client()}, time.Second).GetIpos(context.Background())
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "502")
	})
}

func TestOnlyFullListingsProveAnIPOIsGone(t *testing.T) {
	opts := Options{BaseURL: "http://127.0.0.1:1"}
	assert.True(t, NewChittorgarhScraper(opts, 0).ListsIPOs())
	assert.True(t, NewNSEScraper(opts).ListsIPOs())
	assert.True(t, NewGrowwScraper(opts).ListsIPOs())
	assert.False(t, NewInvestorGainScraper(opts, nil).ListsIPOs())
	assert.False(t, NewNSEToolsAdapter(opts, time.Second).ListsIPOs())
}

func TestRunRecoversPanics(t *testing.T) {
	base := newBaseScraper(models.SourceGroww, Options{})
	result := run(&base, models.KindIPO, func() ([]models.IpoData, error) {
		var ipos []models.IpoData
		_ = ipos[3]
		return ipos, nil
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panic")
	assert.NotNil(t, result.Data)
}

type stubScraper struct {
	id models.SourceID
}

func (s stubScraper) ID() models.SourceID               { return s.id }
func (s stubScraper) Capabilities() []models.RecordKind { return models.AllKinds }
func (s stubScraper) ListsIPOs() bool                   { return true }
func (s stubScraper) GetIpos(context.Context) models.ScraperResult[models.IpoData] {
	return models.Unsupported[models.IpoData]()
}
func (s stubScraper) GetSubscriptions(context.Context) models.ScraperResult[models.SubscriptionData] {
	return models.Unsupported[models.SubscriptionData]()
}
func (s stubScraper) GetGmp(context.Context) models.ScraperResult[models.GmpData] {
	return models.Unsupported[models.GmpData]()
}

func TestRegistryOrdering(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(stubScraper{id: models.SourceGroww}, 2))
	require.NoError(t, registry.Register(stubScraper{id: models.SourceChittorgarh}, 1))
	require.NoError(t, registry.Register(stubScraper{id: models.SourceNSE}, 2))

	err := registry.Register(stubScraper{id: models.SourceGroww}, 0)
	require.Error(t, err)
	assert.True(t, shared.HasCode(err, shared.CodeInvalidConfig))

	assert.Equal(t, []models.SourceID{models.SourceChittorgarh, models.SourceGroww, models.SourceNSE},
		registry.Order(models.FieldLotSize), "equal ranks keep registration order")

	registry.SetFieldPriority(models.FieldLotSize, []models.SourceID{models.SourceNSE, models.SourceInvestorGain})
	assert.Equal(t, []models.SourceID{models.SourceNSE, models.SourceChittorgarh, models.SourceGroww},
		registry.Order(models.FieldLotSize), "unregistered sources in an override are ignored")
	assert.Equal(t, 1, registry.Position(models.SourceGroww))
	assert.Equal(t, -1, registry.Position(models.SourceInvestorGain))
}

func TestRegistryOrderProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("order is a permutation of the registered sources", prop.ForAll(
		func(ranks []int, override []int) bool {
			registry := NewRegistry()
			for i, id := range models.KnownSources {
				rank := 0
				if i < len(ranks) {
					rank = ranks[i]
				}
				if err := registry.Register(stubScraper{id: id}, rank); err != nil {
					return false
				}
			}
			var ids []models.SourceID
			for _, idx := range override {
				ids = append(ids, models.KnownSources[idx])
			}
			registry.SetFieldPriority(models.FieldGMP, ids)

			order := registry.Order(models.FieldGMP)
			if len(order) != len(models.KnownSources) {
				return false
			}
			seen := make(map[models.SourceID]bool)
			for _, id := range order {
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return len(ids) == 0 || order[0] == ids[0]
		},
		gen.SliceOfN(5, gen.IntRange(0, 3)),
		gen.SliceOf(gen.IntRange(0, len(models.KnownSources)-1)),
	))

	properties.TestingRun(t)
}

func TestBuildRegistryFromDefaults(t *testing.T) {
	sources := config.DefaultSources()
	registry, err := BuildRegistry(sources, shared.NewHTTPClientFactory(5*time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, len(sources.Enabled()), registry.Len())
	assert.Equal(t, models.SourceInvestorGain, registry.Order(models.FieldGMP)[0])
	assert.Equal(t, models.SourceChittorgarh, registry.Entries()[0].Scraper.ID())
}

func TestFindTableRowByLabel(t *testing.T) {
	rows := []TableRow{
		{Label: "Share Holding Pre Issue", Values: []string{"100%"}, Confidence: labelConfidence("Share Holding Pre Issue")},
		{Label: "Share Holding Post Issue", Values: []string{"68.5%"}, Confidence: labelConfidence("Share Holding Post Issue")},
		{Label: "ROCE", Values: []string{"22%"}, Confidence: labelConfidence("ROCE")},
	}

	row, ok := FindTableRowByLabel(rows, []string{"share holding post issue"})
	require.True(t, ok)
	assert.Equal(t, "68.5%", row.Value())

	_, ok = FindTableRowByLabel(rows, []string{"roe"})
	assert.False(t, ok, "partial word overlap does not qualify")

	assert.Equal(t, 1.0, matchScore("lot size", "lot size"))
	assert.Equal(t, 0.8, matchScore("p/e x", "p/e"))
	assert.Less(t, matchScore("share holding pre issue", "share holding post issue"), 0.6)
}
