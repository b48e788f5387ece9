package scrapers

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/normalize"
	"github.com/fenilmodi00/ipo-aggregator/shared"
)

const investorGainGmpPath = "/report/live-ipo-gmp/331/all/"

var investorGainColumns = []columnDef{
	{name: "name", labels: []string{"ipo name", "company name", "name", "ipo"}},
	{name: "gmp", labels: []string{"gmp"}},
	{name: "rating", labels: []string{"rating", "fire rating"}},
	{name: "sub", labels: []string{"subscription", "sub"}},
	{name: "price", labels: []string{"ipo price", "price"}},
	{name: "est", labels: []string{"est listing", "estimated listing"}},
	{name: "updated", labels: []string{"updated on", "updated"}},
}

// PageRenderer returns the final HTML of a page. The chromedp renderer
// executes the page's scripts; a nil renderer means a plain GET.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// ChromedpRenderer renders pages in headless Chrome
type ChromedpRenderer struct {
	timeout time.Duration
}

// NewChromedpRenderer creates a renderer bounded by timeout per page
func NewChromedpRenderer(timeout time.Duration) *ChromedpRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromedpRenderer{timeout: timeout}
}

// Render navigates to url, waits for the report table and returns the DOM
func (r *ChromedpRenderer) Render(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, r.timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(url),
		chromedp.WaitVisible("#report_table tbody tr", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryNetwork, shared.CodeSourceFetchFailed,
			"chromedp execution failed: "+err.Error(), "ChromedpRenderer", url, true, err)
	}
	return html, nil
}

// InvestorGainScraper reads the live GMP report. The same table carries the
// overall subscription figure, so both kinds come from one page load.
type InvestorGainScraper struct {
	baseScraper
	renderer PageRenderer

	mu       sync.Mutex
	cached   []byte
	cachedAt time.Time
}

// NewInvestorGainScraper creates the scraper. renderer may be nil.
func NewInvestorGainScraper(opts Options, renderer PageRenderer) *InvestorGainScraper {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.investorgain.com"
	}
	return &InvestorGainScraper{
		baseScraper: newBaseScraper(models.SourceInvestorGain, opts),
		renderer:    renderer,
	}
}

func (s *InvestorGainScraper) ID() models.SourceID { return models.SourceInvestorGain }

func (s *InvestorGainScraper) ListsIPOs() bool { return false }

func (s *InvestorGainScraper) Capabilities() []models.RecordKind {
	return []models.RecordKind{models.KindGMP, models.KindSubscription}
}

func (s *InvestorGainScraper) GetIpos(context.Context) models.ScraperResult[models.IpoData] {
	return models.Unsupported[models.IpoData]()
}

func (s *InvestorGainScraper) GetGmp(ctx context.Context) models.ScraperResult[models.GmpData] {
	return run(&s.baseScraper, models.KindGMP, func() ([]models.GmpData, error) {
		page, err := s.page(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := s.parseReport(page)
		if err != nil {
			return nil, s.parseError("parse GMP report", err)
		}
		gmps := make([]models.GmpData, 0, len(rows))
		for _, r := range rows {
			gmps = append(gmps, r.gmp)
		}
		return gmps, nil
	})
}

func (s *InvestorGainScraper) GetSubscriptions(ctx context.Context) models.ScraperResult[models.SubscriptionData] {
	return run(&s.baseScraper, models.KindSubscription, func() ([]models.SubscriptionData, error) {
		page, err := s.page(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := s.parseReport(page)
		if err != nil {
			return nil, s.parseError("parse GMP report", err)
		}
		var subs []models.SubscriptionData
		for _, r := range rows {
			if r.subscription != nil {
				subs = append(subs, *r.subscription)
			}
		}
		return subs, nil
	})
}

// page loads the report once per short window so the GMP and subscription
// calls of one aggregation pass share a fetch.
func (s *InvestorGainScraper) page(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.cachedAt) < 30*time.Second {
		return s.cached, nil
	}

	url := s.baseURL + investorGainGmpPath
	var body []byte
	if s.renderer != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		html, err := s.renderer.Render(ctx, url)
		if err != nil {
			return nil, err
		}
		body = []byte(html)
	} else {
		fetched, err := s.fetch(ctx, url, acceptHTML, nil)
		if err != nil {
			return nil, err
		}
		body = fetched
	}

	s.cached, s.cachedAt = body, time.Now()
	return body, nil
}

type investorGainRow struct {
	gmp          models.GmpData
	subscription *models.SubscriptionData
}

func (s *InvestorGainScraper) parseReport(body []byte) ([]investorGainRow, error) {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	table := document.Find("#report_table")
	if table.Length() == 0 {
		table = document.Find("table")
	}

	var (
		grid    gridTable
		columns map[string]int
		found   bool
	)
	table.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		grid = readGridTable(t)
		columns = mapColumns(grid.headers, investorGainColumns)
		_, hasName := columns["name"]
		_, hasGMP := columns["gmp"]
		found = hasName && hasGMP
		return !found
	})
	if !found {
		return nil, errNoTable
	}

	rows := make([]investorGainRow, 0, len(grid.rows))
	for _, row := range grid.rows {
		rawName := cell(row, columns, "name")
		name := normalize.CleanCompanyName(rawName)
		if skipRow(row, 3, name) {
			continue
		}

		gmpText := cell(row, columns, "gmp")
		gmpValue, gmpPercent := normalize.ParseGMP(gmpText)

		record := models.GmpData{
			Source:      models.SourceInvestorGain,
			CompanyName: name,
			GMPPercent:  gmpPercent,
			IPOPrice:    normalize.ExtractNumeric(cell(row, columns, "price")),
			UpdatedOn:   cell(row, columns, "updated"),
		}
		if !normalize.IsNotAvailable(gmpText) && normalize.ExtractNumeric(gmpText) != nil {
			record.GMP = &gmpValue
		}
		if _, ok := columns["rating"]; ok {
			rating := strings.Count(cell(row, columns, "rating"), "🔥")
			record.Rating = &rating
		}

		if est := normalize.ExtractNumeric(cell(row, columns, "est")); est != nil {
			record.EstimatedListingPrice = est
		} else if record.IPOPrice != nil && record.GMP != nil {
			listing := *record.IPOPrice + *record.GMP
			record.EstimatedListingPrice = &listing
		}
		if record.GMPPercent == nil && record.GMP != nil && record.IPOPrice != nil && *record.IPOPrice > 0 {
			pct := *record.GMP / *record.IPOPrice * 100
			record.GMPPercent = &pct
		}

		parsed := investorGainRow{gmp: record}
		if total := normalize.Multiple(cell(row, columns, "sub")); total != nil {
			parsed.subscription = &models.SubscriptionData{
				Source:      models.SourceInvestorGain,
				CompanyName: name,
				Multiples:   models.SubscriptionMultiples{Total: total},
			}
		}
		rows = append(rows, parsed)
	}
	return rows, nil
}
