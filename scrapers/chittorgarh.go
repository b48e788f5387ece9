package scrapers

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/normalize"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

const (
	chittorgarhListPath         = "/report/ipo-in-india-list-main-board-sme/82/"
	chittorgarhSubscriptionPath = "/report/ipo-subscription-status-live-bidding-data-bse-nse/21/"
)

var chittorgarhListColumns = []columnDef{
	{name: "name", labels: []string{"issuer company", "company name", "ipo name", "company", "issuer", "name"}},
	{name: "exchange", labels: []string{"exchange", "listing at"}},
	{name: "open", labels: []string{"open date", "opening date", "open"}},
	{name: "close", labels: []string{"close date", "closing date", "close"}},
	{name: "listing", labels: []string{"listing date", "listing"}},
	{name: "price", labels: []string{"issue price", "price band", "price"}},
	{name: "lot", labels: []string{"lot size", "lot"}},
	{name: "size", labels: []string{"issue size", "total issue size", "size"}},
}

var subscriptionColumns = []columnDef{
	{name: "name", labels: []string{"company name", "issuer company", "ipo name", "company", "name"}},
	{name: "qib", labels: []string{"qib", "qualified institutions"}},
	{name: "nii", labels: []string{"nii", "hni", "non institutional"}},
	{name: "retail", labels: []string{"retail", "rii"}},
	{name: "employee", labels: []string{"employee", "emp"}},
	{name: "total", labels: []string{"total", "overall"}},
}

// detail page labels per field, most specific first
var chittorgarhDetailLabels = map[string][]string{
	"symbol":    {"nse symbol", "symbol"},
	"open":      {"ipo open date", "open date"},
	"close":     {"ipo close date", "close date"},
	"listing":   {"tentative listing date", "listing date"},
	"price":     {"price band", "issue price band", "issue price"},
	"lot":       {"lot size", "market lot"},
	"size":      {"total issue size", "issue size"},
	"ofs":       {"offer for sale"},
	"exchange":  {"listing at"},
	"roe":       {"roe", "return on equity"},
	"roce":      {"roce", "return on capital employed"},
	"de":        {"debt/equity", "debt to equity"},
	"pat":       {"pat margin", "net profit margin"},
	"pe":        {"p/e", "p/e ratio", "price to earnings"},
	"pb":        {"price to book value", "p/bv", "p/b"},
	"promoter":  {"share holding post issue", "promoter holding post issue"},
	"revenue":   {"revenue", "total income"},
	"sector_pe": {"industry p/e", "sector p/e"},
}

var errNoTable = errors.New("no matching table found in page")

// ChittorgarhScraper reads the Chittorgarh IPO list and subscription
// reports and enriches listed IPOs from their detail pages.
type ChittorgarhScraper struct {
	baseScraper
	detailLimit int
}

// NewChittorgarhScraper creates the scraper. At most detailLimit detail
// pages are visited per run.
func NewChittorgarhScraper(opts Options, detailLimit int) *ChittorgarhScraper {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.chittorgarh.com"
	}
	return &ChittorgarhScraper{
		baseScraper: newBaseScraper(models.SourceChittorgarh, opts),
		detailLimit: detailLimit,
	}
}

func (s *ChittorgarhScraper) ID() models.SourceID { return models.SourceChittorgarh }

func (s *ChittorgarhScraper) ListsIPOs() bool { return true }

func (s *ChittorgarhScraper) Capabilities() []models.RecordKind {
	return []models.RecordKind{models.KindIPO, models.KindSubscription}
}

func (s *ChittorgarhScraper) GetIpos(ctx context.Context) models.ScraperResult[models.IpoData] {
	return run(&s.baseScraper, models.KindIPO, func() ([]models.IpoData, error) {
		body, err := s.fetch(ctx, s.baseURL+chittorgarhListPath, acceptHTML, nil)
		if err != nil {
			return nil, err
		}
		ipos, err := s.parseIpoList(body)
		if err != nil {
			return nil, s.parseError("parse IPO list", err)
		}

		visited := 0
		for i := range ipos {
			if visited >= s.detailLimit || ctx.Err() != nil {
				break
			}
			if ipos[i].DetailURL == "" {
				continue
			}
			visited++
			if err := s.enrichFromDetail(ctx, &ipos[i]); err != nil {
				// the list row is still usable on its own
				s.logger.WithError(err).WithField("url", ipos[i].DetailURL).Warn("Detail page scrape failed, keeping list data")
			}
		}
		return ipos, nil
	})
}

func (s *ChittorgarhScraper) GetSubscriptions(ctx context.Context) models.ScraperResult[models.SubscriptionData] {
	return run(&s.baseScraper, models.KindSubscription, func() ([]models.SubscriptionData, error) {
		body, err := s.fetch(ctx, s.baseURL+chittorgarhSubscriptionPath, acceptHTML, nil)
		if err != nil {
			return nil, err
		}
		subs, err := parseSubscriptionTable(body, models.SourceChittorgarh)
		if err != nil {
			return nil, s.parseError("parse subscription table", err)
		}
		return subs, nil
	})
}

func (s *ChittorgarhScraper) GetGmp(context.Context) models.ScraperResult[models.GmpData] {
	return models.Unsupported[models.GmpData]()
}

func (s *ChittorgarhScraper) parseIpoList(body []byte) ([]models.IpoData, error) {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	grid, columns, ok := findGrid(document, chittorgarhListColumns, "name", "open")
	if !ok {
		return nil, errNoTable
	}

	now := s.now()
	ipos := make([]models.IpoData, 0, len(grid.rows))
	for i, row := range grid.rows {
		name := normalize.CleanCompanyName(cell(row, columns, "name"))
		if skipRow(row, 2, name) {
			continue
		}

		ipo := models.IpoData{
			Source:      models.SourceChittorgarh,
			CompanyName: name,
			OpenDate:    normalize.Date(cell(row, columns, "open")),
			CloseDate:   normalize.Date(cell(row, columns, "close")),
			ListingDate: normalize.Date(cell(row, columns, "listing")),
			LotSize:     normalize.Int(cell(row, columns, "lot")),
			IssueSize:   normalize.Crores(cell(row, columns, "size")),
			Exchange:    normalize.CleanText(cell(row, columns, "exchange")),
			DetailURL:   s.resolve(grid.links[i]),
		}
		ipo.PriceBandLow, ipo.PriceBandHigh = normalize.PriceBand(cell(row, columns, "price"))
		ipo.Status = normalize.StatusFromDates(ipo.OpenDate, ipo.CloseDate, ipo.ListingDate, now)
		ipos = append(ipos, ipo)
	}
	return ipos, nil
}

func (s *ChittorgarhScraper) resolve(href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, err := url.Parse(s.baseURL + "/")
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// enrichFromDetail visits the IPO detail page with colly and fills fields
// the list table did not carry, including the KPI block.
func (s *ChittorgarhScraper) enrichFromDetail(ctx context.Context, ipo *models.IpoData) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	collector := colly.NewCollector(colly.StdlibContext(ctx))
	if s.httpClient.Transport != nil {
		collector.WithTransport(s.httpClient.Transport)
	}
	if s.httpClient.Timeout > 0 {
		collector.SetRequestTimeout(s.httpClient.Timeout)
	}
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
		r.Headers.Set("Accept", acceptHTML)
	})

	var rows []TableRow
	collector.OnHTML("table", func(e *colly.HTMLElement) {
		rows = append(rows, ParseLabelledTable(e)...)
	})

	if err := collector.Visit(ipo.DetailURL); err != nil {
		return err
	}

	applyDetailRows(ipo, rows)
	ipo.Status = normalize.StatusFromDates(ipo.OpenDate, ipo.CloseDate, ipo.ListingDate, s.now())

	s.logger.WithFields(logrus.Fields{
		"company": ipo.CompanyName,
		"rows":    len(rows),
	}).Debug("Enriched IPO from detail page")
	return nil
}

func applyDetailRows(ipo *models.IpoData, rows []TableRow) {
	find := func(field string) (TableRow, bool) {
		return FindTableRowByLabel(rows, chittorgarhDetailLabels[field])
	}

	if row, ok := find("symbol"); ok && ipo.Symbol == "" {
		ipo.Symbol = normalize.Symbol(row.Value())
	}
	if row, ok := find("open"); ok && ipo.OpenDate == nil {
		ipo.OpenDate = normalize.Date(row.Value())
	}
	if row, ok := find("close"); ok && ipo.CloseDate == nil {
		ipo.CloseDate = normalize.Date(row.Value())
	}
	if row, ok := find("listing"); ok && ipo.ListingDate == nil {
		ipo.ListingDate = normalize.Date(row.Value())
	}
	if row, ok := find("price"); ok && ipo.PriceBandLow == nil {
		ipo.PriceBandLow, ipo.PriceBandHigh = normalize.PriceBand(row.Value())
	}
	if row, ok := find("lot"); ok && ipo.LotSize == nil {
		ipo.LotSize = normalize.Int(row.Value())
	}
	if row, ok := find("size"); ok {
		if size := aggregateCrores(row.Value()); size != nil {
			ipo.IssueSize = size
		}
	}
	if row, ok := find("exchange"); ok && ipo.Exchange == "" {
		ipo.Exchange = row.Value()
	}

	if row, ok := find("ofs"); ok && ipo.IssueSize != nil && *ipo.IssueSize > 0 {
		if ofs := aggregateCrores(row.Value()); ofs != nil {
			ratio := *ofs / *ipo.IssueSize
			ipo.Financials.OFSRatio = &ratio
		}
	}

	f := &ipo.Financials
	if row, ok := find("roe"); ok {
		f.ROE = normalize.Percent(row.Value())
	}
	if row, ok := find("roce"); ok {
		f.ROCE = normalize.Percent(row.Value())
	}
	if row, ok := find("de"); ok {
		f.DebtToEquity = normalize.ExtractNumeric(row.Value())
	}
	if row, ok := find("pat"); ok {
		f.PATMargin = normalize.Percent(row.Value())
	}
	if row, ok := FindTableRowByLabel(withoutLabels(rows, "industry", "sector"), chittorgarhDetailLabels["pe"]); ok {
		// post-issue figure when both pre and post are listed
		f.PERatio = normalize.ExtractNumeric(row.LastValue())
	}
	if row, ok := find("pb"); ok {
		f.PBRatio = normalize.ExtractNumeric(row.Value())
	}
	if row, ok := find("sector_pe"); ok {
		f.SectorPE = normalize.ExtractNumeric(row.Value())
	}
	if row, ok := find("promoter"); ok {
		f.PromoterHolding = normalize.Percent(row.Value())
	}
	if row, ok := find("revenue"); ok && len(row.Values) >= 2 {
		latest := normalize.ExtractNumeric(row.Values[0])
		previous := normalize.ExtractNumeric(row.Values[1])
		if latest != nil && previous != nil && *previous > 0 {
			growth := (*latest - *previous) / *previous * 100
			f.RevenueGrowth = &growth
		}
	}
}

// withoutLabels drops rows whose label mentions any of words
func withoutLabels(rows []TableRow, words ...string) []TableRow {
	kept := make([]TableRow, 0, len(rows))
	for _, row := range rows {
		label := normalizeLabel(row.Label)
		drop := false
		for _, w := range words {
			if strings.Contains(label, w) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, row)
		}
	}
	return kept
}

// aggregateCrores reads the rupee amount of "1,23,000 shares (aggregating
// up to ₹125.00 Cr)" style cells.
func aggregateCrores(text string) *float64 {
	if idx := strings.Index(strings.ToLower(text), "aggregating"); idx >= 0 {
		return normalize.Crores(text[idx:])
	}
	return normalize.Crores(text)
}

// findGrid returns the first table whose header maps every required column
func findGrid(document *goquery.Document, defs []columnDef, required ...string) (gridTable, map[string]int, bool) {
	var (
		found   gridTable
		columns map[string]int
		ok      bool
	)
	document.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		grid := readGridTable(table)
		mapped := mapColumns(grid.headers, defs)
		for _, name := range required {
			if _, has := mapped[name]; !has {
				return true
			}
		}
		found, columns, ok = grid, mapped, true
		return false
	})
	return found, columns, ok
}

func parseSubscriptionTable(body []byte, source models.SourceID) ([]models.SubscriptionData, error) {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	grid, columns, ok := findGrid(document, subscriptionColumns, "name", "total")
	if !ok {
		return nil, errNoTable
	}

	subs := make([]models.SubscriptionData, 0, len(grid.rows))
	for _, row := range grid.rows {
		name := normalize.CleanCompanyName(cell(row, columns, "name"))
		if skipRow(row, 2, name) {
			continue
		}
		multiples := models.SubscriptionMultiples{
			QIB:      normalize.Multiple(cell(row, columns, "qib")),
			NII:      normalize.Multiple(cell(row, columns, "nii")),
			Retail:   normalize.Multiple(cell(row, columns, "retail")),
			Employee: normalize.Multiple(cell(row, columns, "employee")),
			Total:    normalize.Multiple(cell(row, columns, "total")),
		}
		if multiples.Total == nil && multiples.QIB == nil && multiples.NII == nil && multiples.Retail == nil {
			continue
		}
		subs = append(subs, models.SubscriptionData{
			Source:      source,
			CompanyName: name,
			Multiples:   multiples,
		})
	}
	return subs, nil
}
