// Package scrapers extracts raw IPO, subscription and grey market premium
// records from the Indian IPO listing sites.
package scrapers

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/sirupsen/logrus"
)

// Scraper is implemented by every source. Each operation reports failure
// through the ScraperResult and never returns a Go error or panics. A kind
// the source cannot supply yields a successful empty result.
type Scraper interface {
	ID() models.SourceID
	Capabilities() []models.RecordKind
	// ListsIPOs reports whether GetIpos returns the full set of current
	// issues. Only such sources prove that a missing IPO is gone.
	ListsIPOs() bool
	GetIpos(ctx context.Context) models.ScraperResult[models.IpoData]
	GetSubscriptions(ctx context.Context) models.ScraperResult[models.SubscriptionData]
	GetGmp(ctx context.Context) models.ScraperResult[models.GmpData]
}

// Supports reports whether s lists kind among its capabilities
func Supports(s Scraper, kind models.RecordKind) bool {
	for _, k := range s.Capabilities() {
		if k == kind {
			return true
		}
	}
	return false
}

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptJSON = "application/json, text/plain, */*"
)

// baseScraper carries the plumbing shared by the HTTP scrapers
type baseScraper struct {
	id         models.SourceID
	baseURL    string
	httpClient *http.Client
	limiter    *shared.HTTPRequestRateLimiter
	maxRetries int
	now        func() time.Time
	logger     *logrus.Entry
}

// Options are the knobs common to every scraper constructor
type Options struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	MaxRetryAttempts  int
	// Now overrides the clock used to derive statuses from dates
	Now func() time.Time
}

func newBaseScraper(id models.SourceID, opts Options) baseScraper {
	client := opts.HTTPClient
	if client == nil {
		client = shared.NewHTTPClientFactory(30 * time.Second).CreateOptimizedHTTPClient(0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return baseScraper{
		id:         id,
		baseURL:    trimSlash(opts.BaseURL),
		httpClient: client,
		limiter:    shared.NewRateLimiterPerSecond(string(id), opts.RequestsPerSecond),
		maxRetries: opts.MaxRetryAttempts,
		now:        now,
		logger: logrus.WithFields(logrus.Fields{
			"component": "scraper",
			"source":    id,
		}),
	}
}

func trimSlash(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}

// fetch waits for the rate limiter and GETs url
func (b *baseScraper) fetch(ctx context.Context, url, accept string, headers map[string]string) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := shared.FetchBody(ctx, b.httpClient, url, accept, headers, b.maxRetries)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryNetwork, shared.CodeSourceFetchFailed, string(b.id), url, true)
	}
	return body, nil
}

func (b *baseScraper) parseError(operation string, err error) error {
	return shared.NewServiceError(shared.ErrorCategoryParsing, shared.CodeSourceParseFailed,
		fmt.Sprintf("%s: %v", operation, err), string(b.id), operation, false, err)
}

// run executes fn and converts its outcome, including a panic, into a
// ScraperResult.
func run[T any](b *baseScraper, kind models.RecordKind, fn func() ([]T, error)) (result models.ScraperResult[T]) {
	start := time.Now()
	logger := b.logger.WithField("kind", kind)

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Scraper panicked")
			result = models.Failed[T](fmt.Errorf("scraper panic: %v", r), start)
		}
	}()

	data, err := fn()
	if err != nil {
		logger.WithError(err).Warn("Scrape failed")
		return models.Failed[T](err, start)
	}

	logger.WithFields(logrus.Fields{
		"records":          len(data),
		"response_time_ms": time.Since(start).Milliseconds(),
	}).Debug("Scrape completed")
	return models.Succeeded(data, start)
}
