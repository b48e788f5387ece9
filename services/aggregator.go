package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/scoring"
	"github.com/fenilmodi00/ipo-aggregator/scrapers"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/sirupsen/logrus"
)

// DefaultSourceTimeout bounds every scraper call of an aggregation pass
const DefaultSourceTimeout = 10 * time.Second

// AggregationReport is the outcome of one pass: the merged records plus
// the status of every source call.
type AggregationReport struct {
	Records       []models.MergedIpoRecord `json:"records"`
	Statuses      []models.SourceStatus    `json:"statuses"`
	KeyCollisions int                      `json:"keyCollisions"`
	StartedAt     time.Time                `json:"startedAt"`
	CompletedAt   time.Time                `json:"completedAt"`
}

// TotalOutage reports whether no source call succeeded
func (r *AggregationReport) TotalOutage() bool {
	for _, s := range r.Statuses {
		if s.Success {
			return false
		}
	}
	return true
}

// ListingSourceSucceeded reports whether a source that lists every current
// IPO succeeded. Only then is the absence of an IPO from the fresh set
// meaningful. Enrichment sources such as the valuation bridge do not count.
func (r *AggregationReport) ListingSourceSucceeded() bool {
	for _, s := range r.Statuses {
		if s.Listing && s.Success {
			return true
		}
	}
	return false
}

// FailedSources lists the sources with at least one failed call
func (r *AggregationReport) FailedSources() []models.SourceID {
	seen := make(map[models.SourceID]bool)
	var failed []models.SourceID
	for _, s := range r.Statuses {
		if !s.Success && !seen[s.Source] {
			seen[s.Source] = true
			failed = append(failed, s.Source)
		}
	}
	return failed
}

// AggregatorOptions tunes an Aggregator. Zero values select defaults.
type AggregatorOptions struct {
	SourceTimeout  time.Duration
	CircuitBreaker *shared.CircuitBreakerConfig
	Metrics        *shared.MetricsRegistry
	Scorer         *scoring.Engine
	Now            func() time.Time
}

// Aggregator fans out to every registered scraper, merges the raw records
// into one record per IPO and scores them.
type Aggregator struct {
	registry *scrapers.Registry
	timeout  time.Duration
	metrics  *shared.MetricsRegistry
	scorer   *scoring.Engine
	now      func() time.Time
	logger   *logrus.Entry

	breakers map[models.SourceID]*shared.CircuitBreaker

	mu   sync.RWMutex
	last *AggregationReport
}

// NewAggregator creates an aggregator over registry
func NewAggregator(registry *scrapers.Registry, opts AggregatorOptions) *Aggregator {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = DefaultSourceTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = shared.NewMetricsRegistry()
	}
	if opts.Scorer == nil {
		opts.Scorer = scoring.NewEngine(scoring.DefaultPolicy())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	breakerConfig := shared.DefaultCircuitBreakerConfig()
	if opts.CircuitBreaker != nil {
		breakerConfig = *opts.CircuitBreaker
	}

	breakers := make(map[models.SourceID]*shared.CircuitBreaker, registry.Len())
	for _, e := range registry.Entries() {
		id := e.Scraper.ID()
		breakers[id] = shared.NewCircuitBreaker(string(id), breakerConfig)
	}

	return &Aggregator{
		registry: registry,
		timeout:  opts.SourceTimeout,
		metrics:  opts.Metrics,
		scorer:   opts.Scorer,
		now:      opts.Now,
		logger:   logrus.WithField("component", "Aggregator"),
		breakers: breakers,
	}
}

// Registry returns the scraper registry
func (a *Aggregator) Registry() *scrapers.Registry { return a.registry }

// Metrics returns the per-source metrics registry
func (a *Aggregator) Metrics() *shared.MetricsRegistry { return a.metrics }

// Breaker returns the circuit breaker of id, or nil
func (a *Aggregator) Breaker(id models.SourceID) *shared.CircuitBreaker { return a.breakers[id] }

// LastReport returns the most recent report, or nil before the first pass
func (a *Aggregator) LastReport() *AggregationReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

type sourceCall struct {
	scraper scrapers.Scraper
	kind    models.RecordKind
}

type callResult struct {
	status models.SourceStatus
	ipos   []models.IpoData
	subs   []models.SubscriptionData
	gmps   []models.GmpData
}

// Aggregate runs one pass. It never fails; a pass where every source failed
// yields an empty record set and a report whose TotalOutage is true.
func (a *Aggregator) Aggregate(ctx context.Context) AggregationReport {
	report := AggregationReport{StartedAt: a.now()}

	var calls []sourceCall
	for _, e := range a.registry.Entries() {
		for _, kind := range models.AllKinds {
			if scrapers.Supports(e.Scraper, kind) {
				calls = append(calls, sourceCall{scraper: e.Scraper, kind: kind})
			}
		}
	}

	results := make([]callResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call sourceCall) {
			defer wg.Done()
			results[i] = a.invoke(ctx, call)
		}(i, call)
	}
	// merging starts only once every call has settled
	wg.Wait()

	for _, r := range results {
		report.Statuses = append(report.Statuses, r.status)
	}

	groups := groupMembers(collectMembers(results))
	report.Records = make([]models.MergedIpoRecord, 0, len(groups))
	for _, g := range groups {
		record := a.mergeGroup(g, report.StartedAt)
		if len(g.collisions) > 0 {
			report.KeyCollisions++
		}
		record.ScoreResult = a.scorer.Score(&record)
		report.Records = append(report.Records, record)
	}
	models.SortRecords(report.Records)
	report.CompletedAt = a.now()

	logger := a.logger.WithFields(logrus.Fields{
		"records":        len(report.Records),
		"calls":          len(calls),
		"failed_sources": report.FailedSources(),
		"key_collisions": report.KeyCollisions,
		"duration_ms":    report.CompletedAt.Sub(report.StartedAt).Milliseconds(),
	})
	if report.TotalOutage() {
		logger.Warn("Aggregation pass had no successful source")
	} else {
		logger.Info("Aggregation pass completed")
	}

	a.mu.Lock()
	a.last = &report
	a.mu.Unlock()
	return report
}

func (a *Aggregator) invoke(ctx context.Context, call sourceCall) callResult {
	id := call.scraper.ID()
	result := callResult{status: models.SourceStatus{
		Source:  id,
		Kind:    call.kind,
		Listing: call.kind == models.KindIPO && call.scraper.ListsIPOs(),
	}}

	breaker := a.breakers[id]
	if breaker != nil && !breaker.Allow() {
		result.status.Skipped = true
		result.status.Error = "circuit breaker open"
		return result
	}

	start := time.Now()
	switch call.kind {
	case models.KindIPO:
		r, timedOut := callWithTimeout(ctx, a.timeout, call.scraper.GetIpos)
		result.ipos = settle(&result.status, r, timedOut)
	case models.KindSubscription:
		r, timedOut := callWithTimeout(ctx, a.timeout, call.scraper.GetSubscriptions)
		result.subs = settle(&result.status, r, timedOut)
	case models.KindGMP:
		r, timedOut := callWithTimeout(ctx, a.timeout, call.scraper.GetGmp)
		result.gmps = settle(&result.status, r, timedOut)
	}
	elapsed := time.Since(start)

	metrics := a.metrics.For(string(id))
	if result.status.Success {
		metrics.RecordRequest(true, elapsed)
		metrics.AddRecords(result.status.Records)
		if breaker != nil {
			breaker.RecordSuccess()
		}
	} else {
		metrics.RecordFailure(elapsed, result.status.Error, result.status.TimedOut)
		if breaker != nil {
			breaker.RecordFailure()
		}
		a.logger.WithFields(logrus.Fields{
			"source":    id,
			"kind":      call.kind,
			"timed_out": result.status.TimedOut,
			"error":     result.status.Error,
		}).Warn("Source call failed")
	}
	return result
}

// callWithTimeout runs fn bounded by timeout. A scraper that ignores its
// context is abandoned when the deadline passes.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) models.ScraperResult[T]) (models.ScraperResult[T], bool) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan models.ScraperResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.Failed[T](fmt.Errorf("scraper panic: %v", r), start)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case r := <-done:
		return r, !r.Success && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	case <-callCtx.Done():
		err := shared.NewServiceError(shared.ErrorCategoryTimeout, shared.CodeSourceTimeout,
			fmt.Sprintf("no response within %s", timeout), "Aggregator", "invoke", true, callCtx.Err())
		return models.Failed[T](err, start), errors.Is(callCtx.Err(), context.DeadlineExceeded)
	}
}

// settle copies the result into status and returns the usable data
func settle[T any](status *models.SourceStatus, r models.ScraperResult[T], timedOut bool) []T {
	status.Success = r.Success
	status.ResponseTimeMs = r.ResponseTimeMs
	status.Error = r.Error
	status.TimedOut = timedOut
	if !r.Success {
		return nil
	}
	status.Records = len(r.Data)
	return r.Data
}
