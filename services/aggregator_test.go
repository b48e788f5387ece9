package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/scrapers"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScraper serves canned results
type fakeScraper struct {
	id    models.SourceID
	ipos  []models.IpoData
	subs  []models.SubscriptionData
	gmps  []models.GmpData
	err   error
	delay time.Duration
	calls int
	// enrichOnly sources answer for some IPOs, never the full listing
	enrichOnly bool
}

func (f *fakeScraper) ID() models.SourceID { return f.id }

func (f *fakeScraper) ListsIPOs() bool { return !f.enrichOnly }

func (f *fakeScraper) Capabilities() []models.RecordKind {
	var kinds []models.RecordKind
	if f.ipos != nil || f.err != nil {
		kinds = append(kinds, models.KindIPO)
	}
	if f.subs != nil {
		kinds = append(kinds, models.KindSubscription)
	}
	if f.gmps != nil {
		kinds = append(kinds, models.KindGMP)
	}
	return kinds
}

func (f *fakeScraper) wait(ctx context.Context) {
	if f.delay > 0 {
		// ignores ctx on purpose to exercise the abandon path
		time.Sleep(f.delay)
	}
}

func (f *fakeScraper) GetIpos(ctx context.Context) models.ScraperResult[models.IpoData] {
	f.calls++
	f.wait(ctx)
	if f.err != nil {
		return models.Failed[models.IpoData](f.err, time.Now())
	}
	return models.Succeeded(f.ipos, time.Now())
}

func (f *fakeScraper) GetSubscriptions(ctx context.Context) models.ScraperResult[models.SubscriptionData] {
	f.wait(ctx)
	return models.Succeeded(f.subs, time.Now())
}

func (f *fakeScraper) GetGmp(ctx context.Context) models.ScraperResult[models.GmpData] {
	f.wait(ctx)
	return models.Succeeded(f.gmps, time.Now())
}

func fptr(v float64) *float64 { return &v }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

var fixedNow = time.Date(2025, 12, 11, 9, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, opts AggregatorOptions, fakes ...*fakeScraper) *Aggregator {
	t.Helper()
	registry := scrapers.NewRegistry()
	for i, f := range fakes {
		require.NoError(t, registry.Register(f, i+1))
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewAggregator(registry, opts)
}

func TestAggregateJoinsSymbolAndCompanyName(t *testing.T) {
	a := &fakeScraper{id: "A", gmps: []models.GmpData{{Source: "A", Symbol: "ABC", GMP: fptr(125)}}}
	b := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", CompanyName: "ABC Ltd", Financials: models.Financials{PERatio: fptr(35.2)}}}}

	report := newTestAggregator(t, AggregatorOptions{}, a, b).Aggregate(context.Background())

	require.Len(t, report.Records, 1)
	record := report.Records[0]
	assert.Equal(t, "ABC", record.Symbol)
	assert.Equal(t, "ABC Ltd", record.CompanyName)
	assert.Equal(t, "ABC", record.NameKey)
	assert.True(t, record.HasExchangeSymbol())
	assert.Equal(t, []models.SourceID{"A", "B"}, record.Sources)
	assert.Equal(t, models.ConfidenceMedium, record.Confidence)
	require.NotNil(t, record.GMP)
	assert.Equal(t, 125.0, *record.GMP)
	require.NotNil(t, record.Financials.PERatio)
	assert.Equal(t, 35.2, *record.Financials.PERatio)
	assert.Equal(t, models.SourceID("A"), record.FieldSources[models.FieldGMP])
	assert.Equal(t, models.SourceID("B"), record.FieldSources[models.FieldPERatio])
	assert.Empty(t, record.Conflicts)
	assert.False(t, report.TotalOutage())
}

func TestAggregateExcludesFailedSource(t *testing.T) {
	a := &fakeScraper{id: "A", ipos: []models.IpoData{{Source: "A", Symbol: "XYZ", CompanyName: "Xyz Ltd"}}}
	b := &fakeScraper{id: "B", err: errors.New("boom")}

	report := newTestAggregator(t, AggregatorOptions{}, a, b).Aggregate(context.Background())

	require.Len(t, report.Records, 1)
	assert.Equal(t, []models.SourceID{"A"}, report.Records[0].Sources)
	assert.Equal(t, models.ConfidenceLow, report.Records[0].Confidence)
	assert.Equal(t, []models.SourceID{"B"}, report.FailedSources())
	assert.True(t, report.ListingSourceSucceeded())
}

func TestEnrichmentSourceIsNotAListingSource(t *testing.T) {
	listing := &fakeScraper{id: "A", err: errors.New("down")}
	bridge := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", Symbol: "AAA", Financials: models.Financials{PERatio: fptr(22)}}}, enrichOnly: true}

	report := newTestAggregator(t, AggregatorOptions{}, listing, bridge).Aggregate(context.Background())

	require.Len(t, report.Records, 1)
	assert.False(t, report.TotalOutage())
	assert.False(t, report.ListingSourceSucceeded())
	for _, s := range report.Statuses {
		if s.Source == "B" {
			assert.True(t, s.Success)
			assert.False(t, s.Listing)
		}
	}
}

func TestAggregateTimesOutSlowSource(t *testing.T) {
	fast := &fakeScraper{id: "fast", ipos: []models.IpoData{{Source: "fast", Symbol: "XYZ"}}}
	slow := &fakeScraper{id: "slow", ipos: []models.IpoData{{Source: "slow", Symbol: "SLOW"}}, delay: 300 * time.Millisecond}

	agg := newTestAggregator(t, AggregatorOptions{SourceTimeout: 50 * time.Millisecond}, fast, slow)
	started := time.Now()
	report := agg.Aggregate(context.Background())

	assert.Less(t, time.Since(started), 250*time.Millisecond)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "XYZ", report.Records[0].Symbol)

	var slowStatus models.SourceStatus
	for _, s := range report.Statuses {
		if s.Source == "slow" {
			slowStatus = s
		}
	}
	assert.False(t, slowStatus.Success)
	assert.True(t, slowStatus.TimedOut)
	assert.Contains(t, slowStatus.Error, shared.CodeSourceTimeout)
	assert.Equal(t, int64(1), agg.Metrics().For("slow").GetSnapshot().TimeoutRequests)
}

func TestAggregateTotalOutage(t *testing.T) {
	a := &fakeScraper{id: "A", err: errors.New("down")}
	b := &fakeScraper{id: "B", err: errors.New("down")}

	agg := newTestAggregator(t, AggregatorOptions{}, a, b)
	report := agg.Aggregate(context.Background())

	assert.Empty(t, report.Records)
	assert.True(t, report.TotalOutage())
	assert.False(t, report.ListingSourceSucceeded())
	assert.Equal(t, report, *agg.LastReport())
}

func TestPriorityDecidesConflicts(t *testing.T) {
	a := &fakeScraper{id: "A", ipos: []models.IpoData{{Source: "A", Symbol: "XYZ", LotSize: intPtr(100), PriceBandHigh: fptr(200)}}}
	b := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", Symbol: "XYZ", LotSize: intPtr(120), PriceBandHigh: fptr(201)}}}

	agg := newTestAggregator(t, AggregatorOptions{}, a, b)
	agg.Registry().SetFieldPriority(models.FieldLotSize, []models.SourceID{"B"})
	record := agg.Aggregate(context.Background()).Records[0]

	assert.Equal(t, 120, *record.LotSize, "field override puts B first")
	assert.Equal(t, 200.0, *record.PriceBandHigh)
	require.Len(t, record.Conflicts, 1)
	assert.Equal(t, models.FieldLotSize, record.Conflicts[0].Field)
	assert.Equal(t, models.SourceID("B"), record.Conflicts[0].Winner)
	// a lot size mismatch between two sources
	assert.Equal(t, models.ConfidenceLow, record.Confidence)
}

func TestEqualRankFirstRegisteredWins(t *testing.T) {
	a := &fakeScraper{id: "A", ipos: []models.IpoData{{Source: "A", Symbol: "XYZ", PriceBandHigh: fptr(200)}}}
	b := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", Symbol: "XYZ", PriceBandHigh: fptr(210)}}}

	for _, tt := range []struct {
		first, second *fakeScraper
		want          float64
	}{
		{a, b, 200},
		{b, a, 210},
	} {
		registry := scrapers.NewRegistry()
		require.NoError(t, registry.Register(tt.first, 1))
		require.NoError(t, registry.Register(tt.second, 1))
		report := NewAggregator(registry, AggregatorOptions{Now: func() time.Time { return fixedNow }}).Aggregate(context.Background())

		require.Len(t, report.Records, 1)
		record := report.Records[0]
		assert.Equal(t, tt.want, *record.PriceBandHigh)
		assert.Equal(t, tt.first.id, record.FieldSources[models.FieldPriceBandHigh])
		require.Len(t, record.Conflicts, 1)
		assert.Equal(t, tt.first.id, record.Conflicts[0].Winner)
	}
}

func TestAgreeingSourcesAreHighConfidence(t *testing.T) {
	a := &fakeScraper{id: "A", ipos: []models.IpoData{{Source: "A", Symbol: "XYZ", OpenDate: day(2025, 12, 10), PriceBandHigh: fptr(200)}}}
	b := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", Symbol: "xyz", OpenDate: day(2025, 12, 10), PriceBandHigh: fptr(201)}}}

	record := newTestAggregator(t, AggregatorOptions{}, a, b).Aggregate(context.Background()).Records[0]
	assert.Equal(t, models.ConfidenceHigh, record.Confidence)
	assert.Equal(t, models.StatusOpen, record.Status)
}

func TestSubscriptionIsAveraged(t *testing.T) {
	a := &fakeScraper{id: "A", subs: []models.SubscriptionData{{Source: "A", Symbol: "XYZ", Multiples: models.SubscriptionMultiples{Total: fptr(10), QIB: fptr(30)}}}}
	b := &fakeScraper{id: "B", subs: []models.SubscriptionData{{Source: "B", Symbol: "XYZ", Multiples: models.SubscriptionMultiples{Total: fptr(14)}}}}

	record := newTestAggregator(t, AggregatorOptions{}, a, b).Aggregate(context.Background()).Records[0]
	assert.Equal(t, 12.0, *record.Subscription.Total)
	assert.Equal(t, 30.0, *record.Subscription.QIB)
	assert.NotContains(t, record.FieldSources, models.FieldSubTotal)
	assert.Empty(t, record.Conflicts)
}

func TestDerivedListingEstimate(t *testing.T) {
	a := &fakeScraper{id: "A", ipos: []models.IpoData{{Source: "A", Symbol: "XYZ", PriceBandHigh: fptr(475)}}, gmps: []models.GmpData{{Source: "A", Symbol: "XYZ", GMP: fptr(125)}}}

	record := newTestAggregator(t, AggregatorOptions{}, a).Aggregate(context.Background()).Records[0]
	assert.Equal(t, 600.0, *record.EstimatedListingPrice)
	assert.InDelta(t, 26.3, *record.GMPPercent, 0.02)
	assert.Equal(t, "XYZ", record.CompanyName, "falls back to symbol")
	assert.Equal(t, models.StatusUnknown, record.Status)
}

func TestKeyCollisionKeepsRecordsApart(t *testing.T) {
	a := &fakeScraper{id: "A", ipos: []models.IpoData{
		{Source: "A", Symbol: "ABCT", CompanyName: "ABC Ltd"},
		{Source: "A", Symbol: "ABCI", CompanyName: "ABC Private Limited"},
	}}
	b := &fakeScraper{id: "B", gmps: []models.GmpData{{Source: "B", CompanyName: "ABC Limited", GMP: fptr(10)}}}

	report := newTestAggregator(t, AggregatorOptions{}, a, b).Aggregate(context.Background())

	require.Len(t, report.Records, 3)
	assert.Equal(t, 1, report.KeyCollisions)
	var orphan models.MergedIpoRecord
	for _, r := range report.Records {
		if r.Symbol == "ABC" {
			orphan = r
		}
	}
	require.Len(t, orphan.Conflicts, 1)
	assert.Equal(t, models.ConflictKeyCollision, orphan.Conflicts[0].Kind)
	assert.Contains(t, orphan.Conflicts[0].Note, "ABCT")
	assert.Contains(t, orphan.Conflicts[0].Note, "ABCI")
}

func TestDistinctSymbolsNeverMerge(t *testing.T) {
	a := &fakeScraper{id: "A", ipos: []models.IpoData{{Source: "A", Symbol: "AAA", CompanyName: "Same Name Ltd"}}}
	b := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", Symbol: "BBB", CompanyName: "Same Name Limited"}}}

	report := newTestAggregator(t, AggregatorOptions{}, a, b).Aggregate(context.Background())
	assert.Len(t, report.Records, 2)
}

func TestOpenBreakerSkipsSource(t *testing.T) {
	a := &fakeScraper{id: "A", err: errors.New("down")}
	b := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", Symbol: "XYZ"}}}

	cfg := shared.CircuitBreakerConfig{MaxFailureRate: 0.5, MinSamples: 2, CoolDown: time.Hour}
	agg := newTestAggregator(t, AggregatorOptions{CircuitBreaker: &cfg}, a, b)

	agg.Aggregate(context.Background())
	agg.Aggregate(context.Background())
	report := agg.Aggregate(context.Background())

	assert.Equal(t, 2, a.calls)
	var skipped bool
	for _, s := range report.Statuses {
		if s.Source == "A" {
			skipped = s.Skipped
		}
	}
	assert.True(t, skipped)
	assert.Len(t, report.Records, 1)
}

func TestConfidenceTable(t *testing.T) {
	tests := []struct {
		sources      int
		overlap      bool
		disagreement bool
		want         models.Confidence
	}{
		{0, false, false, models.ConfidenceLow},
		{1, true, false, models.ConfidenceLow},
		{2, false, false, models.ConfidenceMedium},
		{2, true, false, models.ConfidenceHigh},
		{2, true, true, models.ConfidenceLow},
		{3, false, false, models.ConfidenceHigh},
		{3, true, true, models.ConfidenceMedium},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%d/%v/%v", tt.sources, tt.overlap, tt.disagreement)
		assert.Equal(t, tt.want, Confidence(tt.sources, tt.overlap, tt.disagreement), name)
	}
}

func TestFieldReducer(t *testing.T) {
	tests := []struct {
		field models.Field
		want  Reducer
		name  string
	}{
		{models.FieldCompanyName, ReduceIdentity, "identity"},
		{models.FieldOpenDate, ReduceIdentity, "identity"},
		{models.FieldGMP, ReducePriority, "priority"},
		{models.FieldLotSize, ReducePriority, "priority"},
		{models.FieldSubTotal, ReduceAverage, "average"},
	}
	for _, tt := range tests {
		got := FieldReducer(tt.field)
		assert.Equal(t, tt.want, got, string(tt.field))
		assert.Equal(t, tt.name, got.String())
	}
}

func intPtr(v int) *int { return &v }

var rankedFields = []models.Field{models.FieldPriceBandHigh, models.FieldLotSize, models.FieldPERatio, models.FieldROE}

// rankedIpo reports the fields whose bit is set in mask, with values unique
// to the source
func rankedIpo(id models.SourceID, index int, mask uint16) models.IpoData {
	d := models.IpoData{Source: id, Symbol: "XYZ"}
	for fi, f := range rankedFields {
		if mask&(1<<(index*len(rankedFields)+fi)) == 0 {
			continue
		}
		v := float64(100*(index+1) + fi + 1)
		switch f {
		case models.FieldPriceBandHigh:
			d.PriceBandHigh = fptr(v)
		case models.FieldLotSize:
			d.LotSize = intPtr(int(v))
		case models.FieldPERatio:
			d.Financials.PERatio = fptr(v)
		case models.FieldROE:
			d.Financials.ROE = fptr(v)
		}
	}
	return d
}

func rankedValue(r models.MergedIpoRecord, f models.Field) *float64 {
	switch f {
	case models.FieldPriceBandHigh:
		return r.PriceBandHigh
	case models.FieldLotSize:
		if r.LotSize == nil {
			return nil
		}
		v := float64(*r.LotSize)
		return &v
	case models.FieldPERatio:
		return r.Financials.PERatio
	case models.FieldROE:
		return r.Financials.ROE
	}
	return nil
}

func TestAggregationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("an agreeing third source never lowers confidence", prop.ForAll(
		func(price float64, lot int) bool {
			ipo := func(id models.SourceID) models.IpoData {
				return models.IpoData{Source: id, Symbol: "XYZ", PriceBandHigh: fptr(price), LotSize: intPtr(lot)}
			}
			one := &fakeScraper{id: "A", ipos: []models.IpoData{ipo("A")}}
			two := &fakeScraper{id: "B", ipos: []models.IpoData{ipo("B")}}
			three := &fakeScraper{id: "C", ipos: []models.IpoData{ipo("C")}}

			registry := scrapers.NewRegistry()
			_ = registry.Register(one, 1)
			_ = registry.Register(two, 2)
			small := NewAggregator(registry, AggregatorOptions{Now: func() time.Time { return fixedNow }}).Aggregate(context.Background())

			registry = scrapers.NewRegistry()
			_ = registry.Register(one, 1)
			_ = registry.Register(two, 2)
			_ = registry.Register(three, 3)
			large := NewAggregator(registry, AggregatorOptions{Now: func() time.Time { return fixedNow }}).Aggregate(context.Background())

			return large.Records[0].Confidence.Rank() >= small.Records[0].Confidence.Rank()
		},
		gen.Float64Range(1, 5000), gen.IntRange(1, 5000),
	))

	properties.Property("every record lists only successful sources", prop.ForAll(
		func(failA, failB bool) bool {
			a := &fakeScraper{id: "A", ipos: []models.IpoData{{Source: "A", Symbol: "XYZ"}}}
			b := &fakeScraper{id: "B", ipos: []models.IpoData{{Source: "B", Symbol: "XYZ"}}}
			if failA {
				a.err = errors.New("down")
			}
			if failB {
				b.err = errors.New("down")
			}
			registry := scrapers.NewRegistry()
			_ = registry.Register(a, 1)
			_ = registry.Register(b, 2)
			report := NewAggregator(registry, AggregatorOptions{}).Aggregate(context.Background())

			for _, r := range report.Records {
				if (failA && r.HasSource("A")) || (failB && r.HasSource("B")) {
					return false
				}
			}
			return report.TotalOutage() == (failA && failB)
		},
		gen.Bool(), gen.Bool(),
	))

	for _, f := range rankedFields {
		require.Equal(t, ReducePriority, FieldReducer(f), string(f))
	}
	properties.Property("each priority field comes from the best ranked source that has it", prop.ForAll(
		func(ranks []int, mask uint16) bool {
			ids := []models.SourceID{"A", "B", "C"}
			registry := scrapers.NewRegistry()
			for i, id := range ids {
				if err := registry.Register(&fakeScraper{id: id, ipos: []models.IpoData{rankedIpo(id, i, mask)}}, ranks[i]); err != nil {
					return false
				}
			}
			report := NewAggregator(registry, AggregatorOptions{Now: func() time.Time { return fixedNow }}).Aggregate(context.Background())
			if len(report.Records) != 1 {
				return false
			}
			record := report.Records[0]

			// rank first, registration order between equal ranks
			order := []int{0, 1, 2}
			sort.SliceStable(order, func(a, b int) bool { return ranks[order[a]] < ranks[order[b]] })

			for fi, f := range rankedFields {
				var want *float64
				var winner models.SourceID
				for _, i := range order {
					if mask&(1<<(i*len(rankedFields)+fi)) != 0 {
						v := float64(100*(i+1) + fi + 1)
						want, winner = &v, ids[i]
						break
					}
				}
				got := rankedValue(record, f)
				if want == nil {
					if got != nil {
						return false
					}
					if _, ok := record.FieldSources[f]; ok {
						return false
					}
					continue
				}
				if got == nil || *got != *want || record.FieldSources[f] != winner {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(3, gen.IntRange(1, 3)), gen.UInt16Range(0, 1<<12-1),
	))

	properties.TestingRun(t)
}
