package jobs

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/database"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSyncInProgress rejects a run started while another is still running
var ErrSyncInProgress = shared.NewServiceError(shared.ErrorCategoryResource, shared.CodeSyncInProgress,
	"a sync is already running", "SyncJob", "Run", true, nil)

// DefaultSyncTimeout bounds one run including persistence
const DefaultSyncTimeout = 5 * time.Minute

// SyncOptions controls one run
type SyncOptions struct {
	// Clean archives stored open/upcoming IPOs missing from the fresh set
	Clean bool
}

// SyncJob reconciles a fresh aggregation pass with the store
type SyncJob struct {
	aggregator *services.Aggregator
	store      database.Store
	snapshots  *services.SnapshotCache
	timeout    time.Duration
	now        func() time.Time

	running sync.Mutex
	mu      sync.RWMutex
	last    *models.SyncResult
}

// NewSyncJob creates the job. snapshots may be nil.
func NewSyncJob(aggregator *services.Aggregator, store database.Store, snapshots *services.SnapshotCache) *SyncJob {
	return &SyncJob{
		aggregator: aggregator,
		store:      store,
		snapshots:  snapshots,
		timeout:    DefaultSyncTimeout,
		now:        time.Now,
	}
}

// LastResult returns the result of the most recent run, or nil
func (j *SyncJob) LastResult() *models.SyncResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

// Run executes one sync. The result is always populated; err is non-nil
// when the run was rejected, hit a total outage or failed to persist.
func (j *SyncJob) Run(ctx context.Context, opts SyncOptions) (models.SyncResult, error) {
	if !j.running.TryLock() {
		logrus.WithField("component", "SyncJob").Warn("Sync rejected, another run is in progress")
		return models.SyncResult{Clean: opts.Clean, Error: ErrSyncInProgress.Message}, ErrSyncInProgress
	}
	defer j.running.Unlock()

	start := j.now()
	result := models.SyncResult{RunID: uuid.New().String(), Clean: opts.Clean}
	logger := logrus.WithFields(logrus.Fields{
		"component": "SyncJob",
		"run_id":    result.RunID,
		"clean":     opts.Clean,
	})
	logger.Info("Starting IPO sync")

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	err := j.run(ctx, opts, &result, logger)
	result.DurationMs = j.now().Sub(start).Milliseconds()
	if err != nil {
		result.Success = false
		result.Error = err.Error()
	}

	fields := logrus.Fields{
		"total":            result.Total,
		"created":          result.Created,
		"updated":          result.Updated,
		"unchanged":        result.Unchanged,
		"skipped":          result.Skipped,
		"marked_as_listed": result.MarkedAsListed,
		"archive_skipped":  result.ArchiveSkipped,
		"duration_ms":      result.DurationMs,
	}
	switch {
	case result.TotalOutage:
		logger.WithFields(fields).Error("Sync aborted, every source failed")
	case err != nil:
		logger.WithFields(fields).WithError(err).Error("Sync failed, no changes were applied")
	default:
		logger.WithFields(fields).Info("Sync completed")
	}

	j.mu.Lock()
	j.last = &result
	j.mu.Unlock()
	return result, err
}

func (j *SyncJob) run(ctx context.Context, opts SyncOptions, result *models.SyncResult, logger *logrus.Entry) error {
	report := j.aggregator.Aggregate(ctx)
	if j.snapshots != nil {
		j.snapshots.Put(report)
	}

	if report.TotalOutage() {
		result.TotalOutage = true
		return shared.NewServiceError(shared.ErrorCategoryOutage, shared.CodeTotalOutage,
			"every source failed, nothing was written", "SyncJob", "Run", true, nil)
	}
	if failed := report.FailedSources(); len(failed) > 0 {
		logger.WithField("failed_sources", failed).Warn("Syncing with partial source data")
	}

	// the report is shared with the snapshot cache
	records := append([]models.MergedIpoRecord(nil), report.Records...)
	result.Total = len(records)
	at := j.now().UTC()

	var counts models.SyncResult
	err := j.store.InTx(ctx, func(repo database.Repository) error {
		counts = models.SyncResult{}
		claimed := map[string]bool{}
		for _, i := range reconcileOrder(records) {
			if err := j.reconcile(ctx, repo, &records[i], at, result.RunID, claimed, &counts, logger); err != nil {
				return err
			}
		}

		if !opts.Clean {
			return nil
		}
		if !report.ListingSourceSucceeded() {
			counts.ArchiveSkipped = true
			logger.Warn("Skipping archive step, no listing source succeeded")
			return nil
		}
		return j.archiveMissing(ctx, repo, claimed, at, result.RunID, &counts)
	})
	if err != nil {
		return err
	}

	result.Success = true
	result.Created = counts.Created
	result.Updated = counts.Updated
	result.Unchanged = counts.Unchanged
	result.Skipped = counts.Skipped
	result.MarkedAsListed = counts.MarkedAsListed
	result.ArchiveSkipped = counts.ArchiveSkipped
	return nil
}

// reconcileOrder puts records carrying an exchange symbol first so that
// name-only records resolve against rows already claimed by this run
func reconcileOrder(records []models.MergedIpoRecord) []int {
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return records[order[a]].HasExchangeSymbol() && !records[order[b]].HasExchangeSymbol()
	})
	return order
}

// resolve finds the stored row a fresh record updates. The symbol is tried
// first, then the company name key. Two rows that both carry an exchange
// symbol are never the same IPO. A name key matching several rows is
// returned as ambiguous with a nil match.
func resolve(ctx context.Context, repo database.Repository, record *models.MergedIpoRecord, claimed map[string]bool) (*models.StoredIPO, []models.StoredIPO, error) {
	stored, err := repo.FindBySymbol(ctx, record.Symbol)
	if err != nil || stored != nil {
		return stored, nil, err
	}
	if record.NameKey == "" {
		return nil, nil, nil
	}

	rows, err := repo.FindByNameKey(ctx, record.NameKey)
	if err != nil {
		return nil, nil, err
	}
	var candidates []models.StoredIPO
	for _, row := range rows {
		if claimed[strings.ToUpper(row.Symbol)] {
			continue
		}
		if record.HasExchangeSymbol() && row.Record.HasExchangeSymbol() {
			continue
		}
		candidates = append(candidates, row)
	}

	switch len(candidates) {
	case 0:
		return nil, nil, nil
	case 1:
		return &candidates[0], nil, nil
	default:
		return nil, candidates, nil
	}
}

func (j *SyncJob) reconcile(ctx context.Context, repo database.Repository, record *models.MergedIpoRecord, at time.Time, runID string, claimed map[string]bool, counts *models.SyncResult, logger *logrus.Entry) error {
	stored, ambiguous, err := resolve(ctx, repo, record, claimed)
	if err != nil {
		return err
	}
	if len(ambiguous) > 0 {
		symbols := make([]string, len(ambiguous))
		for i, row := range ambiguous {
			symbols[i] = row.Symbol
			claimed[strings.ToUpper(row.Symbol)] = true
		}
		logger.WithFields(logrus.Fields{
			"symbol":     record.Symbol,
			"name_key":   record.NameKey,
			"candidates": symbols,
		}).Warn("Company name matches several stored IPOs, record not written")
		counts.Skipped++
		return nil
	}
	if stored == nil {
		claimed[strings.ToUpper(record.Symbol)] = true
		counts.Created++
		return repo.Upsert(ctx, *record, at)
	}

	var changes []FieldChange
	if !strings.EqualFold(stored.Symbol, record.Symbol) {
		if record.HasExchangeSymbol() {
			// the row was stored under its name key before the exchange listed it
			if err := repo.Rekey(ctx, stored.Symbol, record.Symbol, at); err != nil {
				return err
			}
			changes = append(changes, FieldChange{Field: string(models.FieldSymbol), Old: stored.Symbol, New: record.Symbol})
		} else {
			adoptStoredSymbol(record, stored)
		}
	}
	claimed[strings.ToUpper(record.Symbol)] = true

	changes = append(changes, DiffRecords(&stored.Record, record)...)
	if stored.ArchivedAt != nil {
		changes = append(changes, FieldChange{Field: "archivedAt", Old: stored.ArchivedAt.Format(time.RFC3339)})
	}
	if len(changes) == 0 {
		counts.Unchanged++
		return nil
	}

	for _, c := range changes {
		entry := models.IPOUpdateLog{
			RunID:     runID,
			Symbol:    record.Symbol,
			FieldName: c.Field,
			OldValue:  c.Old,
			NewValue:  c.New,
			Source:    string(record.FieldSources[models.Field(c.Field)]),
			Timestamp: at,
		}
		if err := repo.RecordChange(ctx, entry); err != nil {
			return err
		}
	}
	counts.Updated++
	return repo.Upsert(ctx, *record, at)
}

// adoptStoredSymbol keeps the stored exchange symbol on a record that was
// only matched by company name this pass
func adoptStoredSymbol(record *models.MergedIpoRecord, stored *models.StoredIPO) {
	record.Symbol = stored.Symbol
	source, ok := stored.Record.FieldSources[models.FieldSymbol]
	if !ok {
		return
	}
	provenance := make(map[models.Field]models.SourceID, len(record.FieldSources)+1)
	for f, s := range record.FieldSources {
		provenance[f] = s
	}
	provenance[models.FieldSymbol] = source
	record.FieldSources = provenance
}

// archiveMissing archives open rows that no fresh record resolved to
func (j *SyncJob) archiveMissing(ctx context.Context, repo database.Repository, claimed map[string]bool, at time.Time, runID string, counts *models.SyncResult) error {
	open, err := repo.ListOpen(ctx)
	if err != nil {
		return err
	}
	var missing []models.StoredIPO
	var symbols []string
	for _, ipo := range open {
		if !claimed[strings.ToUpper(ipo.Symbol)] {
			missing = append(missing, ipo)
			symbols = append(symbols, ipo.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	for _, ipo := range missing {
		entry := models.IPOUpdateLog{
			RunID:     runID,
			Symbol:    ipo.Symbol,
			FieldName: string(models.FieldStatus),
			OldValue:  ipo.Status,
			NewValue:  models.StatusListed,
			Timestamp: at,
		}
		if err := repo.RecordChange(ctx, entry); err != nil {
			return err
		}
	}

	marked, err := repo.MarkArchived(ctx, symbols, at)
	if err != nil {
		return err
	}
	counts.MarkedAsListed = marked
	return nil
}

// FieldChange is one differing field between a stored and a fresh record
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// DiffRecords lists the tracked fields whose values differ, sorted by name.
// Provenance, conflicts and the aggregation time are not tracked.
func DiffRecords(old, fresh *models.MergedIpoRecord) []FieldChange {
	before, after := trackedValues(old), trackedValues(fresh)
	var changes []FieldChange
	for field, v := range after {
		if before[field] != v {
			changes = append(changes, FieldChange{Field: field, Old: before[field], New: v})
		}
	}
	sort.Slice(changes, func(a, b int) bool { return changes[a].Field < changes[b].Field })
	return changes
}

func trackedValues(r *models.MergedIpoRecord) map[string]string {
	f := r.Financials
	s := r.Subscription
	return map[string]string{
		string(models.FieldCompanyName):     r.CompanyName,
		string(models.FieldStatus):          r.Status,
		string(models.FieldExchange):        r.Exchange,
		string(models.FieldSector):          r.Sector,
		string(models.FieldOpenDate):        dateText(r.OpenDate),
		string(models.FieldCloseDate):       dateText(r.CloseDate),
		string(models.FieldListingDate):     dateText(r.ListingDate),
		string(models.FieldPriceBandLow):    numberText(r.PriceBandLow),
		string(models.FieldPriceBandHigh):   numberText(r.PriceBandHigh),
		string(models.FieldLotSize):         intText(r.LotSize),
		string(models.FieldIssueSize):       numberText(r.IssueSize),
		string(models.FieldRevenueGrowth):   numberText(f.RevenueGrowth),
		string(models.FieldROE):             numberText(f.ROE),
		string(models.FieldROCE):            numberText(f.ROCE),
		string(models.FieldDebtToEquity):    numberText(f.DebtToEquity),
		string(models.FieldPATMargin):       numberText(f.PATMargin),
		string(models.FieldPromoterHolding): numberText(f.PromoterHolding),
		string(models.FieldPERatio):         numberText(f.PERatio),
		string(models.FieldPBRatio):         numberText(f.PBRatio),
		string(models.FieldSectorPE):        numberText(f.SectorPE),
		string(models.FieldSectorPB):        numberText(f.SectorPB),
		string(models.FieldOFSRatio):        numberText(f.OFSRatio),
		string(models.FieldGMP):             numberText(r.GMP),
		string(models.FieldGMPPercent):      numberText(r.GMPPercent),
		string(models.FieldIPOPrice):        numberText(r.IPOPrice),
		string(models.FieldEstListing):      numberText(r.EstimatedListingPrice),
		string(models.FieldSubQIB):          numberText(s.QIB),
		string(models.FieldSubNII):          numberText(s.NII),
		string(models.FieldSubRetail):       numberText(s.Retail),
		string(models.FieldSubEmployee):     numberText(s.Employee),
		string(models.FieldSubTotal):        numberText(s.Total),
		"overallScore":                      strconv.FormatFloat(r.OverallScore, 'f', 2, 64),
		"riskLevel":                         string(r.RiskLevel),
		"confidence":                        string(r.Confidence),
		"sources":                           sourcesText(r.Sources),
	}
}

func dateText(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func numberText(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func intText(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func sourcesText(ids []models.SourceID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
