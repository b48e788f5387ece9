package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/analysis"
	"github.com/fenilmodi00/ipo-aggregator/database"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/sirupsen/logrus"
)

// Where a read was served from
const (
	ServedFromStore    = "store"
	ServedFromCache    = "cache"
	ServedFromSnapshot = "snapshot"
	ServedFromNothing  = "empty"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
	analysisPrefix   = "analysis:"
	analysisTTL      = 6 * time.Hour
)

// IPOList is a list read with its provenance
type IPOList struct {
	IPOs       []models.StoredIPO `json:"ipos"`
	Count      int                `json:"count"`
	Stale      bool               `json:"stale"`
	ServedFrom string             `json:"servedFrom"`
}

// IPOView is a single record read with its provenance
type IPOView struct {
	IPO        models.StoredIPO `json:"ipo"`
	Stale      bool             `json:"stale"`
	ServedFrom string           `json:"servedFrom"`
}

// IPOService is the read side of the API. Reads degrade to the last served
// data and then to the last aggregation snapshot when the store fails.
type IPOService struct {
	store     database.Store
	snapshots *SnapshotCache
	analyzer  *analysis.Analyzer
	metrics   *shared.ServiceMetrics
	logger    *logrus.Entry
}

// NewIPOService creates the service. snapshots may be nil.
func NewIPOService(store database.Store, snapshots *SnapshotCache, analyzer *analysis.Analyzer) *IPOService {
	if analyzer == nil {
		analyzer = analysis.NewAnalyzer(nil, 0)
	}
	return &IPOService{
		store:     store,
		snapshots: snapshots,
		analyzer:  analyzer,
		metrics:   shared.NewServiceMetrics("IPO_Service"),
		logger:    logrus.WithField("component", "IPOService"),
	}
}

// GetServiceMetrics returns the read metrics
func (s *IPOService) GetServiceMetrics() *shared.ServiceMetrics {
	return s.metrics
}

// ListIPOs returns stored IPOs with status, newest issue first. It never
// fails: without the store it serves stale or empty data.
func (s *IPOService) ListIPOs(ctx context.Context, status string, limit int) IPOList {
	start := time.Now()
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "all" {
		status = ""
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	ipos, err := s.store.List(ctx, database.ListFilter{Status: status, Limit: limit})
	if err == nil {
		s.metrics.RecordRequest(true, time.Since(start))
		if s.snapshots != nil {
			s.snapshots.RememberList(listKey(status, limit), ipos)
		}
		return newIPOList(ipos, false, ServedFromStore)
	}

	s.metrics.RecordFailure(time.Since(start), err.Error(), false)
	s.logger.WithError(err).WithField("status", status).Warn("Store unavailable, serving stale IPO list")

	if s.snapshots != nil {
		if cached, ok := s.snapshots.StoredList(listKey(status, limit)); ok {
			return newIPOList(cached, true, ServedFromCache)
		}
		if records, ok := s.snapshots.Records(status); ok {
			return newIPOList(fromSnapshot(records, limit), true, ServedFromSnapshot)
		}
	}
	return newIPOList(nil, true, ServedFromNothing)
}

// GetIPO returns one stored IPO by symbol. A missing symbol yields a
// RECORD_NOT_FOUND error.
func (s *IPOService) GetIPO(ctx context.Context, symbol string) (*IPOView, error) {
	start := time.Now()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	ipo, err := s.store.FindBySymbol(ctx, symbol)
	if err == nil {
		s.metrics.RecordRequest(true, time.Since(start))
		if ipo == nil {
			return nil, notFound(symbol)
		}
		if s.snapshots != nil {
			s.snapshots.RememberRecord(*ipo)
		}
		return &IPOView{IPO: *ipo, ServedFrom: ServedFromStore}, nil
	}

	s.metrics.RecordFailure(time.Since(start), err.Error(), false)
	s.logger.WithError(err).WithField("symbol", symbol).Warn("Store unavailable, serving stale IPO")

	if s.snapshots != nil {
		if cached, ok := s.snapshots.StoredRecord(symbol); ok {
			return &IPOView{IPO: cached, Stale: true, ServedFrom: ServedFromCache}, nil
		}
		if record, ok := s.snapshots.Record(symbol); ok {
			return &IPOView{IPO: storedFromRecord(record), Stale: true, ServedFrom: ServedFromSnapshot}, nil
		}
	}
	return nil, err
}

// AnalyzeIPO returns the analysis of one IPO. Analyses are cached per
// stored revision so a provider is called once per change.
func (s *IPOService) AnalyzeIPO(ctx context.Context, symbol string) (models.Analysis, error) {
	view, err := s.GetIPO(ctx, symbol)
	if err != nil {
		return models.Analysis{}, err
	}

	key := fmt.Sprintf("%s%s:%d", analysisPrefix, view.IPO.Symbol, view.IPO.UpdatedAt.UnixMilli())
	if s.snapshots != nil {
		if cached, ok := s.snapshots.Cache().Get(key); ok {
			return cached.(models.Analysis), nil
		}
	}

	record := view.IPO.Record
	result := s.analyzer.Analyze(ctx, &record)
	if s.snapshots != nil {
		s.snapshots.Cache().SetWithTTL(key, result, analysisTTL)
	}
	return result, nil
}

// History returns the field changes recorded for symbol, newest first
func (s *IPOService) History(ctx context.Context, symbol string, limit int) ([]models.IPOUpdateLog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	entries, err := s.store.UpdateLog(ctx, strings.ToUpper(strings.TrimSpace(symbol)), limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.IPOUpdateLog{}
	}
	return entries, nil
}

func newIPOList(ipos []models.StoredIPO, stale bool, from string) IPOList {
	if ipos == nil {
		ipos = []models.StoredIPO{}
	}
	return IPOList{IPOs: ipos, Count: len(ipos), Stale: stale, ServedFrom: from}
}

func listKey(status string, limit int) string {
	return fmt.Sprintf("%s:%d", status, limit)
}

func fromSnapshot(records []models.MergedIpoRecord, limit int) []models.StoredIPO {
	if len(records) > limit {
		records = records[:limit]
	}
	out := make([]models.StoredIPO, len(records))
	for i, r := range records {
		out[i] = storedFromRecord(r)
	}
	return out
}

func storedFromRecord(r models.MergedIpoRecord) models.StoredIPO {
	return models.StoredIPO{
		Symbol:      r.Symbol,
		CompanyName: r.CompanyName,
		Status:      r.Status,
		Record:      r,
		UpdatedAt:   r.AggregatedAt,
	}
}

func notFound(symbol string) error {
	return shared.NewServiceError(shared.ErrorCategoryValidation, shared.CodeRecordNotFound,
		fmt.Sprintf("IPO %s not found", symbol), "IPOService", "GetIPO", false, nil)
}
