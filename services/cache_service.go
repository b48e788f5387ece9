package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/sirupsen/logrus"
)

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Data      any
	StoredAt  time.Time
	ExpiresAt time.Time
}

// IsExpired checks if the cache entry has expired at now
func (ce *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(ce.ExpiresAt)
}

// CacheService is a bounded in-memory TTL cache. Expired entries stay
// readable through GetStale until they are evicted or swept.
type CacheService struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	defaultTTL time.Duration
	staleFor   time.Duration
	maxSize    int
	now        func() time.Time
}

// NewCacheService creates a cache. Expired entries are kept for staleFor
// past their expiry before the sweeper removes them.
func NewCacheService(defaultTTL, staleFor time.Duration, maxSize int) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CacheService{
		cache:      make(map[string]*CacheEntry),
		defaultTTL: defaultTTL,
		staleFor:   staleFor,
		maxSize:    maxSize,
		now:        time.Now,
	}
}

// Get retrieves a fresh value from cache
func (cs *CacheService) Get(key string) (any, bool) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	entry, exists := cs.cache[key]
	if !exists || entry.IsExpired(cs.now()) {
		return nil, false
	}
	return entry.Data, true
}

// GetStale retrieves a value whether or not it has expired. fresh is false
// for an expired entry.
func (cs *CacheService) GetStale(key string) (value any, storedAt time.Time, fresh bool, ok bool) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	entry, exists := cs.cache[key]
	if !exists {
		return nil, time.Time{}, false, false
	}
	return entry.Data, entry.StoredAt, !entry.IsExpired(cs.now()), true
}

// Set stores a value in cache with default TTL
func (cs *CacheService) Set(key string, value any) {
	cs.SetWithTTL(key, value, cs.defaultTTL)
}

// SetWithTTL stores a value in cache with custom TTL
func (cs *CacheService) SetWithTTL(key string, value any, ttl time.Duration) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if _, exists := cs.cache[key]; !exists && len(cs.cache) >= cs.maxSize {
		cs.evictOldest()
	}

	now := cs.now()
	cs.cache[key] = &CacheEntry{
		Data:      value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// evictOldest removes the entry closest to expiry
func (cs *CacheService) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range cs.cache {
		if oldestKey == "" || entry.ExpiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.ExpiresAt
		}
	}

	if oldestKey != "" {
		delete(cs.cache, oldestKey)
	}
}

// Delete removes a value from cache
func (cs *CacheService) Delete(key string) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	delete(cs.cache, key)
}

// DeletePrefix removes every key starting with prefix
func (cs *CacheService) DeletePrefix(prefix string) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	for key := range cs.cache {
		if strings.HasPrefix(key, prefix) {
			delete(cs.cache, key)
		}
	}
}

// Size returns the number of items in cache
func (cs *CacheService) Size() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return len(cs.cache)
}

// Sweep removes entries that expired more than staleFor ago and returns
// how many were removed
func (cs *CacheService) Sweep() int {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cutoff := cs.now().Add(-cs.staleFor)
	removed := 0
	for key, entry := range cs.cache {
		if entry.IsExpired(cutoff) {
			delete(cs.cache, key)
			removed++
		}
	}
	return removed
}

const (
	snapshotKey        = "aggregate:latest"
	storedListPrefix   = "stored:list:"
	storedRecordPrefix = "stored:ipo:"
)

// Snapshot is a cached aggregation report and its age
type Snapshot struct {
	Report   AggregationReport
	StoredAt time.Time
	Stale    bool
}

// SnapshotCache keeps the last aggregation report and the last stored views
// served by the API, so reads can degrade to stale data when the sources or
// the store are unavailable.
type SnapshotCache struct {
	cache      *CacheService
	aggregator *Aggregator
	logger     *logrus.Entry

	// one live aggregation at a time
	refresh sync.Mutex
}

// NewSnapshotCache creates a cache over aggregator. Entries are fresh for ttl
// and stay available as stale data for a day after that.
func NewSnapshotCache(aggregator *Aggregator, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		cache:      NewCacheService(ttl, 24*time.Hour, 1000),
		aggregator: aggregator,
		logger:     logrus.WithField("component", "SnapshotCache"),
	}
}

// Cache exposes the underlying store
func (sc *SnapshotCache) Cache() *CacheService { return sc.cache }

// Put records report as the latest snapshot. A total outage never replaces
// a snapshot that has data.
func (sc *SnapshotCache) Put(report AggregationReport) {
	if report.TotalOutage() {
		if _, _, _, ok := sc.cache.GetStale(snapshotKey); ok {
			sc.logger.Warn("Keeping previous snapshot, aggregation had no successful source")
			return
		}
	}
	sc.cache.Set(snapshotKey, report)
	sc.cache.DeletePrefix(storedListPrefix)
	sc.cache.DeletePrefix(storedRecordPrefix)
}

// Latest returns the current snapshot, stale or not
func (sc *SnapshotCache) Latest() (Snapshot, bool) {
	value, storedAt, fresh, ok := sc.cache.GetStale(snapshotKey)
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Report: value.(AggregationReport), StoredAt: storedAt, Stale: !fresh}, true
}

// Aggregate returns the fresh snapshot, or runs a pass when there is none.
// force skips the fresh snapshot.
func (sc *SnapshotCache) Aggregate(ctx context.Context, force bool) Snapshot {
	if !force {
		if snap, ok := sc.Latest(); ok && !snap.Stale {
			return snap
		}
	}

	sc.refresh.Lock()
	defer sc.refresh.Unlock()

	// another caller may have refreshed while this one waited
	if !force {
		if snap, ok := sc.Latest(); ok && !snap.Stale {
			return snap
		}
	}

	report := sc.aggregator.Aggregate(ctx)
	sc.Put(report)
	if report.TotalOutage() {
		if snap, ok := sc.Latest(); ok && len(snap.Report.Records) > 0 {
			snap.Stale = true
			return snap
		}
	}
	return Snapshot{Report: report, StoredAt: time.Now()}
}

// Records returns the snapshot records with status, or all when status is
// empty. ok is false when no snapshot exists.
func (sc *SnapshotCache) Records(status string) ([]models.MergedIpoRecord, bool) {
	snap, ok := sc.Latest()
	if !ok {
		return nil, false
	}
	return FilterRecords(snap.Report.Records, status), true
}

// Record returns one snapshot record by symbol
func (sc *SnapshotCache) Record(symbol string) (models.MergedIpoRecord, bool) {
	snap, ok := sc.Latest()
	if !ok {
		return models.MergedIpoRecord{}, false
	}
	for _, r := range snap.Report.Records {
		if strings.EqualFold(r.Symbol, symbol) {
			return r, true
		}
	}
	return models.MergedIpoRecord{}, false
}

// RememberList keeps the last stored list served for status
func (sc *SnapshotCache) RememberList(status string, ipos []models.StoredIPO) {
	sc.cache.Set(storedListPrefix+status, ipos)
}

// StoredList returns the last stored list served for status
func (sc *SnapshotCache) StoredList(status string) ([]models.StoredIPO, bool) {
	value, _, _, ok := sc.cache.GetStale(storedListPrefix + status)
	if !ok {
		return nil, false
	}
	return value.([]models.StoredIPO), true
}

// RememberRecord keeps the last stored record served for its symbol
func (sc *SnapshotCache) RememberRecord(ipo models.StoredIPO) {
	sc.cache.Set(storedRecordPrefix+strings.ToUpper(ipo.Symbol), ipo)
}

// StoredRecord returns the last stored record served for symbol
func (sc *SnapshotCache) StoredRecord(symbol string) (models.StoredIPO, bool) {
	value, _, _, ok := sc.cache.GetStale(storedRecordPrefix + strings.ToUpper(symbol))
	if !ok {
		return models.StoredIPO{}, false
	}
	return value.(models.StoredIPO), true
}

// FilterRecords keeps the records with status; an empty status keeps all
func FilterRecords(records []models.MergedIpoRecord, status string) []models.MergedIpoRecord {
	out := make([]models.MergedIpoRecord, 0, len(records))
	for _, r := range records {
		if status == "" || strings.EqualFold(r.Status, status) {
			out = append(out, r)
		}
	}
	return out
}
