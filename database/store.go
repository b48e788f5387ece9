package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Repository is the persistence surface available inside a transaction
type Repository interface {
	// FindBySymbol returns nil, nil when the symbol is not stored
	FindBySymbol(ctx context.Context, symbol string) (*models.StoredIPO, error)
	// FindByNameKey returns every row, archived or not, stored under the
	// normalized company name
	FindByNameKey(ctx context.Context, nameKey string) ([]models.StoredIPO, error)
	// Rekey moves a row and its change log from one symbol to another
	Rekey(ctx context.Context, from, to string, at time.Time) error
	Upsert(ctx context.Context, record models.MergedIpoRecord, at time.Time) error
	// MarkArchived sets status listed and archived_at; it never deletes
	MarkArchived(ctx context.Context, symbols []string, at time.Time) (int, error)
	ListOpen(ctx context.Context) ([]models.StoredIPO, error)
	RecordChange(ctx context.Context, entry models.IPOUpdateLog) error
}

// ListFilter narrows Store.List
type ListFilter struct {
	Status string
	Limit  int
}

// Store is the read side plus transactional access to a Repository
type Store interface {
	InTx(ctx context.Context, fn func(Repository) error) error
	FindBySymbol(ctx context.Context, symbol string) (*models.StoredIPO, error)
	List(ctx context.Context, filter ListFilter) ([]models.StoredIPO, error)
	UpdateLog(ctx context.Context, symbol string, limit int) ([]models.IPOUpdateLog, error)
	Ping(ctx context.Context) error
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RetryConfig holds retry configuration for read queries
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// SQLStore implements Store over database/sql
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	retry   RetryConfig
	metrics *shared.DatabaseMetrics
	logger  *logrus.Entry
}

// NewSQLStore wraps an open connection
func NewSQLStore(db *sql.DB, dialect Dialect, config *shared.DatabaseConfig) *SQLStore {
	retry := RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, BackoffFactor: 2}
	if config != nil {
		if config.MaxRetryAttempts >= 0 {
			retry.MaxRetries = config.MaxRetryAttempts
		}
		if config.RetryBaseDelay > 0 {
			retry.BaseDelay = config.RetryBaseDelay
		}
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		retry:   retry,
		metrics: shared.NewDatabaseMetrics(500 * time.Millisecond),
		logger:  logrus.WithFields(logrus.Fields{"component": "SQLStore", "dialect": dialect}),
	}
}

// DB returns the underlying connection
func (s *SQLStore) DB() *sql.DB { return s.db }

// Metrics returns the query metrics
func (s *SQLStore) Metrics() *shared.DatabaseMetrics { return s.metrics }

// Ping checks connectivity
func (s *SQLStore) Ping(ctx context.Context) error { return HealthCheck(ctx, s.db) }

// InTx runs fn in one transaction. An error from fn or from commit rolls
// everything back.
func (s *SQLStore) InTx(ctx context.Context, fn func(Repository) error) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuery(err == nil, time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("InTx", "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = persistenceError("InTx", "transaction panicked", fmt.Errorf("%v", p))
		}
	}()

	if err = fn(&sqlRepository{q: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("Rollback failed")
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return persistenceError("InTx", "commit", err)
	}
	return nil
}

// FindBySymbol returns the stored record for symbol, or nil
func (s *SQLStore) FindBySymbol(ctx context.Context, symbol string) (*models.StoredIPO, error) {
	var found *models.StoredIPO
	err := s.withRetry(ctx, "FindBySymbol", func() error {
		var err error
		found, err = (&sqlRepository{q: s.db, dialect: s.dialect}).FindBySymbol(ctx, symbol)
		return err
	})
	return found, err
}

// List returns stored records, most recent issue first
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]models.StoredIPO, error) {
	query := `SELECT ` + ipoColumns + ` FROM ipos`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, strings.ToLower(filter.Status))
	}
	query += ` ORDER BY COALESCE(open_date, '') DESC, symbol ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var out []models.StoredIPO
	err := s.withRetry(ctx, "List", func() error {
		var err error
		out, err = queryIPOs(ctx, s.db, s.dialect.Rebind(query), args...)
		return err
	})
	return out, err
}

// UpdateLog returns the newest field changes recorded for symbol
func (s *SQLStore) UpdateLog(ctx context.Context, symbol string, limit int) ([]models.IPOUpdateLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.dialect.Rebind(`SELECT id, run_id, symbol, field_name, old_value, new_value, source, logged_at
		FROM ipo_update_log WHERE symbol = ? ORDER BY logged_at DESC, field_name ASC LIMIT ?`)

	var out []models.IPOUpdateLog
	err := s.withRetry(ctx, "UpdateLog", func() error {
		rows, err := s.db.QueryContext(ctx, query, strings.ToUpper(symbol), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = []models.IPOUpdateLog{}
		for rows.Next() {
			var entry models.IPOUpdateLog
			var loggedAt int64
			if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Symbol, &entry.FieldName,
				&entry.OldValue, &entry.NewValue, &entry.Source, &loggedAt); err != nil {
				return err
			}
			entry.Timestamp = time.UnixMilli(loggedAt).UTC()
			out = append(out, entry)
		}
		return rows.Err()
	})
	return out, err
}

// withRetry runs a read with exponential backoff on transient errors
func (s *SQLStore) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(s.retry.BaseDelay) * math.Pow(s.retry.BackoffFactor, float64(attempt-1)))
			if delay > s.retry.MaxDelay {
				delay = s.retry.MaxDelay
			}

			s.logger.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     lastErr,
			}).Warn("Retrying database operation")

			select {
			case <-ctx.Done():
				return persistenceError(operation, "cancelled while retrying", ctx.Err())
			case <-time.After(delay):
			}
		}

		start := time.Now()
		err := fn()
		s.metrics.RecordQuery(err == nil, time.Since(start))
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryableDBError(err) {
			break
		}
	}

	return persistenceError(operation, "query failed", lastErr)
}

// isRetryableDBError determines if a database error is transient
func isRetryableDBError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, retryable := range []string{
		"connection refused",
		"connection reset",
		"temporary failure",
		"deadlock",
		"database is locked",
		"connection lost",
		"server shutdown",
		"bad connection",
	} {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}

func persistenceError(operation, message string, err error) error {
	var serviceErr *shared.ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	return shared.NewServiceError(shared.ErrorCategoryDatabase, shared.CodePersistenceFailed,
		fmt.Sprintf("%s: %v", message, err), "SQLStore", operation, isRetryableDBError(err), err)
}

const ipoColumns = `id, symbol, company_name, status, payload, created_at, updated_at, archived_at`

// sqlRepository implements Repository on a transaction or the pool
type sqlRepository struct {
	q       queryer
	dialect Dialect
}

func (r *sqlRepository) FindBySymbol(ctx context.Context, symbol string) (*models.StoredIPO, error) {
	query := r.dialect.Rebind(`SELECT ` + ipoColumns + ` FROM ipos WHERE symbol = ?`)
	ipo, err := scanIPO(r.q.QueryRowContext(ctx, query, strings.ToUpper(symbol)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("FindBySymbol", "query failed", err)
	}
	return ipo, nil
}

func (r *sqlRepository) FindByNameKey(ctx context.Context, nameKey string) ([]models.StoredIPO, error) {
	if nameKey == "" {
		return nil, nil
	}
	query := r.dialect.Rebind(`SELECT ` + ipoColumns + ` FROM ipos WHERE name_key = ? ORDER BY symbol`)
	out, err := queryIPOs(ctx, r.q, query, nameKey)
	if err != nil {
		return nil, persistenceError("FindByNameKey", "query failed", err)
	}
	return out, nil
}

func (r *sqlRepository) Rekey(ctx context.Context, from, to string, at time.Time) error {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	res, err := r.q.ExecContext(ctx, r.dialect.Rebind(`UPDATE ipos SET symbol = ?, updated_at = ? WHERE symbol = ?`),
		to, at.UnixMilli(), from)
	if err != nil {
		return persistenceError("Rekey", fmt.Sprintf("rename %s to %s", from, to), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return shared.NewServiceError(shared.ErrorCategoryDatabase, shared.CodePersistenceFailed,
			fmt.Sprintf("rename %s to %s: no such row", from, to), "SQLStore", "Rekey", false, nil)
	}
	if _, err := r.q.ExecContext(ctx, r.dialect.Rebind(`UPDATE ipo_update_log SET symbol = ? WHERE symbol = ?`), to, from); err != nil {
		return persistenceError("Rekey", "move change log of "+from, err)
	}
	return nil
}

func (r *sqlRepository) Upsert(ctx context.Context, record models.MergedIpoRecord, at time.Time) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return persistenceError("Upsert", "encode record", err)
	}

	sources := make([]string, len(record.Sources))
	for i, s := range record.Sources {
		sources[i] = string(s)
	}

	query := r.dialect.Rebind(`INSERT INTO ipos (
			id, symbol, company_name, status, open_date, close_date, listing_date,
			price_band_low, price_band_high, lot_size, issue_size,
			gmp, gmp_percent, subscription_total, overall_score, risk_level,
			confidence, sources, payload, created_at, updated_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (symbol) DO UPDATE SET
			name_key = excluded.name_key,
			company_name = excluded.company_name,
			status = excluded.status,
			open_date = excluded.open_date,
			close_date = excluded.close_date,
			listing_date = excluded.listing_date,
			price_band_low = excluded.price_band_low,
			price_band_high = excluded.price_band_high,
			lot_size = excluded.lot_size,
			issue_size = excluded.issue_size,
			gmp = excluded.gmp,
			gmp_percent = excluded.gmp_percent,
			subscription_total = excluded.subscription_total,
			overall_score = excluded.overall_score,
			risk_level = excluded.risk_level,
			confidence = excluded.confidence,
			sources = excluded.sources,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			archived_at = NULL`)

	ms := at.UnixMilli()
	_, err = r.q.ExecContext(ctx, query,
		uuid.NewString(), record.Symbol, record.NameKey, record.CompanyName, record.Status,
		dateValue(record.OpenDate), dateValue(record.CloseDate), dateValue(record.ListingDate),
		floatValue(record.PriceBandLow), floatValue(record.PriceBandHigh), intValue(record.LotSize), floatValue(record.IssueSize),
		floatValue(record.GMP), floatValue(record.GMPPercent), floatValue(record.Subscription.Total), record.OverallScore, string(record.RiskLevel),
		string(record.Confidence), strings.Join(sources, ","), string(payload), ms, ms,
	)
	if err != nil {
		return persistenceError("Upsert", "write "+record.Symbol, err)
	}
	return nil
}

func (r *sqlRepository) MarkArchived(ctx context.Context, symbols []string, at time.Time) (int, error) {
	query := r.dialect.Rebind(`UPDATE ipos SET status = ?, archived_at = ?, updated_at = ?
		WHERE symbol = ? AND archived_at IS NULL`)

	marked := 0
	for _, symbol := range symbols {
		res, err := r.q.ExecContext(ctx, query, models.StatusListed, at.UnixMilli(), at.UnixMilli(), symbol)
		if err != nil {
			return marked, persistenceError("MarkArchived", "archive "+symbol, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			marked += int(n)
		}
	}
	return marked, nil
}

func (r *sqlRepository) ListOpen(ctx context.Context) ([]models.StoredIPO, error) {
	query := r.dialect.Rebind(`SELECT ` + ipoColumns + ` FROM ipos
		WHERE status IN (?, ?) AND archived_at IS NULL ORDER BY symbol`)
	out, err := queryIPOs(ctx, r.q, query, models.StatusOpen, models.StatusUpcoming)
	if err != nil {
		return nil, persistenceError("ListOpen", "query failed", err)
	}
	return out, nil
}

func (r *sqlRepository) RecordChange(ctx context.Context, entry models.IPOUpdateLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	query := r.dialect.Rebind(`INSERT INTO ipo_update_log
		(id, run_id, symbol, field_name, old_value, new_value, source, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.q.ExecContext(ctx, query, entry.ID, entry.RunID, entry.Symbol, entry.FieldName,
		entry.OldValue, entry.NewValue, entry.Source, entry.Timestamp.UnixMilli())
	if err != nil {
		return persistenceError("RecordChange", "write log for "+entry.Symbol, err)
	}
	return nil
}

func queryIPOs(ctx context.Context, q queryer, query string, args ...any) ([]models.StoredIPO, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.StoredIPO{}
	for rows.Next() {
		ipo, err := scanIPO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ipo)
	}
	return out, rows.Err()
}

func scanIPO(row interface{ Scan(dest ...any) error }) (*models.StoredIPO, error) {
	var (
		ipo              models.StoredIPO
		payload          []byte
		created, updated int64
		archived         sql.NullInt64
	)
	if err := row.Scan(&ipo.ID, &ipo.Symbol, &ipo.CompanyName, &ipo.Status, &payload, &created, &updated, &archived); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &ipo.Record); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", ipo.Symbol, err)
	}
	// archiving changes the status column only, rekeying the symbol column
	ipo.Record.Status = ipo.Status
	ipo.Record.Symbol = ipo.Symbol
	ipo.CreatedAt = time.UnixMilli(created).UTC()
	ipo.UpdatedAt = time.UnixMilli(updated).UTC()
	if archived.Valid {
		t := time.UnixMilli(archived.Int64).UTC()
		ipo.ArchivedAt = &t
	}
	return &ipo, nil
}

func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func floatValue(v *float64) any {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return *v
}

func intValue(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
