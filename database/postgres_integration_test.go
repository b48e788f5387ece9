package database

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupPostgresStore connects to TEST_DATABASE_URL and skips when no
// server answers
func setupPostgresStore(t *testing.T) *SQLStore {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost/ipo_aggregator_test?sslmode=disable"
	}

	cfg := shared.NewDefaultPipelineConfiguration().Database
	cfg.PingTimeout = 2 * time.Second
	db, err := Connect(DialectPostgres, dbURL, &cfg)
	if err != nil {
		t.Skipf("Skipping postgres tests - database not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, DialectPostgres))
	return NewSQLStore(db, DialectPostgres, &cfg)
}

func TestPostgresStoreLifecycle(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	// unique symbols keep reruns independent
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String()[:8], "-", ""))
	open, gone := "T"+suffix+"A", "T"+suffix+"B"
	t.Cleanup(func() {
		_, _ = store.DB().ExecContext(context.Background(), `DELETE FROM ipo_update_log WHERE symbol IN ($1, $2)`, open, gone)
		_, _ = store.DB().ExecContext(context.Background(), `DELETE FROM ipos WHERE symbol IN ($1, $2)`, open, gone)
	})

	require.NoError(t, store.InTx(ctx, func(repo Repository) error {
		if err := repo.Upsert(ctx, record(open, models.StatusOpen), at); err != nil {
			return err
		}
		return repo.Upsert(ctx, record(gone, models.StatusUpcoming), at)
	}))

	var marked int
	require.NoError(t, store.InTx(ctx, func(repo Repository) error {
		if err := repo.RecordChange(ctx, models.IPOUpdateLog{RunID: "r1", Symbol: gone, FieldName: "status", OldValue: "upcoming", NewValue: "listed", Timestamp: at}); err != nil {
			return err
		}
		var err error
		marked, err = repo.MarkArchived(ctx, []string{gone}, at)
		return err
	}))
	assert.Equal(t, 1, marked)

	stored, err := store.FindBySymbol(ctx, gone)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusListed, stored.Status)
	assert.NotNil(t, stored.ArchivedAt)

	stored, err = store.FindBySymbol(ctx, open)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 125.0, *stored.Record.GMP)
	assert.Equal(t, at, stored.CreatedAt)

	log, err := store.UpdateLog(ctx, gone, 5)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "listed", log[0].NewValue)

	require.NoError(t, store.Ping(ctx))
	assert.Greater(t, store.Metrics().Snapshot().TotalQueries, int64(0))
}
