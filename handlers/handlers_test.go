package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/database"
	"github.com/fenilmodi00/ipo-aggregator/jobs"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/scrapers"
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret"

type stubSource struct {
	ipos []models.IpoData
	err  error
}

func (s *stubSource) ID() models.SourceID { return models.SourceChittorgarh }

func (s *stubSource) ListsIPOs() bool { return true }

func (s *stubSource) Capabilities() []models.RecordKind { return []models.RecordKind{models.KindIPO} }

func (s *stubSource) GetIpos(ctx context.Context) models.ScraperResult[models.IpoData] {
	if s.err != nil {
		return models.Failed[models.IpoData](s.err, time.Now())
	}
	return models.Succeeded(s.ipos, time.Now())
}

func (s *stubSource) GetSubscriptions(ctx context.Context) models.ScraperResult[models.SubscriptionData] {
	return models.Unsupported[models.SubscriptionData]()
}

func (s *stubSource) GetGmp(ctx context.Context) models.ScraperResult[models.GmpData] {
	return models.Unsupported[models.GmpData]()
}

func fptr(v float64) *float64 { return &v }

type testServer struct {
	app    *fiber.App
	source *stubSource
	job    *jobs.SyncJob
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := shared.NewDefaultPipelineConfiguration().Database
	db, err := database.Connect(database.DialectSQLite, ":memory:", &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DialectSQLite))
	store := database.NewSQLStore(db, database.DialectSQLite, &cfg)

	source := &stubSource{ipos: []models.IpoData{{
		Source:        models.SourceChittorgarh,
		Symbol:        "ABC",
		CompanyName:   "ABC Technologies Ltd",
		Status:        "open",
		PriceBandHigh: fptr(475),
		Financials:    models.Financials{PERatio: fptr(35.2), ROE: fptr(22)},
	}}}
	registry := scrapers.NewRegistry()
	require.NoError(t, registry.Register(source, 1))
	aggregator := services.NewAggregator(registry, services.AggregatorOptions{SourceTimeout: time.Second})
	snapshots := services.NewSnapshotCache(aggregator, time.Minute)
	ipoService := services.NewIPOService(store, snapshots, nil)
	job := jobs.NewSyncJob(aggregator, store, snapshots)

	app := fiber.New()
	SetupRoutes(app, Handlers{
		Health:      NewHealthHandler(store, job),
		IPO:         NewIPOHandler(ipoService),
		Aggregate:   NewAggregateHandler(aggregator, snapshots),
		Admin:       NewAdminHandler(job),
		Performance: NewPerformanceHandler(store, ipoService, aggregator, snapshots),
	}, testToken)
	return &testServer{app: app, source: source, job: job}
}

func (s *testServer) do(t *testing.T, method, path string, admin bool) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if admin {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, http.MethodGet, "/health", false)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, http.MethodPost, "/api/v1/admin/sync", false)
	assert.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/performance/metrics", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEmptyAdminTokenLocksAdminRoutes(t *testing.T) {
	app := fiber.New()
	app.Get("/x", RequireAdminToken(""), func(c *fiber.Ctx) error { return c.SendString("in") })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSyncThenRead(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/v1/admin/sync?clean=true", true)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1.0, body["created"])
	assert.Equal(t, 1.0, body["total"])
	assert.Equal(t, 0.0, body["markedAsListed"])

	status, body = s.do(t, http.MethodGet, "/api/v1/ipos?status=open", false)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["stale"])
	assert.Equal(t, 1.0, body["count"])

	status, body = s.do(t, http.MethodGet, "/api/v1/ipos/abc", false)
	assert.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ABC", data["symbol"])

	status, body = s.do(t, http.MethodGet, "/api/v1/ipos/ABC/analysis", false)
	assert.Equal(t, http.StatusOK, status)
	analysis := body["data"].(map[string]any)
	assert.Equal(t, true, analysis["fallback"])
	assert.NotEmpty(t, analysis["summary"])

	status, body = s.do(t, http.MethodGet, "/api/v1/ipos/ABC/history", false)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.0, body["count"])

	status, body = s.do(t, http.MethodGet, "/api/v1/admin/sync", true)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]any)["success"])
}

func TestUnknownSymbolIs404(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, http.MethodGet, "/api/v1/ipos/NOPE", false)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
}

func TestSyncDuringTotalOutage(t *testing.T) {
	s := newTestServer(t)
	s.source.err = errors.New("connection reset by peer")

	status, body := s.do(t, http.MethodPost, "/api/v1/admin/sync?clean=true", true)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["totalOutage"])
	assert.Equal(t, 0.0, body["markedAsListed"])
	assert.NotEmpty(t, body["error"])
}

func TestAggregateAndSources(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/v1/aggregate", false)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, false, body["totalOutage"])
	record := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "ABC", record["symbol"])
	assert.Equal(t, "low", record["confidence"])

	status, body = s.do(t, http.MethodGet, "/api/v1/sources", false)
	require.Equal(t, http.StatusOK, status)
	sources := body["data"].([]any)
	require.Len(t, sources, 1)
	source := sources[0].(map[string]any)
	assert.Equal(t, "chittorgarh", source["id"])
	assert.Equal(t, false, source["breakerOpen"])
	assert.Len(t, source["lastStatus"], 1)
}

func TestPerformanceMetrics(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health", false)

	status, body := s.do(t, http.MethodGet, "/api/v1/admin/performance/metrics", true)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Contains(t, data, "database_stats")
	assert.Contains(t, data, "requests")

	status, body = s.do(t, http.MethodDelete, "/api/v1/admin/performance/cache", true)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}
