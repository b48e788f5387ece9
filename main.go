package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/analysis"
	"github.com/fenilmodi00/ipo-aggregator/config"
	"github.com/fenilmodi00/ipo-aggregator/database"
	"github.com/fenilmodi00/ipo-aggregator/handlers"
	"github.com/fenilmodi00/ipo-aggregator/jobs"
	"github.com/fenilmodi00/ipo-aggregator/scrapers"
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg := config.LoadConfig()
	pipeline := cfg.Pipeline()
	shared.ConfigureLogging(pipeline.Logging)

	sources, err := config.LoadSources(cfg.SourcesFile, cfg)
	if err != nil {
		logrus.Fatalf("Failed to load source registry: %v", err)
	}

	// Connect to database
	dialect, err := database.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		logrus.Fatalf("Invalid database driver: %v", err)
	}
	dsn := cfg.DatabaseURL
	if dsn == "" && dialect == database.DialectSQLite {
		dsn = "ipo.db"
	}
	db, err := database.Connect(dialect, dsn, &pipeline.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.Migrate(ctx, db, dialect); err != nil {
		logrus.Fatalf("Migration failed: %v", err)
	}
	store := database.NewSQLStore(db, dialect, &pipeline.Database)

	// Scrapers and aggregation
	clientFactory := shared.NewHTTPClientFactory(pipeline.Aggregation.SourceTimeout)
	defer clientFactory.CleanupAllClients()
	registry, err := scrapers.BuildRegistry(sources, clientFactory, pipeline.Aggregation.MaxRetryAttempts)
	if err != nil {
		logrus.Fatalf("Failed to build scraper registry: %v", err)
	}
	aggregator := services.NewAggregator(registry, services.AggregatorOptions{
		SourceTimeout:  pipeline.Aggregation.SourceTimeout,
		CircuitBreaker: &pipeline.Aggregation.CircuitBreaker,
	})
	snapshots := services.NewSnapshotCache(aggregator, pipeline.Cache.TTL)

	// Analysis
	generator, err := analysis.NewGenerator(ctx, analysis.GeneratorConfig{
		Provider:        cfg.AIProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		Model:           cfg.AIModel,
	})
	if err != nil {
		logrus.Fatalf("Failed to configure AI provider: %v", err)
	}
	analyzer := analysis.NewAnalyzer(generator, 30*time.Second)
	ipoService := services.NewIPOService(store, snapshots, analyzer)

	logrus.WithFields(logrus.Fields{
		"sources":        registry.Len(),
		"database":       dialect,
		"source_timeout": pipeline.Aggregation.SourceTimeout,
		"cache_ttl":      pipeline.Cache.TTL,
		"ai_provider":    analyzer.Provider(),
		"sync_cron":      cfg.SyncCron,
		"clean_sync":     cfg.CleanSync,
	}).Info("IPO aggregator services initialized")

	// Jobs
	syncJob := jobs.NewSyncJob(aggregator, store, snapshots)
	scheduler := jobs.NewScheduler(ctx, syncJob, jobs.NewCacheCleanupJob(snapshots.Cache()), cfg.CleanSync)
	if err := scheduler.RegisterAll(cfg.SyncCron, jobs.DefaultCleanupCron); err != nil {
		logrus.Fatalf("Failed to register cron tasks: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.SyncOnStart {
		go scheduler.RunSyncNow()
	}

	// Setup Fiber
	app := fiber.New(fiber.Config{
		AppName:      "ipo-aggregator",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	if cfg.AdminToken == "" {
		logrus.Warn("ADMIN_TOKEN is not set, admin routes are locked")
	}
	handlers.SetupRoutes(app, handlers.Handlers{
		Health:      handlers.NewHealthHandler(store, syncJob),
		IPO:         handlers.NewIPOHandler(ipoService),
		Aggregate:   handlers.NewAggregateHandler(aggregator, snapshots),
		Admin:       handlers.NewAdminHandler(syncJob),
		Performance: handlers.NewPerformanceHandler(store, ipoService, aggregator, snapshots),
	}, cfg.AdminToken)

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logrus.Infof("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.Fatalf("Server failed to start: %v", err)
	}

	for id, snapshot := range aggregator.Metrics().Snapshots() {
		logrus.WithFields(logrus.Fields{
			"source":       id,
			"requests":     snapshot.TotalRequests,
			"success_rate": snapshot.SuccessRate,
			"timeouts":     snapshot.TimeoutRequests,
		}).Info("Source metrics at shutdown")
	}
	ipoService.GetServiceMetrics().LogSummary()
}
