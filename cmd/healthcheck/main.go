// Command healthcheck calls every configured source once and the database,
// and prints a one-screen report. It exits non-zero when the system is
// unhealthy.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/config"
	"github.com/fenilmodi00/ipo-aggregator/database"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/scrapers"
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/sirupsen/logrus"
)

func main() {
	fmt.Printf("🏥 IPO Aggregator Health Check - %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Println(strings.Repeat("=", 50))

	cfg := config.LoadConfig()
	pipeline := cfg.Pipeline()
	// keep the report readable
	logrus.SetLevel(logrus.ErrorLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	healthScore := 0
	totalTests := 0

	// Sources
	sources, err := config.LoadSources(cfg.SourcesFile, cfg)
	if err != nil {
		fmt.Printf("❌ Source registry: FAILED (%v)\n", err)
		os.Exit(1)
	}
	registry, err := scrapers.BuildRegistry(sources, shared.NewHTTPClientFactory(pipeline.Aggregation.SourceTimeout), pipeline.Aggregation.MaxRetryAttempts)
	if err != nil {
		fmt.Printf("❌ Source registry: FAILED (%v)\n", err)
		os.Exit(1)
	}

	report := services.NewAggregator(registry, services.AggregatorOptions{
		SourceTimeout: pipeline.Aggregation.SourceTimeout,
	}).Aggregate(ctx)

	for _, status := range report.Statuses {
		totalTests++
		label := fmt.Sprintf("📡 %s/%s: ", status.Source, status.Kind)
		if status.Success {
			fmt.Printf("%s✅ OK (%d records, %dms)\n", label, status.Records, status.ResponseTimeMs)
			healthScore++
		} else {
			fmt.Printf("%s❌ FAILED (%s)\n", label, status.Error)
		}
	}
	fmt.Printf("🔗 Merged records: %d (key collisions: %d)\n", len(report.Records), report.KeyCollisions)

	// Database
	totalTests++
	fmt.Print("🗄️  Database: ")
	dialect, err := database.ParseDialect(cfg.DatabaseDriver)
	dsn := cfg.DatabaseURL
	if dsn == "" && dialect == database.DialectSQLite {
		dsn = "ipo.db"
	}
	if err == nil {
		if db, connErr := database.Connect(dialect, dsn, &pipeline.Database); connErr != nil {
			err = connErr
		} else {
			defer db.Close()
			store := database.NewSQLStore(db, dialect, &pipeline.Database)
			var ipos []models.StoredIPO
			if ipos, err = store.List(ctx, database.ListFilter{Limit: 500}); err == nil {
				fmt.Printf("✅ OK (%d stored IPOs)\n", len(ipos))
				healthScore++
			}
		}
	}
	if err != nil {
		fmt.Printf("❌ FAILED (%v)\n", err)
	}

	// Overall health
	fmt.Println(strings.Repeat("-", 50))
	healthPercent := float64(healthScore) / float64(totalTests) * 100

	if healthScore == totalTests {
		fmt.Printf("🎉 SYSTEM HEALTHY: %d/%d checks passed (%.0f%%)\n", healthScore, totalTests, healthPercent)
	} else if healthScore >= totalTests/2 {
		fmt.Printf("⚠️  SYSTEM DEGRADED: %d/%d checks passed (%.0f%%)\n", healthScore, totalTests, healthPercent)
	} else {
		fmt.Printf("❌ SYSTEM UNHEALTHY: %d/%d checks passed (%.0f%%)\n", healthScore, totalTests, healthPercent)
		os.Exit(1)
	}

	fmt.Printf("⏰ Check completed at: %s\n", time.Now().Format("15:04:05"))
}
