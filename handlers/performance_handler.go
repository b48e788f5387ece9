package handlers

import (
	"time"

	"github.com/fenilmodi00/ipo-aggregator/database"
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/gofiber/fiber/v2"
)

type PerformanceHandler struct {
	Store      *database.SQLStore
	IPOService *services.IPOService
	Aggregator *services.Aggregator
	Snapshots  *services.SnapshotCache
	Requests   *shared.PerformanceMetrics
}

func NewPerformanceHandler(store *database.SQLStore, ipoService *services.IPOService, aggregator *services.Aggregator, snapshots *services.SnapshotCache) *PerformanceHandler {
	return &PerformanceHandler{
		Store:      store,
		IPOService: ipoService,
		Aggregator: aggregator,
		Snapshots:  snapshots,
		Requests:   shared.NewPerformanceMetrics(),
	}
}

// TimeRequests records the latency of every request it wraps
func (h *PerformanceHandler) TimeRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.Requests.RecordProcessingTime(time.Since(start))
	return err
}

// GetPerformanceMetrics returns current performance metrics
func (h *PerformanceHandler) GetPerformanceMetrics(c *fiber.Ctx) error {
	metrics := fiber.Map{
		"requests":    h.Requests.GetPerformanceSnapshot(),
		"ipo_service": h.IPOService.GetServiceMetrics().GetSnapshot(),
		"sources":     h.Aggregator.Metrics().Snapshots(),
		"cache_size":  h.Snapshots.Cache().Size(),
	}

	if h.Store != nil {
		dbStats := h.Store.DB().Stats()
		metrics["database_stats"] = fiber.Map{
			"open_connections":     dbStats.OpenConnections,
			"in_use":               dbStats.InUse,
			"idle":                 dbStats.Idle,
			"wait_count":           dbStats.WaitCount,
			"wait_duration_ms":     dbStats.WaitDuration.Milliseconds(),
			"max_idle_closed":      dbStats.MaxIdleClosed,
			"max_idle_time_closed": dbStats.MaxIdleTimeClosed,
			"max_lifetime_closed":  dbStats.MaxLifetimeClosed,
		}
		metrics["database_metrics"] = h.Store.Metrics().Snapshot()
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    metrics,
	})
}

// ClearCache drops every cached snapshot and view
func (h *PerformanceHandler) ClearCache(c *fiber.Ctx) error {
	cache := h.Snapshots.Cache()
	removed := cache.Size()
	cache.DeletePrefix("")
	return c.JSON(fiber.Map{
		"success": true,
		"removed": removed,
	})
}
