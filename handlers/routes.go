package handlers

import "github.com/gofiber/fiber/v2"

// Handlers groups everything SetupRoutes mounts
type Handlers struct {
	Health      *HealthHandler
	IPO         *IPOHandler
	Aggregate   *AggregateHandler
	Admin       *AdminHandler
	Performance *PerformanceHandler
}

// SetupRoutes mounts the API on app. Admin routes require adminToken.
func SetupRoutes(app *fiber.App, h Handlers, adminToken string) {
	if h.Performance != nil {
		app.Use(h.Performance.TimeRequests)
	}

	app.Get("/health", h.Health.GetHealth)

	api := app.Group("/api/v1")

	// IPO Routes
	api.Get("/ipos", h.IPO.GetIPOs)
	api.Get("/ipos/:symbol", h.IPO.GetIPOBySymbol)
	api.Get("/ipos/:symbol/analysis", h.IPO.GetIPOAnalysis)
	api.Get("/ipos/:symbol/history", h.IPO.GetIPOHistory)

	// Aggregation Routes
	api.Get("/aggregate", h.Aggregate.GetAggregate)
	api.Get("/sources", h.Aggregate.GetSources)

	// Admin Routes
	admin := api.Group("/admin", RequireAdminToken(adminToken))
	admin.Post("/sync", h.Admin.TriggerSync)
	admin.Get("/sync", h.Admin.GetLastSync)

	// Performance Routes
	if h.Performance != nil {
		perf := admin.Group("/performance")
		perf.Get("/metrics", h.Performance.GetPerformanceMetrics)
		perf.Delete("/cache", h.Performance.ClearCache)
	}
}
