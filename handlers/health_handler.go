package handlers

import (
	"context"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/database"
	"github.com/fenilmodi00/ipo-aggregator/jobs"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	Store   database.Store
	SyncJob *jobs.SyncJob
}

func NewHealthHandler(store database.Store, syncJob *jobs.SyncJob) *HealthHandler {
	return &HealthHandler{Store: store, SyncJob: syncJob}
}

// GetHealth reports "ok", or "degraded" when the store does not answer.
// It answers 200 either way.
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := "ok"
	if err := h.Store.Ping(ctx); err != nil {
		status = "degraded"
		dbStatus = err.Error()
	}

	body := fiber.Map{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now().Unix(),
	}
	if h.SyncJob != nil {
		if last := h.SyncJob.LastResult(); last != nil {
			body["lastSync"] = last
		}
	}
	return c.JSON(body)
}
