package handlers

import (
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/gofiber/fiber/v2"
)

// AggregateHandler serves the live merged view and the source health
type AggregateHandler struct {
	Aggregator *services.Aggregator
	Snapshots  *services.SnapshotCache
}

func NewAggregateHandler(aggregator *services.Aggregator, snapshots *services.SnapshotCache) *AggregateHandler {
	return &AggregateHandler{Aggregator: aggregator, Snapshots: snapshots}
}

// GetAggregate returns the merged and scored records. The snapshot is
// reused while fresh; ?refresh=true forces a pass.
func (h *AggregateHandler) GetAggregate(c *fiber.Ctx) error {
	snap := h.Snapshots.Aggregate(c.UserContext(), c.QueryBool("refresh", false))
	records := services.FilterRecords(snap.Report.Records, c.Query("status"))

	return c.JSON(fiber.Map{
		"success":       true,
		"data":          records,
		"count":         len(records),
		"stale":         snap.Stale,
		"totalOutage":   snap.Report.TotalOutage(),
		"keyCollisions": snap.Report.KeyCollisions,
		"statuses":      snap.Report.Statuses,
		"aggregatedAt":  snap.Report.CompletedAt,
	})
}

type sourceView struct {
	ID           models.SourceID        `json:"id"`
	Rank         int                    `json:"rank"`
	Capabilities []models.RecordKind    `json:"capabilities"`
	BreakerOpen  bool                   `json:"breakerOpen"`
	Metrics      shared.MetricsSnapshot `json:"metrics"`
	LastStatus   []models.SourceStatus  `json:"lastStatus"`
}

// GetSources lists every registered source with its metrics and the
// outcome of its calls in the last pass
func (h *AggregateHandler) GetSources(c *fiber.Ctx) error {
	var last []models.SourceStatus
	if report := h.Aggregator.LastReport(); report != nil {
		last = report.Statuses
	}

	entries := h.Aggregator.Registry().Entries()
	sources := make([]sourceView, 0, len(entries))
	for _, e := range entries {
		id := e.Scraper.ID()
		view := sourceView{
			ID:           id,
			Rank:         e.Rank,
			Capabilities: e.Scraper.Capabilities(),
			Metrics:      h.Aggregator.Metrics().For(string(id)).GetSnapshot(),
			LastStatus:   []models.SourceStatus{},
		}
		if b := h.Aggregator.Breaker(id); b != nil {
			view.BreakerOpen = b.IsOpen()
		}
		for _, s := range last {
			if s.Source == id {
				view.LastStatus = append(view.LastStatus, s)
			}
		}
		sources = append(sources, view)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sources,
		"count":   len(sources),
	})
}
