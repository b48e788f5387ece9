package handlers

import (
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/gofiber/fiber/v2"
)

type IPOHandler struct {
	Service *services.IPOService
}

func NewIPOHandler(service *services.IPOService) *IPOHandler {
	return &IPOHandler{Service: service}
}

// GetIPOs lists stored IPOs. It always answers 200; the stale flag tells
// the client the store could not be read.
func (h *IPOHandler) GetIPOs(c *fiber.Ctx) error {
	list := h.Service.ListIPOs(c.UserContext(), c.Query("status"), c.QueryInt("limit", services.DefaultListLimit))
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       list.IPOs,
		"count":      list.Count,
		"stale":      list.Stale,
		"servedFrom": list.ServedFrom,
	})
}

func (h *IPOHandler) GetIPOBySymbol(c *fiber.Ctx) error {
	view, err := h.Service.GetIPO(c.UserContext(), c.Params("symbol"))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       view.IPO,
		"stale":      view.Stale,
		"servedFrom": view.ServedFrom,
	})
}

func (h *IPOHandler) GetIPOAnalysis(c *fiber.Ctx) error {
	analysis, err := h.Service.AnalyzeIPO(c.UserContext(), c.Params("symbol"))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    analysis,
	})
}

func (h *IPOHandler) GetIPOHistory(c *fiber.Ctx) error {
	entries, err := h.Service.History(c.UserContext(), c.Params("symbol"), c.QueryInt("limit", services.DefaultListLimit))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

// readError maps a read failure to 404 or 503; reads never answer 500
func readError(c *fiber.Ctx, err error) error {
	if shared.HasCode(err, shared.CodeRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"success": false,
		"error":   "IPO store unavailable",
	})
}
