package handlers

import (
	"crypto/subtle"
	"strings"

	"github.com/fenilmodi00/ipo-aggregator/jobs"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type AdminHandler struct {
	SyncJob *jobs.SyncJob
}

func NewAdminHandler(syncJob *jobs.SyncJob) *AdminHandler {
	return &AdminHandler{SyncJob: syncJob}
}

// TriggerSync runs a sync in the request. ?clean=true also archives IPOs
// that left the active window.
func (h *AdminHandler) TriggerSync(c *fiber.Ctx) error {
	clean := c.QueryBool("clean", false)
	logrus.WithFields(logrus.Fields{
		"component": "AdminHandler",
		"clean":     clean,
	}).Info("Manual sync triggered via admin endpoint")

	result, err := h.SyncJob.Run(c.UserContext(), jobs.SyncOptions{Clean: clean})

	status := fiber.StatusOK
	switch {
	case err == nil:
	case shared.HasCode(err, shared.CodeSyncInProgress):
		status = fiber.StatusConflict
	case shared.HasCode(err, shared.CodeTotalOutage):
		status = fiber.StatusServiceUnavailable
	default:
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(result)
}

// GetLastSync returns the result of the most recent run
func (h *AdminHandler) GetLastSync(c *fiber.Ctx) error {
	last := h.SyncJob.LastResult()
	if last == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "no sync has run yet",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    last,
	})
}

// RequireAdminToken accepts "Authorization: Bearer <token>" or
// "X-Admin-Token". An empty configured token locks the admin routes.
func RequireAdminToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		presented := c.Get("X-Admin-Token")
		if auth := c.Get(fiber.HeaderAuthorization); presented == "" && strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			logrus.WithFields(logrus.Fields{
				"component": "AdminHandler",
				"path":      c.Path(),
				"ip":        c.IP(),
			}).Warn("Rejected admin request")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "admin token required",
			})
		}
		return c.Next()
	}
}
