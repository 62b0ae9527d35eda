package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/reclive/backend/internal/infrastructure/hoststats"
)

type HealthHandler struct {
	stats *hoststats.Collector
}

func NewHealthHandler(stats *hoststats.Collector) *HealthHandler {
	return &HealthHandler{stats: stats}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// HostStats reports free space on the recording roots.
func (h *HealthHandler) HostStats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Collect(c.UserContext()))
}
