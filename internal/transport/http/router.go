package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/reclive/backend/internal/config"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/infrastructure/hoststats"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/reclive/backend/internal/transport/http/handlers"
	httpmw "github.com/reclive/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	Config   *config.Config
	Logger   *logger.Logger
	Recorder ports.RecordingService
	Groups   ports.GroupService
	Hub      ports.SubscriptionHub
	Stats    *hoststats.Collector
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	taskHandler := handlers.NewTaskHandler(cfg.Recorder, cfg.Logger.Named("tasks"))
	groupHandler := handlers.NewGroupHandler(cfg.Groups, cfg.Logger.Named("groups"))
	wsHandler := handlers.NewWSHandler(cfg.Hub, cfg.Recorder, cfg.Logger.Named("ws"))
	healthHandler := handlers.NewHealthHandler(cfg.Stats)

	app.Get("/health", healthHandler.Health)

	// Live task stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws", httpmw.AdminAuth(cfg.Config), httpmw.RequireUser(), websocket.New(wsHandler.Handle))

	// API v1 routes
	api := app.Group("/api/v1", httpmw.AdminAuth(cfg.Config), httpmw.RequireUser())

	tasks := api.Group("/tasks")
	tasks.Post("/", taskHandler.StartTask)
	tasks.Get("/", taskHandler.GetTasks)
	tasks.Get("/:id", taskHandler.GetTask)
	tasks.Get("/:id/history", taskHandler.GetHistory)
	tasks.Post("/:id/stop", taskHandler.StopTask)
	tasks.Post("/:id/input", taskHandler.SendInput)
	tasks.Delete("/:id", taskHandler.DeleteTask)

	groups := api.Group("/groups")
	groups.Post("/", groupHandler.StartGroup)
	groups.Get("/", groupHandler.GetGroups)
	groups.Get("/:id", groupHandler.GetGroup)
	groups.Post("/:id/stop", groupHandler.StopGroup)
	groups.Delete("/:id", groupHandler.DeleteGroup)

	api.Get("/system/stats", healthHandler.HostStats)
}
