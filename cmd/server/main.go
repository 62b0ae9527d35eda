package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/reclive/backend/internal/config"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/core/services"
	"github.com/reclive/backend/internal/infrastructure/db"
	"github.com/reclive/backend/internal/infrastructure/hoststats"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/reclive/backend/internal/infrastructure/process"
	"github.com/reclive/backend/internal/infrastructure/remote"
	transporthttp "github.com/reclive/backend/internal/transport/http"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type stores struct {
	tasks   ports.TaskRepository
	groups  ports.TaskGroupRepository
	history ports.TaskHistoryRepository
	// database is nil for the memory driver.
	database *gorm.DB
}

type runtime struct {
	recorder *services.RecordingService
	groups   *services.GroupService
	hub      *services.BroadcastHub
	monitor  *services.FileSizeMonitor
	// janitor is nil when janitor.schedule is empty.
	janitor  *services.TempJanitor
}

func main() {
	configPath := "config/config.yaml"
	if env := os.Getenv("RECLIVE_CONFIG"); env != "" {
		configPath = env
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = "../config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	st, err := openStores(cfg, log)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	rt, err := buildRuntime(cfg, st, log)
	if err != nil {
		log.Fatalf("failed to build runtime: %v", err)
	}

	if cfg.Features.ReconcileOnStartup {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := rt.recorder.ReconcileOnStartup(ctx)
		cancel()
		if err != nil {
			log.Warnw("startup_reconcile_failed", "error", err)
		} else if n > 0 {
			log.Infow("startup_reconcile_ok", "resolved", n)
		}
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	var workers errgroup.Group
	workers.Go(func() error { return rt.hub.Run(runCtx) })
	workers.Go(func() error { return rt.monitor.Run(runCtx) })
	if rt.janitor != nil {
		workers.Go(func() error { return rt.janitor.Run(runCtx) })
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "http://localhost:3000"
	if len(cfg.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token, X-Username",
		AllowMethods: "GET, POST, HEAD, DELETE",
	}))

	app.Use(func(c *fiber.Ctx) error {
		hdr := cfg.Features.RequestIDHeader
		var reqID string
		if hdr != "" {
			reqID = c.Get(hdr)
		}
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.SetUserContext(context.WithValue(c.UserContext(), "request_id", reqID))
		if hdr != "" {
			c.Set(hdr, reqID)
		}
		return c.Next()
	})

	if cfg.Features.EnableRequestLogging {
		app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			routePath := ""
			if c.Route() != nil {
				routePath = c.Route().Path
			}
			log.Infow("http_access",
				"method", c.Method(),
				"path", c.Path(),
				"route", routePath,
				"status", c.Response().StatusCode(),
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", c.IP(),
				"user_agent", string(c.Request().Header.UserAgent()),
				"request_id", c.Locals("request_id"),
				"req_bytes", len(c.Request().Body()),
				"resp_bytes", len(c.Response().Body()),
			)
			return err
		})
	}

	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Config:   cfg,
		Logger:   log,
		Recorder: rt.recorder,
		Groups:   rt.groups,
		Hub:      rt.hub,
		Stats:    hoststats.NewCollector(cfg.Recorder.DownloadsRoot, cfg.Recorder.TempRoot),
	})

	addr := cfg.Server.Address()
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()
	log.Infof("server started on %s", addr)

	gracefulShutdown(app, rt, st, log, func() error {
		stopRun()
		return workers.Wait()
	})
}

func openStores(cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		mem := db.NewMemoryStore(log.Named("store"), cfg.Recorder.HistoryLimit)
		log.Warn("using in-memory store; tasks will not survive a restart")
		return &stores{tasks: mem.Tasks(), groups: mem.Groups(), history: mem.History()}, nil
	}

	database, err := db.NewConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Infow("database connection established", "driver", cfg.Database.Driver)

	if err := db.RunMigrations(database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")

	storeLog := log.Named("store")
	return &stores{
		tasks:    db.NewTaskRepository(database, storeLog),
		groups:   db.NewTaskGroupRepository(database, storeLog),
		history:  db.NewTaskHistoryRepository(database, storeLog, cfg.Recorder.HistoryLimit),
		database: database,
	}, nil
}

func buildRuntime(cfg *config.Config, st *stores, log *logger.Logger) (*runtime, error) {
	registry := services.NewActiveTaskRegistry()

	artifacts := services.NewArtifactService(services.ArtifactServiceConfig{
		DownloadsRoot: cfg.Recorder.DownloadsRoot,
		TempRoot:      cfg.Recorder.TempRoot,
		Logger:        log.Named("artifacts"),
		InUse:         registry.TempDirInUse,
	})

	hub := services.NewBroadcastHub(services.BroadcastHubConfig{
		History:       registry,
		Logger:        log.Named("hub"),
		FlushInterval: cfg.Hub.FlushInterval,
		PingInterval:  cfg.Hub.PingInterval,
		SendBuffer:    cfg.Hub.SendBuffer,
	})

	var exporter ports.ArtifactExporter
	if cfg.Export.Enabled {
		exporter = remote.NewSFTPExporter(remote.SFTPExporterConfig{
			SSH: remote.SSHConfig{
				Host:       cfg.Export.Host,
				Port:       cfg.Export.Port,
				User:       cfg.Export.User,
				Password:   cfg.Export.Password,
				PrivateKey: cfg.Export.PrivateKey,
				HostKey:    cfg.Export.HostKey,
				Timeout:    cfg.Export.Timeout,
			},
			RemoteDir: cfg.Export.RemoteDir,
			Logger:    log.Named("export"),
		})
	}

	recorder := services.NewRecordingService(services.RecordingServiceConfig{
		Tasks:     st.tasks,
		History:   st.history,
		Launcher:  process.NewLauncher(process.Config{StopGrace: cfg.Recorder.StopGrace, Logger: log.Named("process")}),
		Hub:       hub,
		Registry:  registry,
		Artifacts: artifacts,
		Exporter:  exporter,
		Recorder:  cfg.Recorder,
		Logger:    log.Named("recorder"),
	})

	groups := services.NewGroupService(services.GroupServiceConfig{
		Groups:      st.groups,
		Tasks:       st.tasks,
		Recorder:    recorder,
		Logger:      log.Named("groups"),
		EnableLocks: cfg.Features.EnableLocks,
	})
	recorder.SetGroupExitHook(groups.HandleMemberExit)

	monitor := services.NewFileSizeMonitor(services.FileSizeMonitorConfig{
		Registry:       registry,
		Tasks:          st.tasks,
		Hub:            hub,
		Artifacts:      artifacts,
		Interval:       cfg.Monitor.Interval,
		PersistTimeout: cfg.Recorder.PersistTimeout,
		Logger:         log.Named("monitor"),
	})

	rt := &runtime{recorder: recorder, groups: groups, hub: hub, monitor: monitor}
	if cfg.Janitor.Schedule != "" {
		janitor, err := services.NewTempJanitor(services.TempJanitorConfig{
			Artifacts: artifacts,
			Schedule:  cfg.Janitor.Schedule,
			MaxAge:    cfg.Janitor.MaxAge,
			Logger:    log.Named("janitor"),
		})
		if err != nil {
			return nil, err
		}
		rt.janitor = janitor
	}
	return rt, nil
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals("request_id"),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals("request_id"),
			)
		}

		msg := err.Error()
		if fe == nil {
			msg = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{
			"error": msg,
		})
	}
}

func gracefulShutdown(app *fiber.App, rt *runtime, st *stores, log *logger.Logger, stopWorkers func() error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	if err := rt.recorder.Shutdown(ctx); err != nil {
		log.Errorf("failed to stop recordings: %v", err)
	}

	if err := stopWorkers(); err != nil {
		log.Errorf("background worker failed: %v", err)
	}

	if st.database != nil {
		if err := db.Close(st.database); err != nil {
			log.Errorf("failed to close database connection: %v", err)
		}
	}

	log.Info("server exited gracefully")
}
