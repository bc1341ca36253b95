package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
	"github.com/ManuelReschke/marketsub/internal/pkg/cache"
	"github.com/ManuelReschke/marketsub/internal/pkg/config"
	"github.com/ManuelReschke/marketsub/internal/pkg/database"
	"github.com/ManuelReschke/marketsub/internal/pkg/entitlements"
	"github.com/ManuelReschke/marketsub/internal/pkg/env"
	"github.com/ManuelReschke/marketsub/internal/pkg/jobqueue"
	"github.com/ManuelReschke/marketsub/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/marketsub/internal/pkg/router"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

func main() {
	app, jobs, cfg := NewApplication()
	jobs.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[Server] Shutting down")
		jobs.Stop()
		if err := app.Shutdown(); err != nil {
			log.Errorf("[Server] Shutdown error: %v", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort)); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires storage, services, background jobs and routes.
func NewApplication() (*fiber.App, *jobqueue.Manager, config.Config) {
	if err := env.SetupEnvFile(); err != nil {
		log.Info("[Server] No .env file found, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	database.SetupDatabase(cfg.Database)
	rdb := cache.SetupCache(cfg.Cache)

	counters := counter.New(rdb)
	subs := subscriptions.NewServiceFromDB(database.GetDB(), subscriptions.WithRecorder(counters))
	jobs := jobqueue.NewManager(cfg.Jobs, rdb, subs)

	// With async processing the handler hands inbox rows to the queue,
	// which applies them through the same handler.
	var enqueuer billing.Enqueuer
	if cfg.Jobs.OrderEventsAsync {
		enqueuer = jobs.GetQueue()
	}
	events := billing.NewHandlerFromDB(database.GetDB(), subs, enqueuer)
	jobs.ProcessOrderEventsWith(events)

	app := fiber.New(fiber.Config{
		AppName:   "marketsub",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if path := findOpenAPIFile(); path != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: path,
			Path:     "v1",
			Title:    "marketsub API",
		}))
	}

	router.InstallRouter(app, router.Deps{
		Config:         cfg,
		Subscriptions:  subs,
		Entitlements:   entitlements.NewService(subs),
		Events:         events,
		Jobs:           jobs,
		Counters:       counters,
		LimiterStorage: router.NewLimiterStorage(cfg.Cache),
	})

	return app, jobs, cfg
}

func findOpenAPIFile() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/marketsub to project root
		"../../../", // Fallback
	}
	for _, base := range basePaths {
		path := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	log.Warn("[Server] OpenAPI document not found, /docs/api disabled")
	return ""
}
