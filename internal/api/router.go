package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/health"
)

type Dependencies struct {
	Sampler *health.Sampler
	Alerts  *alert.Store
	Reports *health.ReportStore // optional; enables the latest-report endpoint
	History *alert.Repository   // optional; enables the alert history endpoint
	DB      *pgxpool.Pool       // optional; enables the readiness database ping
}

type Router struct {
	app    *fiber.App
	logger *slog.Logger
	deps   *Dependencies
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Sentinela Monitor",
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	var db *pgxpool.Pool
	if r.deps != nil {
		db = r.deps.DB
	}
	healthHandler := handler.NewHealthHandler(db)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps == nil {
		return
	}

	v1 := r.app.Group("/v1")

	monitorHandler := handler.NewMonitorHandler(r.deps.Sampler, r.deps.Reports, r.logger)
	v1.Get("/system/health", monitorHandler.GetSystemHealth)
	v1.Get("/units", monitorHandler.GetAllStatuses)
	v1.Get("/units/:unit_id", monitorHandler.GetUnitStatus)
	v1.Get("/units/:unit_id/trends", monitorHandler.GetUnitTrends)
	v1.Get("/reports/latest", monitorHandler.GetLatestReport)
	v1.Post("/checks", monitorHandler.ForceCheck)

	alertsHandler := handler.NewAlertsHandler(r.deps.Alerts, r.deps.History, r.logger)
	v1.Get("/alerts", alertsHandler.List)
	v1.Get("/alerts/stats", alertsHandler.Stats)
	v1.Get("/alerts/:id", alertsHandler.Get)
	v1.Get("/alerts/:id/history", alertsHandler.History)
	v1.Post("/alerts/:id/acknowledge", alertsHandler.Acknowledge)
	v1.Post("/alerts/:id/resolve", alertsHandler.Resolve)
	v1.Post("/alerts/:id/suppress", alertsHandler.Suppress)
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	return r.app.Shutdown()
}
