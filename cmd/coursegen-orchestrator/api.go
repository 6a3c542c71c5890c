// Package main provides the coursegen orchestrator API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/corpacademy/coursegen/pkg/agent"
	"github.com/corpacademy/coursegen/pkg/config"
	"github.com/corpacademy/coursegen/pkg/orchestrator"
	"github.com/corpacademy/coursegen/pkg/store"
	"github.com/corpacademy/coursegen/pkg/web"
)

type API struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	agents       *agent.Client
	store        store.Store
	cfg          config.Config
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	orch *orchestrator.Orchestrator,
	agents *agent.Client,
	workflowStore store.Store,
	cfg config.Config,
) *API {
	return &API{
		logger:       logger,
		orchestrator: orch,
		agents:       agents,
		store:        workflowStore,
		cfg:          cfg,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.orchestrator, a.agents, a.store, a.cfg, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Coursegen Orchestrator")
	})

	app.Post("/orchestrate-course", handlers.OrchestrateCourse)
	app.Post("/orchestrate-course-async", handlers.OrchestrateCourseAsync)

	app.Get("/workflow/:id", handlers.GetWorkflow)
	app.Delete("/workflow/:id", handlers.CancelWorkflow)
	app.Get("/workflows", handlers.ListWorkflows)

	agents := app.Group("/agents")
	agents.Get("/health", handlers.AgentsHealth)
	agents.Get("/ping", handlers.AgentsPing)
	agents.Get("/capabilities", handlers.AgentsCapabilities)

	app.Get("/metrics", handlers.Metrics)
	app.Get("/config", handlers.GetConfig)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
