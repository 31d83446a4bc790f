// Package main provides the convoflow webhook and operator API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	pipeline *cmd.Pipeline
	webhook  web.WebhookConfig
}

func NewAPI(
	logger *slog.Logger,
	pipeline *cmd.Pipeline,
	webhook web.WebhookConfig,
) *API {
	return &API{
		logger:   logger,
		pipeline: pipeline,
		webhook:  webhook,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.logger,
		a.pipeline.Store,
		a.pipeline.Queue,
		a.pipeline.Processor,
		a.pipeline.Dispatcher,
		a.pipeline.Engine,
		a.pipeline.Chatbots,
		a.pipeline.Validate,
		a.webhook,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Convoflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
