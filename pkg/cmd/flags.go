package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/whatsapp"
	cli "github.com/urfave/cli/v3"
)

// PipelineFlags are the flags shared by every binary that runs the pipeline.
func PipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://, memory://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the idempotency ledger and contact locks (empty uses the database)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "ledger-retention",
			Usage:   "How long processed event IDs are remembered",
			Value:   7 * 24 * time.Hour,
			Sources: cli.EnvVars("LEDGER_RETENTION"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Maximum contacts processed in parallel per batch",
			Value:   8,
			Sources: cli.EnvVars("CONCURRENCY"),
		},
		&cli.StringFlag{
			Name:    "whatsapp-api-url",
			Usage:   "WhatsApp Cloud API base URL",
			Value:   whatsapp.DefaultBaseURL,
			Sources: cli.EnvVars("WHATSAPP_API_URL"),
		},
		&cli.StringFlag{
			Name:    "whatsapp-token",
			Usage:   "WhatsApp Cloud API access token",
			Sources: cli.EnvVars("WHATSAPP_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "ai-api-url",
			Usage:   "Chat completion API base URL (empty disables AI chatbots)",
			Sources: cli.EnvVars("AI_API_URL"),
		},
		&cli.StringFlag{
			Name:    "ai-api-key",
			Usage:   "Chat completion API key",
			Sources: cli.EnvVars("AI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "ai-model",
			Usage:   "Chat completion model",
			Sources: cli.EnvVars("AI_MODEL"),
		},
		&cli.StringFlag{
			Name:    "seed-file",
			Usage:   "YAML file with accounts, flows and chatbots to load at startup",
			Sources: cli.EnvVars("SEED_FILE"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// NewPipelineFromCommand builds a Pipeline from the flags declared by PipelineFlags.
func NewPipelineFromCommand(ctx context.Context, logger *slog.Logger, command *cli.Command, serviceName string) (*Pipeline, error) {
	tracer := otelhelper.NewNoopTracer()

	if command.Bool("otel-enabled") {
		var err error

		tracer, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, err
		}
	}

	pipeline, err := NewPipeline(ctx, logger, PipelineConfig{
		ServiceName:     serviceName,
		DatabaseURL:     command.String("database-url"),
		EventBus:        command.String("event-bus"),
		RedisURL:        command.String("redis-url"),
		LedgerRetention: command.Duration("ledger-retention"),
		Concurrency:     command.Int("concurrency"),
		WhatsAppURL:     command.String("whatsapp-api-url"),
		WhatsAppToken:   command.String("whatsapp-token"),
		AIURL:           command.String("ai-api-url"),
		AIKey:           command.String("ai-api-key"),
		AIModel:         command.String("ai-model"),
		Tracer:          tracer,
	})
	if err != nil {
		return nil, err
	}

	if path := command.String("seed-file"); path != "" {
		err = pipeline.Seed(ctx, logger, path)
		if err != nil {
			_ = pipeline.Close(ctx)

			return nil, err
		}
	}

	return pipeline, nil
}
