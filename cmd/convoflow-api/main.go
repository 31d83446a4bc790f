package main

import (
	"context"
	"os"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "convoflow-api",
		Usage:                 "Receive WhatsApp webhooks and operate the job queue",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-app-secret",
				Usage:   "App secret used to verify webhook signatures (empty disables the check)",
				Sources: cli.EnvVars("WHATSAPP_APP_SECRET"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-verify-token",
				Usage:   "Token expected by the webhook subscription handshake",
				Sources: cli.EnvVars("WHATSAPP_VERIFY_TOKEN"),
			},
		}, cmd.PipelineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger.InfoContext(ctx, "Initializing Convoflow API")

			pipeline, err := cmd.NewPipelineFromCommand(ctx, logger, command, "convoflow-api")
			if err != nil {
				return err
			}

			defer func() {
				err := pipeline.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close pipeline", "error", err)
				}
			}()

			api := NewAPI(logger, pipeline, web.WebhookConfig{
				AppSecret:   command.String("whatsapp-app-secret"),
				VerifyToken: command.String("whatsapp-verify-token"),
			})

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
