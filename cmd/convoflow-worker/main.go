package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "convoflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Drain the webhook queue and run scheduled effects",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "drain-schedule",
				Usage:   "Cron schedule for draining the webhook queue",
				Value:   "@every 2s",
				Sources: cli.EnvVars("DRAIN_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "drain-batch-size",
				Usage:   "Jobs claimed per drain batch",
				Value:   50,
				Sources: cli.EnvVars("DRAIN_BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "effects-schedule",
				Usage:   "Cron schedule for running due delayed effects",
				Value:   "@every 10s",
				Sources: cli.EnvVars("EFFECTS_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "effects-batch-size",
				Usage:   "Delayed effect batches claimed per run",
				Value:   100,
				Sources: cli.EnvVars("EFFECTS_BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "reclaim-schedule",
				Usage:   "Cron schedule for reclaiming jobs held by vanished workers",
				Value:   "@every 1m",
				Sources: cli.EnvVars("RECLAIM_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "visibility-timeout",
				Usage:   "How long a job may stay in flight before it is reclaimed",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("VISIBILITY_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "prune-schedule",
				Usage:   "Cron schedule for pruning the idempotency ledger",
				Value:   "@hourly",
				Sources: cli.EnvVars("PRUNE_SCHEDULE"),
			},
		}, cmd.PipelineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("convoflow-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Convoflow Worker")

			pipeline, err := cmd.NewPipelineFromCommand(ctx, logger, command, "convoflow-worker")
			if err != nil {
				return err
			}

			defer func() {
				err := pipeline.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close pipeline", "error", err)
				}
			}()

			worker := NewWorker(workerID, pipeline, logger, WorkerConfig{
				DrainSchedule:     command.String("drain-schedule"),
				DrainBatchSize:    command.Int("drain-batch-size"),
				EffectsSchedule:   command.String("effects-schedule"),
				EffectsBatchSize:  command.Int("effects-batch-size"),
				ReclaimSchedule:   command.String("reclaim-schedule"),
				VisibilityTimeout: command.Duration("visibility-timeout"),
				PruneSchedule:     command.String("prune-schedule"),
				LedgerRetention:   command.Duration("ledger-retention"),
			})

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
