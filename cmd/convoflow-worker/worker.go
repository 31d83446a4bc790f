package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/robfig/cron/v3"
)

type WorkerConfig struct {
	DrainSchedule     string
	DrainBatchSize    int
	EffectsSchedule   string
	EffectsBatchSize  int
	ReclaimSchedule   string
	VisibilityTimeout time.Duration
	PruneSchedule     string
	LedgerRetention   time.Duration
}

type Worker struct {
	id       string
	logger   *slog.Logger
	pipeline *cmd.Pipeline
	config   WorkerConfig
	cron     *cron.Cron
}

func NewWorker(id string, pipeline *cmd.Pipeline, logger *slog.Logger, config WorkerConfig) *Worker {
	return &Worker{
		id:       id,
		logger:   logger.With("module", "convoflow-worker", "worker_id", id),
		pipeline: pipeline,
		config:   config,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// Register schedules the periodic jobs and the dead-letter subscription.
func (w *Worker) Register(ctx context.Context) error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"drain", w.config.DrainSchedule, w.drain},
		{"effects", w.config.EffectsSchedule, w.drainEffects},
		{"reclaim", w.config.ReclaimSchedule, w.reclaim},
		{"prune", w.config.PruneSchedule, w.prune},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}

		run := job.run

		_, err := w.cron.AddFunc(job.schedule, func() { run(ctx) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}

		w.logger.InfoContext(ctx, "Scheduled job", "job", job.name, "schedule", job.schedule)
	}

	return w.pipeline.EventBus.Handle(events.JobDeadLetteredEvent, w.handleJobDeadLettered)
}

func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	err := w.Register(ctx)
	if err != nil {
		return err
	}

	err = w.pipeline.EventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.cron.Start()

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	<-w.cron.Stop().Done()

	return nil
}

// drain processes batches until the queue has no eligible job left.
func (w *Worker) drain(ctx context.Context) {
	total := 0

	for ctx.Err() == nil {
		processed, err := w.pipeline.Processor.ProcessBatch(ctx, w.config.DrainBatchSize)
		total += processed

		if err != nil {
			w.logger.ErrorContext(ctx, "Drain finished with errors", "processed", total, "error", err)

			return
		}

		if processed < w.config.DrainBatchSize {
			break
		}
	}

	if total > 0 {
		w.logger.InfoContext(ctx, "Drained jobs", "processed", total)
	}
}

func (w *Worker) drainEffects(ctx context.Context) {
	drained, err := w.pipeline.Dispatcher.DrainDue(ctx, w.config.EffectsBatchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to drain scheduled effects", "drained", drained, "error", err)

		return
	}

	if drained > 0 {
		w.logger.InfoContext(ctx, "Drained scheduled effects", "drained", drained)
	}
}

func (w *Worker) reclaim(ctx context.Context) {
	reclaimed, err := w.pipeline.Processor.ReclaimStale(ctx, w.config.VisibilityTimeout)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to reclaim stale jobs", "error", err)

		return
	}

	if reclaimed > 0 {
		w.logger.WarnContext(ctx, "Reclaimed stale jobs", "count", reclaimed)
	}
}

func (w *Worker) prune(ctx context.Context) {
	pruned, err := w.pipeline.Processor.PruneLedger(ctx, w.config.LedgerRetention)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to prune idempotency ledger", "error", err)

		return
	}

	w.logger.DebugContext(ctx, "Pruned idempotency ledger", "pruned", pruned)
}

func (w *Worker) handleJobDeadLettered(ctx context.Context, event any) error {
	deadLettered, ok := event.(*events.JobDeadLettered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for JobDeadLettered")

		return nil
	}

	w.logger.ErrorContext(ctx, "Job dead-lettered, operator requeue required",
		"job_id", deadLettered.JobID,
		"attempts", deadLettered.Attempts,
		"last_error", deadLettered.LastError,
	)

	return nil
}
