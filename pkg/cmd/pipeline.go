package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/ai"
	"github.com/dukex/convoflow/pkg/chatbot"
	"github.com/dukex/convoflow/pkg/dispatch"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/processor"
	"github.com/dukex/convoflow/pkg/queue"
	"github.com/dukex/convoflow/pkg/seed"
	"github.com/dukex/convoflow/pkg/whatsapp"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
)

// PipelineConfig collects the settings shared by the API and the worker.
type PipelineConfig struct {
	ServiceName     string
	DatabaseURL     string
	EventBus        string
	RedisURL        string
	LedgerRetention time.Duration
	Concurrency     int

	WhatsAppURL   string
	WhatsAppToken string

	AIURL   string
	AIKey   string
	AIModel string

	Tracer trace.Tracer
}

// Pipeline is the wired set of components both binaries run.
type Pipeline struct {
	Store      persistence.Persistence
	EventBus   eventbus.EventBus
	Queue      *queue.Queue
	Engine     *flow.Engine
	Chatbots   *chatbot.Runtime
	Dispatcher *dispatch.Dispatcher
	Processor  *processor.Processor
	Validate   *validator.Validate

	coordination *Coordination
}

func NewPipeline(ctx context.Context, logger *slog.Logger, config PipelineConfig) (*Pipeline, error) {
	store, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	bus, err := NewEventBus(config.EventBus, config.ServiceName, logger)
	if err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	coordination, err := NewCoordination(ctx, logger, store, config.RedisURL, config.LedgerRetention)
	if err != nil {
		_ = bus.Close()
		_ = store.Close(ctx)

		return nil, err
	}

	var completer ai.Completer
	if config.AIURL != "" {
		completer = ai.NewClient(logger, ai.Config{
			BaseURL: config.AIURL,
			APIKey:  config.AIKey,
			Model:   config.AIModel,
		})
	}

	sender := whatsapp.NewClient(logger, whatsapp.Config{
		BaseURL:     config.WhatsAppURL,
		AccessToken: config.WhatsAppToken,
	})

	validate := validator.New(validator.WithRequiredStructEnabled())
	q := queue.New(logger, store.Jobs(), queue.WithPublisher(bus))
	engine := flow.NewEngine(logger)
	runtime := chatbot.NewRuntime(logger, completer, 0)
	dispatcher := dispatch.New(logger, sender, store, dispatch.WithLedger(coordination.Ledger))

	opts := []processor.Option{
		processor.WithLedger(coordination.Ledger),
		processor.WithLocker(coordination.Locker),
		processor.WithPublisher(bus),
		processor.WithChatbots(runtime),
		processor.WithConcurrency(config.Concurrency),
	}

	if config.Tracer != nil {
		opts = append(opts, processor.WithTracer(config.Tracer))
	}

	return &Pipeline{
		Store:        store,
		EventBus:     bus,
		Queue:        q,
		Engine:       engine,
		Chatbots:     runtime,
		Dispatcher:   dispatcher,
		Processor:    processor.New(logger, q, store, engine, dispatcher, validate, opts...),
		Validate:     validate,
		coordination: coordination,
	}, nil
}

// Seed loads a seed file into the pipeline store.
func (p *Pipeline) Seed(ctx context.Context, logger *slog.Logger, path string) error {
	file, err := seed.LoadFile(path, p.Validate)
	if err != nil {
		return err
	}

	return seed.Apply(ctx, logger, p.Store, file)
}

func (p *Pipeline) Close(ctx context.Context) error {
	return errors.Join(
		p.coordination.Close(),
		p.EventBus.Close(),
		p.Store.Close(ctx),
	)
}
