// Package processor drains the webhook queue: it dedupes, normalizes and
// routes each job, runs matching flows and dispatches their effects.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukex/convoflow/pkg/chatbot"
	"github.com/dukex/convoflow/pkg/dispatch"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/queue"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// Abort reasons carried by FlowRunAborted events.
const (
	AbortReasonConfiguration = "configuration_error"
	AbortReasonInfiniteLoop  = "infinite_loop"
	AbortReasonPanic         = "panic"
)

var ErrInvalidEvent = errors.New("invalid inbound event")

type Processor struct {
	queue      *queue.Queue
	store      persistence.Persistence
	ledger     persistence.Ledger
	engine     *flow.Engine
	dispatcher *dispatch.Dispatcher
	chatbots   *chatbot.Runtime
	publisher  eventbus.EventPublisher
	locker     ContactLocker
	validate   *validator.Validate
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time

	concurrency int
}

// Option configures a Processor.
type Option func(*Processor)

// WithLedger replaces the ledger of the store, e.g. with the Redis ledger.
func WithLedger(ledger persistence.Ledger) Option {
	return func(p *Processor) {
		p.ledger = ledger
	}
}

// WithLocker replaces the in-process contact locker.
func WithLocker(locker ContactLocker) Option {
	return func(p *Processor) {
		p.locker = locker
	}
}

// WithPublisher publishes pipeline events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(p *Processor) {
		p.publisher = publisher
	}
}

// WithChatbots enables the chatbot fallback for messages no flow matched.
func WithChatbots(runtime *chatbot.Runtime) Option {
	return func(p *Processor) {
		p.chatbots = runtime
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) {
		p.tracer = tracer
	}
}

// WithConcurrency bounds the number of contacts processed in parallel.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func New(
	logger *slog.Logger,
	q *queue.Queue,
	store persistence.Persistence,
	engine *flow.Engine,
	dispatcher *dispatch.Dispatcher,
	validate *validator.Validate,
	opts ...Option,
) *Processor {
	p := &Processor{
		queue:       q,
		store:       store,
		ledger:      store.Ledger(),
		engine:      engine,
		dispatcher:  dispatcher,
		locker:      NewLocalLocker(),
		validate:    validate,
		tracer:      otelhelper.NewNoopTracer(),
		logger:      logger.With("module", "processor"),
		now:         func() time.Time { return time.Now().UTC() },
		concurrency: defaultConcurrency,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ProcessBatch claims up to maxJobs jobs and settles each of them. Jobs of
// the same contact run sequentially in claim order; contacts run in
// parallel. It returns the number of jobs settled.
func (p *Processor) ProcessBatch(ctx context.Context, maxJobs int) (int, error) {
	jobs, err := p.queue.DequeueBatch(ctx, maxJobs)
	if err != nil {
		return 0, err
	}

	if len(jobs) == 0 {
		return 0, nil
	}

	var (
		processed atomic.Int64
		g         errgroup.Group
	)

	g.SetLimit(p.concurrency)

	for _, group := range groupByContact(jobs) {
		g.Go(func() error {
			return p.processGroup(ctx, group, &processed)
		})
	}

	err = g.Wait()

	p.logger.InfoContext(ctx, "Batch processed", "claimed", len(jobs), "processed", processed.Load())

	return int(processed.Load()), err
}

type jobGroup struct {
	key  string
	jobs []*models.QueuedJob
}

func groupByContact(jobs []*models.QueuedJob) []*jobGroup {
	index := map[string]*jobGroup{}
	groups := make([]*jobGroup, 0)

	for _, job := range jobs {
		key := job.InternalRef
		if key == "" {
			key = "job:" + job.ID
		}

		group, ok := index[key]
		if !ok {
			group = &jobGroup{key: key}
			index[key] = group
			groups = append(groups, group)
		}

		group.jobs = append(group.jobs, job)
	}

	return groups
}

func (p *Processor) processGroup(ctx context.Context, group *jobGroup, processed *atomic.Int64) error {
	unlock, err := p.locker.Lock(ctx, group.key)
	if err != nil {
		// Claimed jobs go back through the backoff path rather than staying in flight.
		for _, job := range group.jobs {
			failErr := p.queue.Fail(ctx, job.ID, err)
			if failErr != nil {
				p.logger.ErrorContext(ctx, "Failed to release job", "job_id", job.ID, "error", failErr)
			}
		}

		return fmt.Errorf("failed to lock contact %s: %w", group.key, err)
	}
	defer unlock()

	var errs []error

	for _, job := range group.jobs {
		_, err := p.queue.Run(ctx, job, p.handle)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		processed.Add(1)
	}

	return errors.Join(errs...)
}

// handle is the queue handler. The ledger mark of a job that did not succeed
// is released so the retry is processed.
func (p *Processor) handle(ctx context.Context, job *models.QueuedJob) (result queue.Result) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "processor.handle",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.Int(otelhelper.JobAttemptsKey, job.Attempts),
		attribute.String(otelhelper.ContactKey, job.InternalRef),
	)
	defer span.End()

	logger := p.logger.With("job_id", job.ID, "contact", job.InternalRef)

	isNew, err := p.ledger.MarkIfNew(ctx, job.ID)
	if err != nil {
		otelhelper.SetError(span, err)

		return queue.Retry(fmt.Errorf("failed to check ledger: %w", err))
	}

	if !isNew {
		logger.DebugContext(ctx, "Duplicate event skipped")

		return queue.Ok()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Job processing panicked", "panic", r)
			result = queue.Retry(fmt.Errorf("%w: %v", queue.ErrHandlerPanicked, r))
		}

		otelhelper.SetOutcome(span, result.Outcome.String())

		if result.Outcome == queue.OutcomeOk {
			return
		}

		otelhelper.SetError(span, result.Err)

		err := p.ledger.Release(ctx, job.ID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to release ledger mark", "error", err)
		}
	}()

	return p.process(ctx, logger, span, job)
}

func (p *Processor) process(ctx context.Context, logger *slog.Logger, span trace.Span, job *models.QueuedJob) queue.Result {
	event, err := p.decode(job.Payload)
	if err != nil {
		logger.WarnContext(ctx, "Failed to normalize event", "error", err)

		return queue.Retry(err)
	}

	span.SetAttributes(attribute.String(otelhelper.EventKindKey, string(event.Kind)))

	account, err := p.store.Accounts().ByPhoneNumberID(ctx, event.PhoneNumberID)
	if err != nil {
		if persistence.IsAccountNotFound(err) {
			logger.WarnContext(ctx, "No account owns the phone number", "phone_number_id", event.PhoneNumberID)

			return queue.Fatal(fmt.Errorf("phone number %s: %w", event.PhoneNumberID, err))
		}

		return queue.Retry(fmt.Errorf("failed to resolve account: %w", err))
	}

	span.SetAttributes(attribute.String(otelhelper.OwnerIDKey, account.ID))
	logger = logger.With("owner_id", account.ID)

	switch event.Kind {
	case models.EventKindMessage:
		return p.handleMessage(ctx, logger, account, event)
	case models.EventKindStatusUpdate:
		return p.handleStatus(ctx, logger, account, event)
	default:
		return queue.Fatal(fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, event.Kind))
	}
}

func (p *Processor) decode(payload []byte) (*models.InboundEvent, error) {
	var event models.InboundEvent

	err := json.Unmarshal(payload, &event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	err = p.validate.Struct(&event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	return &event, nil
}

func (p *Processor) handleMessage(ctx context.Context, logger *slog.Logger, account *models.Account, event *models.InboundEvent) queue.Result {
	contact, err := p.store.Contacts().Upsert(ctx, account.ID, event.ContactRef, event.ContactName)
	if err != nil {
		return queue.Retry(fmt.Errorf("failed to upsert contact: %w", err))
	}

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}

	inbound := &models.Message{
		ID:                uuid.NewString(),
		OwnerID:           account.ID,
		ContactID:         contact.ID,
		ProviderMessageID: event.ProviderEventID,
		Direction:         models.DirectionInbound,
		Body:              event.Text,
		Status:            models.DeliveryStatusReceived,
		CreatedAt:         receivedAt,
		UpdatedAt:         receivedAt,
	}

	_, err = p.store.Messages().Save(ctx, inbound)
	if err != nil {
		return queue.Retry(fmt.Errorf("failed to save inbound message: %w", err))
	}

	flows, err := p.store.Flows().ActiveByOwner(ctx, account.ID)
	if err != nil {
		return queue.Retry(fmt.Errorf("failed to load flows: %w", err))
	}

	target := dispatch.Target{OwnerID: account.ID, PhoneNumberID: account.PhoneNumberID, Contact: contact}
	payload := flow.TriggerPayload(event)
	matched := 0

	for _, f := range flows {
		graph, err := flow.Compile(f)
		if err != nil {
			p.recordRun(ctx, logger, account, contact, event, f.ID, flow.RunResult{
				Status: models.RunStatusAborted,
				Err:    err,
			})

			continue
		}

		ok, err := flow.MatchTrigger(graph, event, contact)
		if err != nil {
			p.recordRun(ctx, logger, account, contact, event, f.ID, flow.RunResult{
				Status: models.RunStatusAborted,
				Err:    err,
			})

			continue
		}

		if !ok {
			continue
		}

		matched++

		result := p.engine.Run(graph, contact, payload)
		p.recordRun(ctx, logger, account, contact, event, f.ID, result)

		if !result.Completed() {
			continue
		}

		target.FlowID = f.ID
		target.Key = dispatch.EffectKey(event.ProviderEventID, f.ID)

		_, err = p.dispatcher.Dispatch(ctx, target, result.Effects)
		if err != nil {
			return queue.Retry(fmt.Errorf("failed to dispatch effects of flow %s: %w", f.ID, err))
		}
	}

	if matched == 0 {
		err = p.reply(ctx, logger, account, target, event)
		if err != nil {
			return queue.Retry(err)
		}
	}

	p.publish(ctx, contact.ID, events.MessageReceived{
		BaseEvent:         events.NewBaseEvent(events.MessageReceivedEvent, account.ID),
		MessageID:         inbound.ID,
		ProviderMessageID: event.ProviderEventID,
		ContactID:         contact.ID,
		MatchedFlows:      matched,
	})

	logger.InfoContext(ctx, "Message processed", "contact_id", contact.ID, "matched_flows", matched)

	return queue.Ok()
}

// reply answers with the active chatbot of the owner, if any.
func (p *Processor) reply(ctx context.Context, logger *slog.Logger, account *models.Account, target dispatch.Target, event *models.InboundEvent) error {
	if p.chatbots == nil || event.Text == "" {
		return nil
	}

	bot, err := p.store.Chatbots().ActiveByOwner(ctx, account.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrChatbotNotFound) {
			return nil
		}

		logger.WarnContext(ctx, "Failed to load chatbot", "error", err)

		return nil
	}

	text, ok := p.chatbots.Reply(ctx, bot, event.Text)
	if !ok {
		return nil
	}

	target.FlowID = ""
	target.Key = dispatch.EffectKey(event.ProviderEventID, "")

	_, err = p.dispatcher.Dispatch(ctx, target, []models.Effect{models.SendMessage{Text: text}})
	if err != nil {
		return fmt.Errorf("failed to dispatch chatbot reply: %w", err)
	}

	return nil
}

func (p *Processor) recordRun(
	ctx context.Context,
	logger *slog.Logger,
	account *models.Account,
	contact *models.Contact,
	event *models.InboundEvent,
	flowID string,
	result flow.RunResult,
) {
	run := &models.FlowRun{
		ID:          uuid.NewString(),
		FlowID:      flowID,
		OwnerID:     account.ID,
		ContactID:   contact.ID,
		EventID:     event.ProviderEventID,
		Status:      result.Status,
		EffectCount: len(result.Effects),
		CreatedAt:   p.now(),
	}

	if result.Context != nil {
		run.VisitedHops = result.Context.VisitedHops
	}

	if result.Err != nil {
		run.Error = result.Err.Error()
	}

	trace.SpanFromContext(ctx).AddEvent("flow_run", trace.WithAttributes(
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.RunStatusKey, string(run.Status)),
	))

	err := p.store.FlowRuns().Save(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save flow run", "flow_id", flowID, "error", err)
	}

	if result.Completed() {
		p.publish(ctx, contact.ID, events.FlowRunCompleted{
			BaseEvent:   events.NewBaseEvent(events.FlowRunCompletedEvent, account.ID),
			RunID:       run.ID,
			FlowID:      flowID,
			ContactID:   contact.ID,
			VisitedHops: run.VisitedHops,
			EffectCount: run.EffectCount,
		})

		return
	}

	logger.WarnContext(ctx, "Flow run aborted", "flow_id", flowID, "error", run.Error)

	p.publish(ctx, contact.ID, events.FlowRunAborted{
		BaseEvent:   events.NewBaseEvent(events.FlowRunAbortedEvent, account.ID),
		RunID:       run.ID,
		FlowID:      flowID,
		ContactID:   contact.ID,
		VisitedHops: run.VisitedHops,
		Reason:      abortReason(result.Err),
		Error:       run.Error,
	})
}

func abortReason(err error) string {
	switch {
	case flow.IsInfiniteLoop(err):
		return AbortReasonInfiniteLoop
	case errors.Is(err, flow.ErrRunPanicked):
		return AbortReasonPanic
	default:
		return AbortReasonConfiguration
	}
}

func (p *Processor) handleStatus(ctx context.Context, logger *slog.Logger, account *models.Account, event *models.InboundEvent) queue.Result {
	at := event.ReceivedAt
	if at.IsZero() {
		at = p.now()
	}

	applied, err := p.store.Messages().AdvanceStatus(ctx, event.MessageRef, event.Status, at)
	if err != nil {
		if persistence.IsMessageNotFound(err) {
			// The outbound row may not be committed yet.
			return queue.Retry(fmt.Errorf("status %s for message %s: %w", event.Status, event.MessageRef, err))
		}

		return queue.Retry(fmt.Errorf("failed to advance message status: %w", err))
	}

	if !applied {
		logger.DebugContext(ctx, "Stale status ignored", "message_ref", event.MessageRef, "status", event.Status)
	}

	p.publish(ctx, event.ContactRef, events.MessageStatusUpdated{
		BaseEvent:         events.NewBaseEvent(events.MessageStatusUpdatedEvent, account.ID),
		ProviderMessageID: event.MessageRef,
		Status:            string(event.Status),
		Applied:           applied,
	})

	return queue.Ok()
}

func (p *Processor) publish(ctx context.Context, key string, event eventbus.Event) {
	if p.publisher == nil {
		return
	}

	err := p.publisher.Publish(ctx, key, event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// ReclaimStale returns jobs held in flight for longer than olderThan to the
// queue and forgets their ledger marks, since their worker never settled them.
func (p *Processor) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := p.queue.ReclaimStale(ctx, olderThan)

	for _, job := range jobs {
		releaseErr := p.ledger.Release(ctx, job.ID)
		if releaseErr != nil {
			p.logger.ErrorContext(ctx, "Failed to release ledger mark", "job_id", job.ID, "error", releaseErr)
		}
	}

	return len(jobs), err
}

// PruneLedger forgets ledger marks older than retention.
func (p *Processor) PruneLedger(ctx context.Context, retention time.Duration) (int64, error) {
	pruned, err := p.ledger.Prune(ctx, p.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}

	return pruned, nil
}
