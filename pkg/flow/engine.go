package flow

import (
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/template"
)

// DefaultMaxHops bounds the number of node transitions of a single run.
const DefaultMaxHops = 100

// Engine walks flow graphs. It performs no I/O: effects are returned to the
// caller, which hands them to a dispatcher only when the run completed.
type Engine struct {
	logger  *slog.Logger
	maxHops int
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxHops overrides DefaultMaxHops.
func WithMaxHops(maxHops int) Option {
	return func(e *Engine) {
		e.maxHops = maxHops
	}
}

// WithClock overrides the clock used to resolve relative delays.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		logger:  logger.With("module", "flow_engine"),
		maxHops: DefaultMaxHops,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// RunResult is the outcome of one run. Effects is empty unless Status is
// completed.
type RunResult struct {
	Status  models.RunStatus
	Context *models.ExecutionContext
	Effects []models.Effect
	Err     error
}

// Completed reports whether the run finished without aborting.
func (r RunResult) Completed() bool {
	return r.Status == models.RunStatusCompleted
}

// RunFlow compiles flow and runs it. A flow that fails to compile aborts with
// its ConfigurationError.
func (e *Engine) RunFlow(flow *models.FlowGraph, contact *models.Contact, payload map[string]any) RunResult {
	graph, err := Compile(flow)
	if err != nil {
		execCtx := newExecutionContext(flow.ID, contact, payload)

		return e.abort(execCtx, err)
	}

	return e.Run(graph, contact, payload)
}

// Run executes a compiled graph for contact.
func (e *Engine) Run(graph *Graph, contact *models.Contact, payload map[string]any) (result RunResult) {
	execCtx := newExecutionContext(graph.ID(), contact, payload)
	logger := e.logger.With("flow_id", graph.ID(), "contact_id", execCtx.ContactID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Flow run panicked", "panic", r)
			result = e.abort(execCtx, fmt.Errorf("%w: %v", ErrRunPanicked, r))
		}
	}()

	current := graph.Trigger().ID

	for {
		node, ok := graph.Node(current)
		if !ok {
			return e.abort(execCtx, configError(graph.ID(), current, ErrDanglingEdge))
		}

		next, hasNext, err := e.step(graph, node, execCtx)
		if err != nil {
			return e.abort(execCtx, err)
		}

		if !hasNext {
			logger.Debug("Flow run completed", "hops", execCtx.VisitedHops, "effects", len(execCtx.Effects))

			return RunResult{
				Status:  models.RunStatusCompleted,
				Context: execCtx,
				Effects: execCtx.Effects,
			}
		}

		if execCtx.VisitedHops >= e.maxHops {
			logger.Warn("Flow run exceeded hop limit", "hops", execCtx.VisitedHops, "node_id", current)

			return e.abort(execCtx, fmt.Errorf("%w: %d hops at node %s", ErrInfiniteLoop, e.maxHops, current))
		}

		execCtx.VisitedHops++
		current = next
	}
}

func (e *Engine) step(graph *Graph, node *models.Node, execCtx *models.ExecutionContext) (string, bool, error) {
	switch body := node.Body.(type) {
	case models.TriggerNode:
		next, ok := graph.Next(node.ID)

		return next, ok, nil
	case models.ConditionNode:
		p, err := parsePredicate(body)
		if err != nil {
			return "", false, configError(graph.ID(), node.ID, err)
		}

		next, ok := graph.Branch(node.ID, p.evaluate(execCtx))

		return next, ok, nil
	case models.ActionNode:
		effect, err := e.action(body, execCtx)
		if err != nil {
			return "", false, configError(graph.ID(), node.ID, err)
		}

		execCtx.Effects = append(execCtx.Effects, effect)
		next, ok := graph.Next(node.ID)

		return next, ok, nil
	case models.MessageNode:
		execCtx.Effects = append(execCtx.Effects, models.SendMessage{
			Text: template.Render(body.Text, execCtx.Variables),
		})
		next, ok := graph.Next(node.ID)

		return next, ok, nil
	default:
		return "", false, configError(graph.ID(), node.ID, fmt.Errorf("%w: %s", ErrNodeKindNotAllowed, node.Kind()))
	}
}

func (e *Engine) action(node models.ActionNode, execCtx *models.ExecutionContext) (models.Effect, error) {
	switch node.ActionType {
	case models.ActionTypeSendMessage:
		text, err := requiredString(node.Config, "text")
		if err != nil {
			return nil, err
		}

		return models.SendMessage{Text: template.Render(text, execCtx.Variables)}, nil
	case models.ActionTypeSetVariable:
		name, err := requiredString(node.Config, "name")
		if err != nil {
			return nil, err
		}

		raw, _ := configString(node.Config, "value")
		value := template.Render(raw, execCtx.Variables)
		execCtx.Variables[name] = value

		return models.SetVariable{Name: name, Value: value}, nil
	case models.ActionTypeAddTag:
		tag, err := requiredString(node.Config, "tag")
		if err != nil {
			return nil, err
		}

		return models.AddTag{Tag: tag}, nil
	case models.ActionTypeDelay:
		return e.delay(node.Config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, node.ActionType)
	}
}

func (e *Engine) delay(config map[string]any) (models.Effect, error) {
	if raw, ok := configString(config, "until"); ok {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: until", ErrInvalidConfigField)
		}

		return models.DelayUntil{Until: until.UTC()}, nil
	}

	d, ok, err := configDuration(config)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: until or duration", ErrMissingConfigField)
	}

	if d <= 0 {
		return nil, fmt.Errorf("%w: delay must be positive", ErrInvalidConfigField)
	}

	return models.DelayUntil{Until: e.now().UTC().Add(d)}, nil
}

func (e *Engine) abort(execCtx *models.ExecutionContext, err error) RunResult {
	execCtx.Effects = nil

	return RunResult{
		Status:  models.RunStatusAborted,
		Context: execCtx,
		Err:     err,
	}
}

func newExecutionContext(flowID string, contact *models.Contact, payload map[string]any) *models.ExecutionContext {
	execCtx := &models.ExecutionContext{
		FlowID:         flowID,
		Variables:      map[string]string{},
		TriggerPayload: payload,
	}

	if execCtx.TriggerPayload == nil {
		execCtx.TriggerPayload = map[string]any{}
	}

	if contact != nil {
		execCtx.ContactID = contact.ID
		maps.Copy(execCtx.Variables, contact.Variables)

		if _, ok := execCtx.Variables["name"]; !ok {
			execCtx.Variables["name"] = contact.Name
		}

		execCtx.Variables["phone"] = contact.Phone
	}

	if text, ok := execCtx.TriggerPayload[PayloadText].(string); ok {
		execCtx.Variables[FieldMessage] = text
	}

	return execCtx
}
