package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

type flowRepository struct {
	p *Persistence
}

func (r *flowRepository) ActiveByOwner(ctx context.Context, ownerID string) ([]*models.FlowGraph, error) {
	defer r.p.lock()()

	out := make([]*models.FlowGraph, 0)

	for _, flow := range r.p.flows {
		if flow.OwnerID == ownerID && flow.IsActive() {
			out = append(out, flow)
		}
	}

	slices.SortFunc(out, func(a, b *models.FlowGraph) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return out, nil
}

func (r *flowRepository) ByID(ctx context.Context, id string) (*models.FlowGraph, error) {
	defer r.p.lock()()

	flow, ok := r.p.flows[id]
	if !ok {
		return nil, persistence.ErrFlowNotFound
	}

	return flow, nil
}

// Save stores the flow by reference; graphs are treated as immutable once saved.
func (r *flowRepository) Save(ctx context.Context, flow *models.FlowGraph) error {
	defer r.p.lock()()

	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now
	r.p.flows[flow.ID] = flow

	return nil
}

type chatbotRepository struct {
	p *Persistence
}

func (r *chatbotRepository) ActiveByOwner(ctx context.Context, ownerID string) (*models.Chatbot, error) {
	defer r.p.lock()()

	var latest *models.Chatbot

	for _, bot := range r.p.chatbots {
		if bot.OwnerID != ownerID || !bot.Active {
			continue
		}

		if latest == nil || bot.UpdatedAt.After(latest.UpdatedAt) {
			latest = bot
		}
	}

	if latest == nil {
		return nil, persistence.ErrChatbotNotFound
	}

	return latest, nil
}

func (r *chatbotRepository) ByID(ctx context.Context, id string) (*models.Chatbot, error) {
	defer r.p.lock()()

	bot, ok := r.p.chatbots[id]
	if !ok {
		return nil, persistence.ErrChatbotNotFound
	}

	return bot, nil
}

func (r *chatbotRepository) Save(ctx context.Context, bot *models.Chatbot) error {
	defer r.p.lock()()

	if bot.ID == "" {
		bot.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}

	bot.UpdatedAt = now
	r.p.chatbots[bot.ID] = bot

	return nil
}

type flowRunRepository struct {
	p *Persistence
}

func (r *flowRunRepository) Save(ctx context.Context, run *models.FlowRun) error {
	defer r.p.lock()()

	stored := *run
	r.p.runs = append(r.p.runs, &stored)

	return nil
}

func (r *flowRunRepository) ByFlow(ctx context.Context, flowID string, limit int) ([]*models.FlowRun, error) {
	defer r.p.lock()()

	out := make([]*models.FlowRun, 0)

	for i := len(r.p.runs) - 1; i >= 0; i-- {
		if r.p.runs[i].FlowID != flowID {
			continue
		}

		run := *r.p.runs[i]
		out = append(out, &run)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

type scheduledEffectRepository struct {
	p *Persistence
}

func (r *scheduledEffectRepository) Save(ctx context.Context, batch *models.ScheduledEffects) error {
	defer r.p.lock()()

	stored := *batch
	stored.Effects = slices.Clone(batch.Effects)
	r.p.scheduled[batch.ID] = &stored

	return nil
}

func (r *scheduledEffectRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledEffects, error) {
	defer r.p.lock()()

	due := make([]*models.ScheduledEffects, 0)

	for _, batch := range r.p.scheduled {
		if batch.ClaimedAt == nil && !batch.DueAt.After(now) {
			due = append(due, batch)
		}
	}

	slices.SortFunc(due, func(a, b *models.ScheduledEffects) int {
		return a.DueAt.Compare(b.DueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.ScheduledEffects, 0, len(due))

	for _, batch := range due {
		claimedAt := now
		batch.ClaimedAt = &claimedAt

		copied := *batch
		copied.Effects = slices.Clone(batch.Effects)
		out = append(out, &copied)
	}

	return out, nil
}

func (r *scheduledEffectRepository) Complete(ctx context.Context, id string) error {
	defer r.p.lock()()

	delete(r.p.scheduled, id)

	return nil
}

// PendingScheduled returns the number of batches not yet completed.
func (p *Persistence) PendingScheduled() int {
	defer p.lock()()

	return len(p.scheduled)
}
