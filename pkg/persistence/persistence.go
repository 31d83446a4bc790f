// Package persistence provides the storage abstraction of the pipeline.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

type Persistence interface {
	Jobs() JobRepository
	Ledger() Ledger
	Accounts() AccountRepository
	Contacts() ContactRepository
	Messages() MessageRepository
	Flows() FlowRepository
	Chatbots() ChatbotRepository
	FlowRuns() FlowRunRepository
	ScheduledEffects() ScheduledEffectRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JobRepository stores queued webhook jobs keyed by provider event ID.
// Transitions out of in_flight only apply to jobs currently in flight.
type JobRepository interface {
	// Insert stores a pending job. It reports false when the ID already exists.
	Insert(ctx context.Context, job *models.QueuedJob) (bool, error)
	// Claim atomically moves up to limit eligible jobs to in_flight.
	Claim(ctx context.Context, now time.Time, limit int) ([]*models.QueuedJob, error)
	MarkSucceeded(ctx context.Context, id string, now time.Time) error
	Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string, now time.Time) error
	Get(ctx context.Context, id string) (*models.QueuedJob, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.QueuedJob, error)
	// ListStale returns in_flight jobs claimed before the cutoff.
	ListStale(ctx context.Context, claimedBefore time.Time) ([]*models.QueuedJob, error)
	// Requeue resets a failed job to pending with zero attempts.
	Requeue(ctx context.Context, id string, now time.Time) error
}

// Ledger remembers processed provider event IDs.
type Ledger interface {
	// MarkIfNew records id and reports whether it was not recorded before.
	// Concurrent callers racing on the same id see exactly one true.
	MarkIfNew(ctx context.Context, id string) (bool, error)
	// Release forgets id so a later attempt is processed.
	Release(ctx context.Context, id string) error
	// Prune forgets ids recorded before the cutoff.
	Prune(ctx context.Context, recordedBefore time.Time) (int64, error)
}

type AccountRepository interface {
	ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Account, error)
	ByID(ctx context.Context, id string) (*models.Account, error)
	Save(ctx context.Context, account *models.Account) error
}

type ContactRepository interface {
	// Upsert returns the contact of owner with the given phone, creating it if needed.
	Upsert(ctx context.Context, ownerID, phone, name string) (*models.Contact, error)
	ByID(ctx context.Context, id string) (*models.Contact, error)
	SetVariable(ctx context.Context, id, name, value string) error
	AddTag(ctx context.Context, id, tag string) error
}

type MessageRepository interface {
	// Save stores a message. It reports false when the provider message ID already exists.
	Save(ctx context.Context, message *models.Message) (bool, error)
	ByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error)
	// AdvanceStatus moves a message forward following DeliveryStatus.CanAdvanceTo.
	// It reports whether the status changed.
	AdvanceStatus(ctx context.Context, providerMessageID string, status models.DeliveryStatus, at time.Time) (bool, error)
}

type FlowRepository interface {
	ActiveByOwner(ctx context.Context, ownerID string) ([]*models.FlowGraph, error)
	ByID(ctx context.Context, id string) (*models.FlowGraph, error)
	Save(ctx context.Context, flow *models.FlowGraph) error
}

type ChatbotRepository interface {
	// ActiveByOwner returns the most recently updated active chatbot of owner.
	ActiveByOwner(ctx context.Context, ownerID string) (*models.Chatbot, error)
	ByID(ctx context.Context, id string) (*models.Chatbot, error)
	Save(ctx context.Context, bot *models.Chatbot) error
}

type FlowRunRepository interface {
	Save(ctx context.Context, run *models.FlowRun) error
	ByFlow(ctx context.Context, flowID string, limit int) ([]*models.FlowRun, error)
}

type ScheduledEffectRepository interface {
	Save(ctx context.Context, batch *models.ScheduledEffects) error
	// ClaimDue atomically claims unclaimed batches due at or before now.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledEffects, error)
	Complete(ctx context.Context, id string) error
}
