// Package memory provides an in-process persistence implementation for
// development and tests. State is lost when the process exits.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// Persistence keeps every repository behind one mutex.
type Persistence struct {
	mu sync.Mutex

	jobs      map[string]*models.QueuedJob
	ledger    map[string]ledgerEntry
	accounts  map[string]*models.Account
	contacts  map[string]*models.Contact
	messages  map[string]*models.Message
	flows     map[string]*models.FlowGraph
	chatbots  map[string]*models.Chatbot
	runs      []*models.FlowRun
	scheduled map[string]*models.ScheduledEffects
}

func NewPersistence() *Persistence {
	return &Persistence{
		jobs:      map[string]*models.QueuedJob{},
		ledger:    map[string]ledgerEntry{},
		accounts:  map[string]*models.Account{},
		contacts:  map[string]*models.Contact{},
		messages:  map[string]*models.Message{},
		flows:     map[string]*models.FlowGraph{},
		chatbots:  map[string]*models.Chatbot{},
		scheduled: map[string]*models.ScheduledEffects{},
	}
}

func (p *Persistence) Jobs() persistence.JobRepository                         { return &jobRepository{p} }
func (p *Persistence) Ledger() persistence.Ledger                              { return &ledger{p} }
func (p *Persistence) Accounts() persistence.AccountRepository                 { return &accountRepository{p} }
func (p *Persistence) Contacts() persistence.ContactRepository                 { return &contactRepository{p} }
func (p *Persistence) Messages() persistence.MessageRepository                 { return &messageRepository{p} }
func (p *Persistence) Flows() persistence.FlowRepository                       { return &flowRepository{p} }
func (p *Persistence) Chatbots() persistence.ChatbotRepository                 { return &chatbotRepository{p} }
func (p *Persistence) FlowRuns() persistence.FlowRunRepository                 { return &flowRunRepository{p} }
func (p *Persistence) ScheduledEffects() persistence.ScheduledEffectRepository { return &scheduledEffectRepository{p} }

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

func (p *Persistence) lock() func() {
	p.mu.Lock()

	return p.mu.Unlock
}

// MessagesByContact returns copies of the messages of a contact, oldest first.
func (p *Persistence) MessagesByContact(contactID string) []*models.Message {
	defer p.lock()()

	out := make([]*models.Message, 0)

	for _, message := range p.messages {
		if message.ContactID == contactID {
			copied := *message
			out = append(out, &copied)
		}
	}

	slices.SortFunc(out, func(a, b *models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return out
}
