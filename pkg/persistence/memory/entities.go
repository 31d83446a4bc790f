package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

type accountRepository struct {
	p *Persistence
}

func (r *accountRepository) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Account, error) {
	defer r.p.lock()()

	for _, account := range r.p.accounts {
		if account.PhoneNumberID == phoneNumberID {
			out := *account

			return &out, nil
		}
	}

	return nil, persistence.ErrAccountNotFound
}

func (r *accountRepository) ByID(ctx context.Context, id string) (*models.Account, error) {
	defer r.p.lock()()

	account, ok := r.p.accounts[id]
	if !ok {
		return nil, persistence.ErrAccountNotFound
	}

	out := *account

	return &out, nil
}

func (r *accountRepository) Save(ctx context.Context, account *models.Account) error {
	defer r.p.lock()()

	stored := *account
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	r.p.accounts[account.ID] = &stored

	return nil
}

type contactRepository struct {
	p *Persistence
}

func (r *contactRepository) Upsert(ctx context.Context, ownerID, phone, name string) (*models.Contact, error) {
	defer r.p.lock()()

	now := time.Now().UTC()

	for _, contact := range r.p.contacts {
		if contact.OwnerID == ownerID && contact.Phone == phone {
			if name != "" && contact.Name != name {
				contact.Name = name
				contact.UpdatedAt = now
			}

			return copyContact(contact), nil
		}
	}

	contact := &models.Contact{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Phone:     phone,
		Name:      name,
		Variables: map[string]string{},
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.p.contacts[contact.ID] = contact

	return copyContact(contact), nil
}

func (r *contactRepository) ByID(ctx context.Context, id string) (*models.Contact, error) {
	defer r.p.lock()()

	contact, ok := r.p.contacts[id]
	if !ok {
		return nil, persistence.ErrContactNotFound
	}

	return copyContact(contact), nil
}

func (r *contactRepository) SetVariable(ctx context.Context, id, name, value string) error {
	defer r.p.lock()()

	contact, ok := r.p.contacts[id]
	if !ok {
		return persistence.ErrContactNotFound
	}

	contact.Variables[name] = value
	contact.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *contactRepository) AddTag(ctx context.Context, id, tag string) error {
	defer r.p.lock()()

	contact, ok := r.p.contacts[id]
	if !ok {
		return persistence.ErrContactNotFound
	}

	if !contact.HasTag(tag) {
		contact.Tags = append(contact.Tags, tag)
		contact.UpdatedAt = time.Now().UTC()
	}

	return nil
}

func copyContact(contact *models.Contact) *models.Contact {
	out := *contact
	out.Variables = maps.Clone(contact.Variables)
	out.Tags = slices.Clone(contact.Tags)

	return &out
}

type messageRepository struct {
	p *Persistence
}

func (r *messageRepository) Save(ctx context.Context, message *models.Message) (bool, error) {
	defer r.p.lock()()

	if message.ProviderMessageID != "" {
		for _, existing := range r.p.messages {
			if existing.ProviderMessageID == message.ProviderMessageID {
				return false, nil
			}
		}
	}

	stored := *message
	r.p.messages[message.ID] = &stored

	return true, nil
}

func (r *messageRepository) ByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	defer r.p.lock()()

	message := r.findByProviderID(providerMessageID)
	if message == nil {
		return nil, persistence.ErrMessageNotFound
	}

	out := *message

	return &out, nil
}

func (r *messageRepository) AdvanceStatus(ctx context.Context, providerMessageID string, status models.DeliveryStatus, at time.Time) (bool, error) {
	defer r.p.lock()()

	message := r.findByProviderID(providerMessageID)
	if message == nil {
		return false, persistence.ErrMessageNotFound
	}

	if !message.Status.CanAdvanceTo(status) {
		return false, nil
	}

	message.Status = status
	message.UpdatedAt = at

	return true, nil
}

func (r *messageRepository) findByProviderID(providerMessageID string) *models.Message {
	for _, message := range r.p.messages {
		if message.ProviderMessageID == providerMessageID {
			return message
		}
	}

	return nil
}

// AllMessages returns a snapshot of stored messages, oldest first.
func (p *Persistence) AllMessages() []*models.Message {
	defer p.lock()()

	out := make([]*models.Message, 0, len(p.messages))

	for _, message := range p.messages {
		copied := *message
		out = append(out, &copied)
	}

	slices.SortFunc(out, func(a, b *models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return out
}
