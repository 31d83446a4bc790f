package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

// AccountRepository maps business phone numbers to tenants.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Account, error) {
	return r.get(ctx, `SELECT id, phone_number_id, name, created_at FROM accounts WHERE phone_number_id = $1`, phoneNumberID)
}

func (r *AccountRepository) ByID(ctx context.Context, id string) (*models.Account, error) {
	return r.get(ctx, `SELECT id, phone_number_id, name, created_at FROM accounts WHERE id = $1`, id)
}

func (r *AccountRepository) get(ctx context.Context, query string, arg string) (*models.Account, error) {
	var account models.Account

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.PhoneNumberID,
		&account.Name,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAccountNotFound
		}

		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

func (r *AccountRepository) Save(ctx context.Context, account *models.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (id, phone_number_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			phone_number_id = EXCLUDED.phone_number_id,
			name = EXCLUDED.name
	`

	_, err := r.db.ExecContext(ctx, query, account.ID, account.PhoneNumberID, account.Name, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

const contactColumns = `id, owner_id, phone, name, variables, tags, created_at, updated_at`

// ContactRepository stores contacts, unique per owner and phone.
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Upsert keeps the stored name when name is empty.
func (r *ContactRepository) Upsert(ctx context.Context, ownerID, phone, name string) (*models.Contact, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO contacts (id, owner_id, phone, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (owner_id, phone) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
			updated_at = CASE WHEN EXCLUDED.name <> '' AND EXCLUDED.name <> contacts.name
				THEN EXCLUDED.updated_at ELSE contacts.updated_at END
		RETURNING ` + contactColumns

	contact, err := scanContact(r.db.QueryRowContext(ctx, query, uuid.New().String(), ownerID, phone, name, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}

	return contact, nil
}

func (r *ContactRepository) ByID(ctx context.Context, id string) (*models.Contact, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, persistence.ErrContactNotFound
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	contact, err := scanContact(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return contact, nil
}

func (r *ContactRepository) SetVariable(ctx context.Context, id, name, value string) error {
	query := `
		UPDATE contacts
		SET variables = variables || jsonb_build_object($2::text, $3::text), updated_at = $4
		WHERE id = $1
	`

	return r.update(ctx, query, id, name, value, time.Now().UTC())
}

func (r *ContactRepository) AddTag(ctx context.Context, id, tag string) error {
	query := `
		UPDATE contacts
		SET tags = CASE WHEN tags @> jsonb_build_array($2::text) THEN tags ELSE tags || jsonb_build_array($2::text) END,
			updated_at = $3
		WHERE id = $1
	`

	return r.update(ctx, query, id, tag, time.Now().UTC())
}

func (r *ContactRepository) update(ctx context.Context, query, id string, args ...any) error {
	if _, err := uuid.Parse(id); err != nil {
		return persistence.ErrContactNotFound
	}

	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrContactNotFound
	}

	return nil
}

func scanContact(scanner rowScanner) (*models.Contact, error) {
	var (
		contact       models.Contact
		variablesJSON []byte
		tagsJSON      []byte
	)

	err := scanner.Scan(
		&contact.ID,
		&contact.OwnerID,
		&contact.Phone,
		&contact.Name,
		&variablesJSON,
		&tagsJSON,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	contact.Variables = map[string]string{}
	contact.Tags = []string{}

	err = json.Unmarshal(variablesJSON, &contact.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact variables: %w", err)
	}

	err = json.Unmarshal(tagsJSON, &contact.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact tags: %w", err)
	}

	return &contact, nil
}

const messageColumns = `id, owner_id, contact_id, COALESCE(provider_message_id, ''), direction, body, status, flow_id, error, created_at, updated_at`

// MessageRepository stores inbound and outbound messages.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Save stores an empty provider message ID as NULL so unsent messages never collide.
func (r *MessageRepository) Save(ctx context.Context, message *models.Message) (bool, error) {
	query := `
		INSERT INTO messages (id, owner_id, contact_id, provider_message_id, direction, body, status, flow_id, error, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.OwnerID,
		message.ContactID,
		message.ProviderMessageID,
		message.Direction,
		message.Body,
		message.Status,
		message.FlowID,
		message.Error,
		message.CreatedAt,
		message.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (r *MessageRepository) ByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, providerMessageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMessageNotFound
		}

		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// AdvanceStatus locks the row so concurrent status updates apply in turn.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, providerMessageID string, status models.DeliveryStatus, at time.Time) (applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.DeliveryStatus

	err = tx.QueryRowContext(ctx,
		`SELECT status FROM messages WHERE provider_message_id = $1 FOR UPDATE`, providerMessageID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, persistence.ErrMessageNotFound
		}

		return false, fmt.Errorf("failed to lock message: %w", err)
	}

	if !current.CanAdvanceTo(status) {
		err = tx.Rollback()
		if err != nil {
			return false, fmt.Errorf("failed to release message lock: %w", err)
		}

		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET status = $2, updated_at = $3 WHERE provider_message_id = $1`,
		providerMessageID, status, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

func scanMessage(scanner rowScanner) (*models.Message, error) {
	var message models.Message

	err := scanner.Scan(
		&message.ID,
		&message.OwnerID,
		&message.ContactID,
		&message.ProviderMessageID,
		&message.Direction,
		&message.Body,
		&message.Status,
		&message.FlowID,
		&message.Error,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}
