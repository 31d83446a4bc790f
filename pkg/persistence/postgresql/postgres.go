// Package postgresql provides the PostgreSQL persistence implementation of the pipeline.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	jobs      *JobRepository
	ledger    *Ledger
	accounts  *AccountRepository
	contacts  *ContactRepository
	messages  *MessageRepository
	flows     *FlowRepository
	chatbots  *ChatbotRepository
	runs      *FlowRunRepository
	scheduled *ScheduledEffectRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:        database,
		logger:    logger,
		jobs:      NewJobRepository(database, logger),
		ledger:    NewLedger(database),
		accounts:  NewAccountRepository(database),
		contacts:  NewContactRepository(database),
		messages:  NewMessageRepository(database),
		flows:     NewFlowRepository(database, logger),
		chatbots:  NewChatbotRepository(database, logger),
		runs:      NewFlowRunRepository(database, logger),
		scheduled: NewScheduledEffectRepository(database, logger),
	}, nil
}

func (p *Persistence) Jobs() persistence.JobRepository                         { return p.jobs }
func (p *Persistence) Ledger() persistence.Ledger                              { return p.ledger }
func (p *Persistence) Accounts() persistence.AccountRepository                 { return p.accounts }
func (p *Persistence) Contacts() persistence.ContactRepository                 { return p.contacts }
func (p *Persistence) Messages() persistence.MessageRepository                 { return p.messages }
func (p *Persistence) Flows() persistence.FlowRepository                       { return p.flows }
func (p *Persistence) Chatbots() persistence.ChatbotRepository                 { return p.chatbots }
func (p *Persistence) FlowRuns() persistence.FlowRunRepository                 { return p.runs }
func (p *Persistence) ScheduledEffects() persistence.ScheduledEffectRepository { return p.scheduled }

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
