package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

// FlowRepository stores flow graphs with nodes and edges as JSONB documents.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `
			id
		  , owner_id
		  , name
		  , status
		  , nodes
		  , edges
		  , created_at
		  , updated_at`

// ActiveByOwner returns active flows oldest first, which fixes their match order.
func (r *FlowRepository) ActiveByOwner(ctx context.Context, ownerID string) ([]*models.FlowGraph, error) {
	query := `SELECT ` + flowColumns + `
		FROM flows
		WHERE owner_id = $1 AND status = 'active'
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.FlowGraph, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (r *FlowRepository) ByID(ctx context.Context, id string) (*models.FlowGraph, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, persistence.ErrFlowNotFound
	}

	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1`

	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	return flow, nil
}

// Save saves a flow to the database, assigning an ID to new flows.
func (r *FlowRepository) Save(ctx context.Context, flow *models.FlowGraph) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	}

	nodesJSON, edgesJSON, err := marshalGraph(flow.Nodes, flow.Edges)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flows (id, owner_id, name, status, nodes, edges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID,
		flow.OwnerID,
		flow.Name,
		flow.Status,
		nodesJSON,
		edgesJSON,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

func scanFlow(scanner rowScanner) (*models.FlowGraph, error) {
	var (
		flow      models.FlowGraph
		nodesJSON []byte
		edgesJSON []byte
	)

	err := scanner.Scan(
		&flow.ID,
		&flow.OwnerID,
		&flow.Name,
		&flow.Status,
		&nodesJSON,
		&edgesJSON,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	flow.Nodes, flow.Edges, err = unmarshalGraph(nodesJSON, edgesJSON)
	if err != nil {
		return nil, err
	}

	return &flow, nil
}

// ChatbotRepository stores chatbot graphs the same way as flows.
type ChatbotRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewChatbotRepository(db *sql.DB, logger *slog.Logger) *ChatbotRepository {
	return &ChatbotRepository{db: db, logger: logger}
}

const chatbotColumns = `id, owner_id, name, active, nodes, edges, created_at, updated_at`

func (r *ChatbotRepository) ActiveByOwner(ctx context.Context, ownerID string) (*models.Chatbot, error) {
	query := `SELECT ` + chatbotColumns + `
		FROM chatbots
		WHERE owner_id = $1 AND active
		ORDER BY updated_at DESC
		LIMIT 1
	`

	bot, err := scanChatbot(r.db.QueryRowContext(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrChatbotNotFound
		}

		return nil, fmt.Errorf("failed to get active chatbot: %w", err)
	}

	return bot, nil
}

func (r *ChatbotRepository) ByID(ctx context.Context, id string) (*models.Chatbot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, persistence.ErrChatbotNotFound
	}

	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE id = $1`

	bot, err := scanChatbot(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrChatbotNotFound
		}

		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}

	return bot, nil
}

func (r *ChatbotRepository) Save(ctx context.Context, bot *models.Chatbot) error {
	now := time.Now().UTC()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}

	bot.UpdatedAt = now

	if bot.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate chatbot ID: %w", err)
		}

		bot.ID = id.String()
	}

	nodesJSON, edgesJSON, err := marshalGraph(bot.Nodes, bot.Edges)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chatbots (id, owner_id, name, active, nodes, edges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		bot.ID,
		bot.OwnerID,
		bot.Name,
		bot.Active,
		nodesJSON,
		edgesJSON,
		bot.CreatedAt,
		bot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save chatbot: %w", err)
	}

	return nil
}

func scanChatbot(scanner rowScanner) (*models.Chatbot, error) {
	var (
		bot       models.Chatbot
		nodesJSON []byte
		edgesJSON []byte
	)

	err := scanner.Scan(
		&bot.ID,
		&bot.OwnerID,
		&bot.Name,
		&bot.Active,
		&nodesJSON,
		&edgesJSON,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	bot.Nodes, bot.Edges, err = unmarshalGraph(nodesJSON, edgesJSON)
	if err != nil {
		return nil, err
	}

	return &bot, nil
}

func marshalGraph(nodes map[string]*models.Node, edges []models.Edge) ([]byte, []byte, error) {
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}

	if edges == nil {
		edges = []models.Edge{}
	}

	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal edges: %w", err)
	}

	return nodesJSON, edgesJSON, nil
}

func unmarshalGraph(nodesJSON, edgesJSON []byte) (map[string]*models.Node, []models.Edge, error) {
	var (
		nodes map[string]*models.Node
		edges []models.Edge
	)

	err := json.Unmarshal(nodesJSON, &nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	err = json.Unmarshal(edgesJSON, &edges)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if len(edges) == 0 {
		edges = nil
	}

	return nodes, edges, nil
}
