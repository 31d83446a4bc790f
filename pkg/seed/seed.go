// Package seed loads tenants, flows and chatbots from a YAML file into a store.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrEmptySeed = errors.New("seed file defines no accounts, flows or chatbots")

// File is the content of a seed file. Nodes and edges use the same field names
// as their JSON form.
type File struct {
	Accounts []*models.Account   `json:"accounts" validate:"dive"`
	Flows    []*models.FlowGraph `json:"flows"    validate:"dive"`
	Chatbots []*models.Chatbot   `json:"chatbots" validate:"dive"`
}

// LoadFile reads and validates a seed file.
func LoadFile(path string, validate *validator.Validate) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	return Parse(data, validate)
}

// Parse decodes YAML into a File. The document is re-encoded as JSON so node
// payloads go through the same decoding as the API and the database.
func Parse(data []byte, validate *validator.Validate) (*File, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML seed: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert seed to JSON: %w", err)
	}

	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}

	if len(file.Accounts)+len(file.Flows)+len(file.Chatbots) == 0 {
		return nil, ErrEmptySeed
	}

	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}

	return &file, nil
}

// Apply saves every record of the file. Records are upserted by ID; flows and
// chatbots without an ID get a fresh one on every apply.
func Apply(ctx context.Context, logger *slog.Logger, store persistence.Persistence, file *File) error {
	for _, account := range file.Accounts {
		if err := store.Accounts().Save(ctx, account); err != nil {
			return fmt.Errorf("failed to seed account %s: %w", account.ID, err)
		}
	}

	for _, flow := range file.Flows {
		if err := store.Flows().Save(ctx, flow); err != nil {
			return fmt.Errorf("failed to seed flow %s: %w", flow.Name, err)
		}
	}

	for _, bot := range file.Chatbots {
		if err := store.Chatbots().Save(ctx, bot); err != nil {
			return fmt.Errorf("failed to seed chatbot %s: %w", bot.Name, err)
		}
	}

	logger.InfoContext(ctx, "Seed applied",
		"accounts", len(file.Accounts),
		"flows", len(file.Flows),
		"chatbots", len(file.Chatbots),
	)

	return nil
}
