package seed_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/dukex/convoflow/pkg/seed"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
accounts:
  - id: acct-1
    phone_number_id: "1000"
    name: Acme
flows:
  - id: 9b2f6c1e-0d7a-4c4e-8e43-3b1d2f0a7c11
    owner_id: acct-1
    name: Refunds
    status: active
    nodes:
      t: {id: t, type: trigger, data: {trigger_type: message_received}}
      c: {id: c, type: condition, data: {predicate: contains, config: {value: refund}}}
      m: {id: m, type: message, data: {text: "Hi {{name}}, a human will reach out."}}
    edges:
      - {source: t, target: c}
      - {source: c, target: m, branch: "true"}
chatbots:
  - owner_id: acct-1
    name: Concierge
    active: true
    nodes:
      start: {id: start, type: message, data: {text: "Hello!"}}
`

func TestParse(t *testing.T) {
	t.Parallel()

	file, err := seed.Parse([]byte(seedYAML), validator.New(validator.WithRequiredStructEnabled()))
	require.NoError(t, err)

	require.Len(t, file.Accounts, 1)
	assert.Equal(t, "1000", file.Accounts[0].PhoneNumberID)

	require.Len(t, file.Flows, 1)
	assert.Equal(t, models.NodeKindCondition, file.Flows[0].Nodes["c"].Kind())
	assert.Equal(t, models.BranchTrue, file.Flows[0].Edges[1].Branch)

	require.Len(t, file.Chatbots, 1)
	assert.True(t, file.Chatbots[0].Active)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "not yaml", yaml: "accounts: [unterminated"},
		{name: "empty", yaml: "accounts: []"},
		{name: "unknown node type", yaml: `
flows:
  - owner_id: acct-1
    name: Broken
    status: active
    nodes:
      x: {id: x, type: webhook, data: {}}
`},
		{name: "invalid flow status", yaml: `
flows:
  - owner_id: acct-1
    name: Broken
    status: paused
    nodes:
      m: {id: m, type: message, data: {text: hi}}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := seed.Parse([]byte(tt.yaml), validator.New(validator.WithRequiredStructEnabled()))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileAndApply(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	file, err := seed.LoadFile(path, validator.New(validator.WithRequiredStructEnabled()))
	require.NoError(t, err)

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, seed.Apply(ctx, slog.Default(), store, file))

	account, err := store.Accounts().ByPhoneNumberID(ctx, "1000")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", account.ID)

	flows, err := store.Flows().ActiveByOwner(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "Refunds", flows[0].Name)

	bot, err := store.Chatbots().ActiveByOwner(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "Concierge", bot.Name)

	_, err = seed.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), validator.New())
	assert.Error(t, err)
}
