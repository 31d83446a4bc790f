package memory_test

import (
	"context"
	"testing"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/dukex/convoflow/pkg/persistence/persistencetest"
)

func TestPersistenceContract(t *testing.T) {
	t.Parallel()

	persistencetest.Run(t, func(t *testing.T) (persistence.Persistence, context.Context) {
		t.Helper()

		return memory.NewPersistence(), context.Background()
	})
}
