package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("job error unwraps to the sentinel", func(t *testing.T) {
		err := persistence.NewJobError("MarkFailed", "wamid.ABC", persistence.ErrJobNotInFlight)

		assert.True(t, errors.Is(err, persistence.ErrJobNotInFlight))
		assert.False(t, persistence.IsJobNotFound(err))
		assert.Contains(t, err.Error(), "MarkFailed")
		assert.Contains(t, err.Error(), "wamid.ABC")
	})

	t.Run("not found predicates", func(t *testing.T) {
		wrapped := fmt.Errorf("failed to load: %w", persistence.ErrMessageNotFound)

		assert.True(t, persistence.IsMessageNotFound(wrapped))
		assert.True(t, persistence.IsNotFound(wrapped))
		assert.True(t, persistence.IsNotFound(persistence.NewJobError("Get", "x", persistence.ErrJobNotFound)))
		assert.True(t, persistence.IsAccountNotFound(persistence.ErrAccountNotFound))
		assert.False(t, persistence.IsNotFound(errors.New("connection refused")))
		assert.False(t, persistence.IsNotFound(nil))
	})
}
