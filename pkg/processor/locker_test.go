package processor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	t.Parallel()

	locker := processor.NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock, err := locker.Lock(ctx, "5511999999999")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			current := holders.Add(1)
			if current > maxSeen.Load() {
				maxSeen.Store(current)
			}

			time.Sleep(time.Millisecond)
			holders.Add(-1)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocalLocker_DistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	locker := processor.NewLocalLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	t.Parallel()

	locker := processor.NewLocalLocker()

	unlock, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}
