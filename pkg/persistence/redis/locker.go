package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context ended.
var ErrLockTimeout = errors.New("timed out waiting for lock")

const (
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker serializes work on a key across processes. A held lock is extended
// every third of the TTL until it is released, so only a crashed holder lets
// it expire.
type Locker struct {
	client       redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
}

func NewLocker(client redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &Locker{client: client, ttl: ttl, pollInterval: defaultPollInterval}
}

// Lock blocks until the key is held or ctx is done. The returned func
// releases the lock only if it is still owned by this holder.
func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	lockKey := key("lock", name)
	token := uuid.New().String()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}

		if acquired {
			return l.hold(lockKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s: %w", ErrLockTimeout, name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// hold keeps lockKey extended while it is owned by token and returns the
// func that stops renewing and releases it.
func (l *Locker) hold(lockKey, token string) func() {
	renewCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				extended, err := renewScript.Run(renewCtx, l.client, []string{lockKey}, token, l.ttl.Milliseconds()).Int()
				if err == nil && extended == 0 {
					// Lost to expiry; nothing left to renew.
					return
				}
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			stop()
			<-done

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err()
		})
	}
}
