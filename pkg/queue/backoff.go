package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxAttempts is the number of failed attempts after which a job is
	// marked failed.
	MaxAttempts = 5

	// BaseDelay is the wait after the first failed attempt. It doubles on
	// every further attempt.
	BaseDelay = 5 * time.Second
)

// Delay returns the wait before the next attempt once a job has failed
// attempts times: BaseDelay * 2^(attempts-1).
func Delay(attempts int) time.Duration {
	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         24 * time.Hour,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	schedule.Reset()

	delay := schedule.NextBackOff()
	for range attempts - 1 {
		delay = schedule.NextBackOff()
	}

	return delay
}
