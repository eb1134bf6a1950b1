// Package retry wraps provider calls whose failures are worth repeating.
// Only errors the model package marks retryable (rate limits, transient
// faults) trigger another attempt; schema and quota errors surface at once.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ashita-ai/kioku/internal/model"
)

// Defaults for provider-facing calls.
const (
	DefaultAttempts = 3
	defaultBase     = 1 * time.Second
	defaultCap      = 60 * time.Second
)

// Do executes fn with the default policy: three attempts, jittered
// exponential backoff starting at 1s and capped at 60s.
func Do(ctx context.Context, fn func() error) error {
	return DoWith(ctx, DefaultAttempts, defaultBase, defaultCap, fn)
}

// DoWith executes fn up to attempts times, sleeping delay+jitter between
// attempts and doubling the delay up to maxDelay. A context cancellation
// during backoff wins over the pending retry.
func DoWith(ctx context.Context, attempts int, base, maxDelay time.Duration, fn func() error) error {
	var err error
	delay := base
	for attempt := range attempts {
		err = fn()
		if err == nil || !model.IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
