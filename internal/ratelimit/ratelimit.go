// Package ratelimit bounds two kinds of traffic: inbound HTTP requests,
// limited per client IP by the Middleware, and outbound provider calls,
// limited by the Gate that fronts the embedding and generation clients.
//
// The in-memory token bucket (MemoryLimiter) is the only inbound
// implementation shipped; the Limiter interface is the seam for a shared
// backend when the service runs more than one replica.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"
)

// ErrLimited is the sentinel under every admission rejection this package
// produces. Callers branch with errors.Is; the HTTP layer maps it to 429.
var ErrLimited = errors.New("ratelimit: limit exceeded")

// Rule names one class of traffic and its admission budget. Buckets are
// kept per (rule, key), so the same IP draws from separate budgets for
// queries, feedback, and ingest.
type Rule struct {
	Name  string  // bucket key prefix, e.g. "query"
	RPS   float64 // sustained requests per second per key
	Burst int     // bucket capacity
}

// Result is one admission decision.
type Result struct {
	Allowed   bool
	Limit     int // bucket capacity for the matched rule
	Remaining int // whole tokens left after this decision
	// RetryAfter suggests how long a denied caller should wait for the
	// bucket to cover one request. Zero when allowed.
	RetryAfter time.Duration
}

// FormatHeaders renders the decision as standard rate-limit headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
	}
}

// RetrySeconds converts RetryAfter to the whole seconds a Retry-After
// header wants, never below 1.
func (r Result) RetrySeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter decides whether a request identified by key may proceed under a
// rule. Implementations must be safe for concurrent use.
//
// A returned error signals a limiter malfunction, not a denial; callers
// treat errors as fail-open rather than blocking traffic.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) (Result, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always admits, reporting a full bucket.
func (NoopLimiter) Allow(_ context.Context, rule Rule, _ string) (Result, error) {
	return Result{Allowed: true, Limit: rule.Burst, Remaining: rule.Burst}, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
