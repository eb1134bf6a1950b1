package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is a single token bucket for one (rule, key) pair.
type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with an in-memory token bucket per
// (rule, key) pair. Refill rate and capacity come from the rule on each
// call, so one limiter serves every inbound rule. A background goroutine
// evicts buckets idle for staleThreshold to bound memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates the limiter and starts its eviction goroutine.
// Call Close to stop it.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the bucket for (rule, key). The first
// request for a pair starts with a full bucket minus the token it spends.
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) (Result, error) {
	burst := float64(rule.Burst)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	id := rule.Name + ":" + key
	b, ok := m.buckets[id]
	if !ok {
		m.buckets[id] = &bucket{tokens: burst - 1, lastAccess: now}
		return allowed(rule, burst-1), nil
	}

	// Refill from elapsed time, capped at capacity.
	elapsed := now.Sub(b.lastAccess).Seconds()
	b.tokens += elapsed * rule.RPS
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastAccess = now

	if b.tokens < 1 {
		return denied(rule, b.tokens), nil
	}
	b.tokens--
	return allowed(rule, b.tokens), nil
}

func allowed(rule Rule, tokens float64) Result {
	return Result{Allowed: true, Limit: rule.Burst, Remaining: int(tokens)}
}

func denied(rule Rule, tokens float64) Result {
	wait := time.Duration((1 - tokens) / rule.RPS * float64(time.Second))
	return Result{Limit: rule.Burst, RetryAfter: wait}
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for id, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, id)
		}
	}
}
