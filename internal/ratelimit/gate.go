package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/telemetry"
)

// Gate admits outbound provider calls. It is a single token bucket shared
// by every caller: a call that finds a token proceeds immediately, a call
// that does not waits for the refill, and once backlog callers are already
// waiting, further calls fail fast with a rate-limited error instead of
// queueing without bound. Per-key fairness is the inbound limiter's job;
// the gate protects the provider quota as a whole.
type Gate struct {
	rps     float64
	burst   float64
	backlog int64

	mu     sync.Mutex
	tokens float64
	last   time.Time

	waiting  atomic.Int64
	rejected atomic.Int64

	rejections metric.Int64Counter
}

// NewGate creates a gate refilling rps tokens per second with capacity
// burst. backlog bounds how many callers may wait at once; 0 means every
// call beyond the burst fails fast.
func NewGate(rps float64, burst, backlog int) *Gate {
	g := &Gate{
		rps:     rps,
		burst:   float64(burst),
		backlog: int64(backlog),
		tokens:  float64(burst),
		last:    time.Now(),
	}

	meter := telemetry.Meter("kioku/ratelimit")
	g.rejections, _ = meter.Int64Counter("kioku.gate.rejected_total",
		metric.WithDescription("Provider calls rejected because the gate backlog was full"))
	_, _ = meter.Int64ObservableGauge("kioku.gate.waiting",
		metric.WithDescription("Callers currently waiting for a provider token"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(g.waiting.Load())
			return nil
		}))
	return g
}

// Acquire blocks until a token is available or the context ends. When the
// backlog is already full it fails immediately; the caller's retry layer
// sees a rate-limited kind and backs off.
func (g *Gate) Acquire(ctx context.Context) error {
	wait := g.reserve()
	if wait <= 0 {
		return nil
	}

	if g.waiting.Add(1) > g.backlog {
		g.waiting.Add(-1)
		g.cancelReservation()
		g.rejected.Add(1)
		if g.rejections != nil {
			g.rejections.Add(ctx, 1)
		}
		return model.WrapError(model.KindRateLimited, "ratelimit: provider gate backlog full", ErrLimited)
	}
	defer g.waiting.Add(-1)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		g.cancelReservation()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve takes one token immediately and returns how long the caller must
// wait for the refill to cover it. Tokens go negative under contention;
// the deficit is what queued callers are waiting out, so later arrivals
// compute longer waits and drain in arrival order.
func (g *Gate) reserve() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refillLocked(time.Now())
	g.tokens--
	if g.tokens >= 0 {
		return 0
	}
	return time.Duration(-g.tokens / g.rps * float64(time.Second))
}

// cancelReservation returns a token a caller reserved but will not use.
func (g *Gate) cancelReservation() {
	g.mu.Lock()
	g.tokens++
	if g.tokens > g.burst {
		g.tokens = g.burst
	}
	g.mu.Unlock()
}

func (g *Gate) refillLocked(now time.Time) {
	elapsed := now.Sub(g.last).Seconds()
	g.tokens += elapsed * g.rps
	if g.tokens > g.burst {
		g.tokens = g.burst
	}
	g.last = now
}

// Rejected reports how many calls failed fast since startup.
func (g *Gate) Rejected() int64 { return g.rejected.Load() }

// Waiting reports callers currently blocked on the refill.
func (g *Gate) Waiting() int64 { return g.waiting.Load() }
