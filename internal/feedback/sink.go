package feedback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/telemetry"
)

// maxPending is the hard upper limit on buffered records. Appends beyond
// it are rejected with backpressure rather than growing without bound.
const maxPending = 10_000

// Defaults when the caller passes zero values to NewSink.
const (
	defaultMaxBatch     = 64
	defaultFlushTimeout = 2 * time.Second
)

// Sink accumulates feedback in memory and flushes to the store when
// either the batch size or the flush timeout is reached. A failed flush
// re-queues the batch; records are dropped only when the buffer is at
// capacity after a failure, and the drop total is surfaced as a gauge.
type Sink struct {
	store        *Store
	logger       *slog.Logger
	maxBatch     int
	flushTimeout time.Duration

	mu      sync.Mutex
	pending []model.Feedback

	started atomic.Bool
	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // set by Drain so the final flush respects the caller's deadline
}

// NewSink creates a sink writing to store. Zero maxBatch or flushTimeout
// fall back to the defaults.
func NewSink(store *Store, logger *slog.Logger, maxBatch int, flushTimeout time.Duration) *Sink {
	if maxBatch < 1 {
		maxBatch = defaultMaxBatch
	}
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	return &Sink{
		store:        store,
		logger:       logger,
		maxBatch:     maxBatch,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers the buffer
// gauges. Idempotent; call Drain to stop.
func (s *Sink) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("feedback sink already started")
		return
	}
	s.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	go s.flushLoop(loopCtx)
}

// Append validates and buffers one record, assigning its id and
// timestamp. Returns the assigned feedback id, or an error when the
// record is invalid or the sink is at capacity.
func (s *Sink) Append(_ context.Context, fb model.Feedback) (uuid.UUID, error) {
	if err := fb.Validate(); err != nil {
		return uuid.Nil, err
	}
	fb.ID = uuid.New()
	fb.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= maxPending {
		return uuid.Nil, model.Errorf(model.KindUnavailable, "feedback: sink at capacity (%d pending)", len(s.pending))
	}
	s.pending = append(s.pending, fb)

	if len(s.pending) >= s.maxBatch {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
	return fb.ID, nil
}

func (s *Sink) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush needs a live context; ctx is already done. Drain
			// provides one with the caller's deadline.
			if s.drainCtx != nil {
				s.flush(s.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				s.flush(fallbackCtx)
				cancel()
			}
			close(s.done)
			return
		case <-ticker.C:
			s.flush(ctx)
		case <-s.flushCh:
			s.flush(ctx)
		}
	}
}

func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	start := time.Now()
	n, err := s.store.InsertBatch(ctx, batch)
	if err != nil {
		s.logger.Error("feedback flush failed", "error", err, "batch_size", len(batch))
		// Re-queue for the next attempt, respecting the capacity limit.
		s.mu.Lock()
		if len(s.pending)+len(batch) <= maxPending {
			s.pending = append(batch, s.pending...)
		} else {
			s.dropped.Add(int64(len(batch)))
			s.logger.Error("feedback records dropped, sink at capacity after flush failure", "dropped", len(batch))
		}
		s.mu.Unlock()
		return
	}

	s.logger.Info("feedback batch flushed",
		"batch_size", n,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
}

// Drain signals the flush loop to stop, waits for its final flush, and
// returns. ctx bounds the wait and the final flush.
func (s *Sink) Drain(ctx context.Context) {
	s.drainCtx = ctx
	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("feedback drain timed out waiting for flush loop")
	}
}

func (s *Sink) registerMetrics() {
	meter := telemetry.Meter("kioku/feedback")

	_, _ = meter.Int64ObservableGauge("kioku.feedback.depth",
		metric.WithDescription("Records waiting in the feedback write buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kioku.feedback.dropped_total",
		metric.WithDescription("Records dropped after flush failures at capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(s.Dropped())
			return nil
		}),
	)
}

// Len returns the number of buffered records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Dropped returns the total records dropped after flush failures. A
// non-zero value means data loss.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Ping probes the backing store, for health checks.
func (s *Sink) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
