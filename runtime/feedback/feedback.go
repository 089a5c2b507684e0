// Package feedback implements the outcome feedback tracker: post-execution
// results are ingested asynchronously into rolling per-agent performance
// vectors consumed by the scoring stage of the routing engine.
//
// The tracker is strictly off the routing hot path. Outcomes are queued and
// drained by a background worker; a full queue drops the outcome (with a
// counter) rather than blocking the caller.
package feedback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cascadehq/care/runtime/routing"
	"github.com/cascadehq/care/runtime/telemetry"
)

// DefaultWindow is the rolling aggregation window for performance vectors.
const DefaultWindow = 24 * time.Hour

// ErrQueueFull is returned when the outcome queue is saturated and the
// outcome was dropped.
var ErrQueueFull = errors.New("outcome queue full")

// ErrClosed is returned when recording against a closed tracker.
var ErrClosed = errors.New("feedback tracker closed")

type (
	// Store persists the rolling aggregates behind the vectors.
	// Implementations must be safe for concurrent use and expire state
	// after the rolling window.
	Store interface {
		// Ingest applies one outcome to the agent's aggregates.
		Ingest(ctx context.Context, out routing.Outcome) error
		// Vector derives the agent's current performance vector. Agents
		// without evidence yield the optimistic default.
		Vector(ctx context.Context, agentID string) (routing.PerformanceVector, error)
	}

	// Tracker ingests outcomes asynchronously and serves vector reads.
	// It satisfies the engine's VectorReader.
	Tracker struct {
		store   Store
		queue   chan routing.Outcome
		logger  telemetry.Logger
		metrics telemetry.Metrics

		wg        sync.WaitGroup
		closeOnce sync.Once

		// mu serializes enqueueing against Close so the queue is never
		// closed between the closed check and the send.
		mu     sync.RWMutex
		closed bool
	}

	// Option configures optional Tracker settings.
	Option func(*options)

	options struct {
		queueSize int
		logger    telemetry.Logger
		metrics   telemetry.Metrics
	}
)

// WithQueueSize sets the outcome queue capacity. Defaults to 1024.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithLogger sets the tracker logger. Defaults to no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the tracker metrics recorder. Defaults to no-op.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewTracker builds a Tracker and starts its drain worker. Call Close to
// flush and stop it.
func NewTracker(store Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	o := &options{queueSize: 1024, logger: telemetry.NewNoopLogger(), metrics: telemetry.NewNoopMetrics()}
	for _, opt := range opts {
		opt(o)
	}
	if o.queueSize <= 0 {
		return nil, errors.New("queue size must be positive")
	}
	t := &Tracker{
		store:   store,
		queue:   make(chan routing.Outcome, o.queueSize),
		logger:  o.logger,
		metrics: o.metrics,
	}
	t.wg.Add(1)
	go t.drain()
	return t, nil
}

// Record validates and enqueues one outcome. It never blocks: a saturated
// queue drops the outcome and returns ErrQueueFull.
func (t *Tracker) Record(_ context.Context, out routing.Outcome) error {
	if strings.TrimSpace(out.RequestID) == "" {
		return errors.New("request id is required")
	}
	if strings.TrimSpace(out.AgentID) == "" {
		return errors.New("agent id is required")
	}
	if out.LatencyMS < 0 {
		return errors.New("latency must not be negative")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	select {
	case t.queue <- out:
		t.metrics.IncCounter("care.feedback.enqueued", 1)
		return nil
	default:
		t.metrics.IncCounter("care.feedback.dropped", 1)
		return ErrQueueFull
	}
}

// Vector reads the agent's current performance vector from the store.
func (t *Tracker) Vector(ctx context.Context, agentID string) (routing.PerformanceVector, error) {
	return t.store.Vector(ctx, agentID)
}

// Close stops the drain worker after flushing queued outcomes.
func (t *Tracker) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()
	})
	t.wg.Wait()
	return nil
}

func (t *Tracker) drain() {
	defer t.wg.Done()
	for out := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.store.Ingest(ctx, out); err != nil {
			t.logger.Warn(ctx, "outcome ingest failed",
				"request_id", out.RequestID, "agent_id", out.AgentID, "err", err.Error())
			t.metrics.IncCounter("care.feedback.ingest_failures", 1)
		}
		cancel()
	}
}
