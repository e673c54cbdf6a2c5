package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/nodeexec"
	"github.com/roach88/orchestra/internal/store"
	"github.com/roach88/orchestra/internal/waitnotify"
)

const (
	// DefaultMaxSteps is the default maximum number of advisory cycles per
	// plan execution.
	DefaultMaxSteps = 1000

	// DefaultWorkers is the default number of worker goroutines started by Run.
	DefaultWorkers = 4

	// DefaultWaitTopic is the topic engine callbacks are registered on.
	DefaultWaitTopic = "orchestration"
)

// Engine drives plan executions: it dispatches node executions, applies step
// responses, computes advice for terminal transitions and executes it.
//
// Work is expressed as events on an in-memory FIFO queue. Run drains the
// queue with a pool of workers; Drain processes it inline. Correctness never
// depends on the queue: every transition is a conditional update in the
// store, so an event processed twice, or by two workers at once, has at most
// one effect.
//
// Thread-safety model:
//   - All exported methods are safe for concurrent use
//   - Run(): call from one goroutine; it owns the worker pool
//   - Drain(): may be called concurrently with Run
type Engine struct {
	store       *store.Store
	nodes       *nodeexec.Service
	waits       *waitnotify.Engine
	delays      *waitnotify.DelayEventHelper
	advisers    *advise.Registry
	facilitator Facilitator
	queue       *eventQueue
	clock       *Clock
	ids         IDGenerator
	now         func() time.Time

	workers      int
	syncDispatch bool
	waitTopic    string
	maxSteps     int

	mu     sync.Mutex
	quotas map[string]*QuotaEnforcer // per plan execution

	draining atomic.Bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxSteps sets the maximum advisory cycles per plan execution.
//
// Default: 1000 (DefaultMaxSteps)
func WithMaxSteps(maxSteps int) EngineOption {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithWorkers sets the number of workers Run starts.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSyncDispatch makes the engine process follow-on work inline: every
// public entry point returns only after the queue it caused is drained.
// Used by the CLI runner and tests for deterministic execution.
func WithSyncDispatch() EngineOption {
	return func(e *Engine) {
		e.syncDispatch = true
	}
}

// WithIDGenerator sets the generator for plan and node execution ids.
//
// Default: UUIDv7Generator
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNow sets the wall clock used for timestamps and delays.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithWaitTopic sets the topic engine callbacks are registered on.
func WithWaitTopic(topic string) EngineOption {
	return func(e *Engine) {
		if topic != "" {
			e.waitTopic = topic
		}
	}
}

// WithAdvisers replaces the built-in adviser registry.
func WithAdvisers(r *advise.Registry) EngineOption {
	return func(e *Engine) {
		e.advisers = r
	}
}

// New creates an Engine over s that runs steps through f.
func New(s *store.Store, f Facilitator, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       s,
		facilitator: f,
		queue:       newEventQueue(),
		clock:       NewClock(),
		ids:         UUIDv7Generator{},
		now:         time.Now,
		workers:     DefaultWorkers,
		waitTopic:   DefaultWaitTopic,
		maxSteps:    DefaultMaxSteps,
		quotas:      make(map[string]*QuotaEnforcer),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.advisers == nil {
		e.advisers = advise.NewDefaultRegistry(slog.Default())
	}
	e.nodes = nodeexec.New(s)
	e.waits = waitnotify.New(s, e.now)
	e.delays = waitnotify.NewDelayEventHelper(s, e.now)
	e.registerCallbacks()

	return e
}

// Run starts the worker pool and blocks until ctx is cancelled or Stop is
// called.
//
// ERROR HANDLING: a failing event is logged with full context and processing
// continues. Nothing is lost: the store still holds the state the event was
// derived from, and Recover re-derives outstanding work on restart.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "workers", e.workers, "wait_topic", e.waitTopic)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		worker := i
		g.Go(func() error {
			return e.work(gctx, worker)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		slog.Info("engine stopping: context cancelled")
		e.queue.Close()
		return ctx.Err()
	}
	slog.Info("engine stopping: queue closed")
	return err
}

func (e *Engine) work(ctx context.Context, worker int) error {
	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.queue.Wait():
			// The signal channel closes with the queue, which wakes every
			// worker; exit once nothing is left.
			if e.queue.drained() {
				slog.Debug("worker exiting", "worker", worker)
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the event queue, which causes Run to return once it is empty.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain processes queued events inline until the queue is empty.
//
// Only one Drain runs at a time; a nested or concurrent call returns
// immediately and its events are picked up by the running one.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		if !e.draining.CompareAndSwap(false, true) {
			return nil
		}
		err := e.drainQueue(ctx)
		e.draining.Store(false)
		// Recheck: an event enqueued after the last dequeue but before the
		// flag was released would otherwise be stranded.
		if err != nil || e.queue.Len() == 0 {
			return err
		}
	}
}

func (e *Engine) drainQueue(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return nil
		}
		e.process(ctx, ev)
	}
}

// enqueue stamps and queues ev. In sync mode the queue is drained before
// returning.
func (e *Engine) enqueue(ctx context.Context, ev Event) {
	ev.Seq = e.clock.Next()
	if !e.queue.Enqueue(ev) {
		slog.Warn("event dropped: engine stopped",
			"event_type", ev.Type.String(),
			"node_execution_id", ev.NodeExecutionID,
			"seq", ev.Seq,
		)
		return
	}
	if e.syncDispatch {
		if err := e.Drain(ctx); err != nil {
			slog.Warn("drain interrupted", "error", err)
		}
	}
}

func (e *Engine) process(ctx context.Context, ev Event) {
	if err := e.processEvent(ctx, ev); err != nil {
		logEventError(ev, err)
	}
}

// processEvent routes an event to the appropriate handler.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeDispatch:
		return e.dispatch(ctx, ev.NodeExecutionID)

	case EventTypeAdvise:
		if ev.Advise == nil {
			return fmt.Errorf("advise event missing payload")
		}
		return e.HandleAdviseEvent(ctx, *ev.Advise)

	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// quotaCheck counts one advisory cycle against the plan execution's quota.
func (e *Engine) quotaCheck(planExecutionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.quotas[planExecutionID]
	if !ok {
		q = NewQuotaEnforcer(e.maxSteps)
		e.quotas[planExecutionID] = q
	}
	return q.Check(planExecutionID)
}

// releasePlan drops in-memory state kept for a finished plan execution.
func (e *Engine) releasePlan(planExecutionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.quotas, planExecutionID)
}

// Store returns the engine's store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Nodes returns the node execution service.
func (e *Engine) Nodes() *nodeexec.Service {
	return e.nodes
}

// Lineage returns the live attempt of the retry lineage id belongs to,
// followed by its retired attempts, newest first.
func (e *Engine) Lineage(ctx context.Context, id string) ([]ir.NodeExecution, error) {
	return e.nodes.Lineage(ctx, id)
}

// Waits returns the wait/notify engine holding the engine's callbacks.
func (e *Engine) Waits() *waitnotify.Engine {
	return e.waits
}

// Poller returns a poller that fires due delays and resumes the engine's
// callbacks every interval.
func (e *Engine) Poller(interval time.Duration) *waitnotify.Poller {
	return waitnotify.NewPoller(e.waits, e.delays, e.waitTopic, interval)
}

// QueueLen returns the number of queued events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// MaxSteps returns the configured maximum advisory cycles per plan execution.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// QuotaFor returns the quota enforcer of a plan execution, or nil if the plan
// has not been advised yet or has finished.
func (e *Engine) QuotaFor(planExecutionID string) *QuotaEnforcer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quotas[planExecutionID]
}

// logEventError logs an event processing failure with the event's context.
// Dropped work for finished plans is expected and logged at debug level.
func logEventError(ev Event, err error) {
	if IsCancelled(err) {
		slog.Debug("event dropped",
			"event_type", ev.Type.String(),
			"node_execution_id", ev.NodeExecutionID,
			"seq", ev.Seq,
			"reason", err,
		)
		return
	}

	if ev.Type == EventTypeAdvise && ev.Advise != nil {
		slog.Error("advise processing failed",
			"error", err,
			"node_execution_id", ev.Advise.NodeExecutionID,
			"plan_execution_id", ev.Advise.Ambiance.PlanExecutionID(),
			"to_status", ev.Advise.ToStatus,
			"seq", ev.Seq,
		)
		return
	}

	slog.Error("event processing failed",
		"error", err,
		"event_type", ev.Type.String(),
		"node_execution_id", ev.NodeExecutionID,
		"seq", ev.Seq,
	)
}
