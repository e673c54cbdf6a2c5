package waitnotify

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/orchestra/internal/store"
)

// Repository is the subset of the store the wait/notify engine needs.
type Repository interface {
	InsertWait(ctx context.Context, w store.WaitInstance) error
	GetWait(ctx context.Context, id string) (store.WaitInstance, error)
	ReadyWaits(ctx context.Context, topic string, limit int) ([]store.WaitInstance, error)
	TransitionWait(ctx context.Context, id string, from, to store.WaitStatus, errMsg string) (bool, error)
	CancelWaitsForPlan(ctx context.Context, planExecutionID string) (int64, error)
	CancelWaitsForCorrelation(ctx context.Context, correlationID string) (int64, error)
	ResetResumingWaits(ctx context.Context) (int64, error)
	InsertNotifyResponse(ctx context.Context, r store.NotifyResponse) (bool, error)
	NotifyResponses(ctx context.Context, correlationIDs []string) (map[string]store.NotifyResponse, error)
	InsertDelay(ctx context.Context, d store.DelayEvent) error
	FireDueDelays(ctx context.Context, now time.Time) ([]string, error)
}

// Callback describes what to run when a wait resumes.
type Callback struct {
	PlanExecutionID string
	ResumeAction    string
	Payload         any
}

// ResumeFunc handles a resumed wait. responses is keyed by correlation id.
type ResumeFunc func(ctx context.Context, payload json.RawMessage, responses map[string]store.NotifyResponse) error

// Engine registers and resumes durable callbacks.
//
// Thread-safety: all methods are safe for concurrent use. Resumption is
// exclusive per wait through a WAITING -> RESUMING conditional update.
type Engine struct {
	repo Repository
	now  func() time.Time

	mu       sync.RWMutex
	handlers map[string]ResumeFunc
}

// New creates an Engine. now supplies the timestamp embedded in wait ids.
func New(repo Repository, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:     repo,
		now:      now,
		handlers: make(map[string]ResumeFunc),
	}
}

// Register binds a resume action name to its handler. Registering the same
// action twice replaces the handler.
func (e *Engine) Register(action string, fn ResumeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[action] = fn
}

func (e *Engine) handler(action string) (ResumeFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.handlers[action]
	return fn, ok
}

// WaitForAllOn persists a callback that resumes once every correlation id has
// been notified. Returns the wait id.
func (e *Engine) WaitForAllOn(ctx context.Context, topic string, cb Callback, correlationIDs ...string) (string, error) {
	if cb.ResumeAction == "" {
		return "", fmt.Errorf("wait for all on: empty resume action")
	}
	payload, err := json.Marshal(cb.Payload)
	if err != nil {
		return "", fmt.Errorf("wait for all on: marshal payload: %w", err)
	}

	id := newID(e.now())
	err = e.repo.InsertWait(ctx, store.WaitInstance{
		ID:              id,
		PlanExecutionID: cb.PlanExecutionID,
		Topic:           topic,
		ResumeAction:    cb.ResumeAction,
		Payload:         payload,
		CorrelationIDs:  correlationIDs,
	})
	if err != nil {
		return "", fmt.Errorf("wait for all on: %w", err)
	}

	slog.Debug("wait registered",
		"wait_id", id,
		"topic", topic,
		"resume_action", cb.ResumeAction,
		"correlation_ids", correlationIDs,
	)
	return id, nil
}

// Notify records response for correlationID. Only the first notification of
// a correlation id counts; accepted is false for later ones.
func (e *Engine) Notify(ctx context.Context, correlationID string, response any, isError bool) (accepted bool, err error) {
	var raw json.RawMessage
	switch r := response.(type) {
	case nil:
	case json.RawMessage:
		raw = r
	default:
		if raw, err = json.Marshal(r); err != nil {
			return false, fmt.Errorf("notify %s: marshal response: %w", correlationID, err)
		}
	}

	accepted, err = e.repo.InsertNotifyResponse(ctx, store.NotifyResponse{
		CorrelationID: correlationID,
		Response:      raw,
		IsError:       isError,
	})
	if err != nil {
		return false, fmt.Errorf("notify %s: %w", correlationID, err)
	}
	if !accepted {
		slog.Debug("duplicate notification ignored", "correlation_id", correlationID)
	}
	return accepted, nil
}

// Cancel cancels every pending wait that listens on correlationID.
func (e *Engine) Cancel(ctx context.Context, correlationID string) (int64, error) {
	return e.repo.CancelWaitsForCorrelation(ctx, correlationID)
}

// CancelForPlan cancels every pending wait of a plan execution.
func (e *Engine) CancelForPlan(ctx context.Context, planExecutionID string) (int64, error) {
	n, err := e.repo.CancelWaitsForPlan(ctx, planExecutionID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("waits cancelled", "plan_execution_id", planExecutionID, "count", n)
	}
	return n, nil
}

// Recover makes waits that were mid-resume when the process died eligible
// again. Resume handlers must therefore be idempotent.
func (e *Engine) Recover(ctx context.Context) error {
	n, err := e.repo.ResetResumingWaits(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("waits recovered", "count", n)
	}
	return nil
}

// ProcessReady resumes up to limit ready waits on topic and returns how many
// handlers ran successfully. A failing handler marks its wait FAILED and is
// logged; it does not stop the batch.
func (e *Engine) ProcessReady(ctx context.Context, topic string, limit int) (int, error) {
	ready, err := e.repo.ReadyWaits(ctx, topic, limit)
	if err != nil {
		return 0, fmt.Errorf("process ready: %w", err)
	}

	resumed := 0
	for _, w := range ready {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		ok, err := e.resume(ctx, w)
		if err != nil {
			return resumed, err
		}
		if ok {
			resumed++
		}
	}
	return resumed, nil
}

// resume runs one wait. The returned error is reserved for store failures.
func (e *Engine) resume(ctx context.Context, w store.WaitInstance) (bool, error) {
	claimed, err := e.repo.TransitionWait(ctx, w.ID, store.WaitWaiting, store.WaitResuming, "")
	if err != nil {
		return false, fmt.Errorf("claim wait %s: %w", w.ID, err)
	}
	if !claimed {
		return false, nil
	}

	fn, ok := e.handler(w.ResumeAction)
	if !ok {
		slog.Error("no resume handler",
			"wait_id", w.ID,
			"resume_action", w.ResumeAction,
			"event", "wait_unhandled",
		)
		_, err := e.repo.TransitionWait(ctx, w.ID, store.WaitResuming, store.WaitFailed,
			"no handler for "+w.ResumeAction)
		return false, err
	}

	responses, err := e.repo.NotifyResponses(ctx, w.CorrelationIDs)
	if err != nil {
		return false, fmt.Errorf("load responses for wait %s: %w", w.ID, err)
	}

	if herr := fn(ctx, w.Payload, responses); herr != nil {
		slog.Error("resume handler failed",
			"wait_id", w.ID,
			"resume_action", w.ResumeAction,
			"plan_execution_id", w.PlanExecutionID,
			"error", herr,
		)
		_, err := e.repo.TransitionWait(ctx, w.ID, store.WaitResuming, store.WaitFailed, herr.Error())
		return false, err
	}

	if _, err := e.repo.TransitionWait(ctx, w.ID, store.WaitResuming, store.WaitDone, ""); err != nil {
		return false, err
	}
	slog.Debug("wait resumed", "wait_id", w.ID, "resume_action", w.ResumeAction)
	return true, nil
}

// newID returns a time-sortable ULID string.
func newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}
