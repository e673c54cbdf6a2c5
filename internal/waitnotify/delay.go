package waitnotify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/orchestra/internal/store"
)

// DelayEventHelper schedules notifications in the future.
type DelayEventHelper struct {
	repo Repository
	now  func() time.Time
}

// NewDelayEventHelper creates a helper reading wall time from now.
func NewDelayEventHelper(repo Repository, now func() time.Time) *DelayEventHelper {
	if now == nil {
		now = time.Now
	}
	return &DelayEventHelper{repo: repo, now: now}
}

// Delay persists a delay event firing after d and returns its resume id.
// The resume id is a correlation id: a wait registered on it resumes once
// FireDue runs at or after the fire time.
func (h *DelayEventHelper) Delay(ctx context.Context, planExecutionID string, d time.Duration) (string, error) {
	now := h.now()
	resumeID := newID(now)
	fireAt := now.Add(d)
	err := h.repo.InsertDelay(ctx, store.DelayEvent{
		ResumeID:        resumeID,
		PlanExecutionID: planExecutionID,
		FireAt:          fireAt,
	})
	if err != nil {
		return "", fmt.Errorf("delay: %w", err)
	}
	slog.Debug("delay scheduled",
		"resume_id", resumeID,
		"plan_execution_id", planExecutionID,
		"fire_at", fireAt,
	)
	return resumeID, nil
}

// FireDue notifies every delay whose fire time has passed.
func (h *DelayEventHelper) FireDue(ctx context.Context) ([]string, error) {
	fired, err := h.repo.FireDueDelays(ctx, h.now())
	if err != nil {
		return nil, err
	}
	for _, id := range fired {
		slog.Debug("delay fired", "resume_id", id)
	}
	return fired, nil
}
