package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
	"github.com/roach88/orchestra/internal/waitnotify"
)

// Resume actions of the engine's durable callbacks.
const (
	actionRetry               = "engine.retry"
	actionTask                = "engine.task"
	actionInterventionTimeout = "engine.intervention-timeout"
)

// retryCallback resumes a delayed retry. Everything needed to retry lives in
// the payload, so a restarted process can resume it.
type retryCallback struct {
	PlanExecutionID      string `json:"plan_execution_id"`
	RetryNodeExecutionID string `json:"retry_node_execution_id"`
}

// taskCallback resumes an attempt suspended on a delegate task.
type taskCallback struct {
	PlanExecutionID string `json:"plan_execution_id"`
	NodeExecutionID string `json:"node_execution_id"`
	TaskID          string `json:"task_id"`
}

// interventionCallback applies the timeout action of a manual intervention.
type interventionCallback struct {
	PlanExecutionID string              `json:"plan_execution_id"`
	NodeExecutionID string              `json:"node_execution_id"`
	Action          ir.RepairActionCode `json:"action"`
	NextNodeID      string              `json:"next_node_id,omitempty"`
}

func waitCallback(planExecutionID, action string, payload any) waitnotify.Callback {
	return waitnotify.Callback{
		PlanExecutionID: planExecutionID,
		ResumeAction:    action,
		Payload:         payload,
	}
}

func (e *Engine) registerCallbacks() {
	e.waits.Register(actionRetry, e.resumeRetry)
	e.waits.Register(actionTask, e.resumeTask)
	e.waits.Register(actionInterventionTimeout, e.resumeInterventionTimeout)
}

func (e *Engine) resumeRetry(ctx context.Context, payload json.RawMessage, _ map[string]store.NotifyResponse) error {
	var cb retryCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return fmt.Errorf("decode retry callback: %w", err)
	}
	return e.retryNode(ctx, cb.RetryNodeExecutionID)
}

func (e *Engine) resumeTask(ctx context.Context, payload json.RawMessage, responses map[string]store.NotifyResponse) error {
	var cb taskCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return fmt.Errorf("decode task callback: %w", err)
	}
	r, ok := responses[cb.TaskID]
	if !ok {
		return fmt.Errorf("task %s resumed without a response", cb.TaskID)
	}
	return e.HandleStepResponse(ctx, cb.NodeExecutionID, taskResponse(r))
}

// taskResponse converts a notified task result into a step response. Error
// notifications and anything that is not a final step response become an
// ERRORED outcome.
func taskResponse(r store.NotifyResponse) ir.StepResponse {
	errored := func(msg string) ir.StepResponse {
		return ir.StepResponse{
			Status:      ir.StatusErrored,
			FailureInfo: &ir.FailureInfo{Message: msg, Types: []ir.FailureType{ir.FailureUnknown}},
		}
	}

	if r.IsError {
		var msg string
		if err := json.Unmarshal(r.Response, &msg); err != nil || msg == "" {
			msg = string(r.Response)
		}
		return errored(msg)
	}

	var resp ir.StepResponse
	if err := json.Unmarshal(r.Response, &resp); err != nil {
		return errored(fmt.Sprintf("invalid task response: %v", err))
	}
	if !resp.Status.IsFinal() {
		return errored(fmt.Sprintf("invalid task response status %q", resp.Status))
	}
	resp.TaskID = ""
	return resp
}

func (e *Engine) resumeInterventionTimeout(ctx context.Context, payload json.RawMessage, _ map[string]store.NotifyResponse) error {
	var cb interventionCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return fmt.Errorf("decode intervention callback: %w", err)
	}
	ne, err := e.nodes.Get(ctx, cb.NodeExecutionID)
	if err != nil {
		return err
	}
	if ne.Status != ir.StatusInterventionWaiting {
		return nil
	}

	slog.Info("intervention timed out",
		"plan_execution_id", cb.PlanExecutionID,
		"node_execution_id", cb.NodeExecutionID,
		"action", cb.Action,
		"event", "intervention_expired",
	)
	return e.resolveIntervention(ctx, ne, cb.Action, cb.NextNodeID, ir.StatusExpired)
}

// NotifyTask delivers a delegate task's result. accepted is false when a
// result for the task was already recorded. In sync dispatch mode the waiting
// attempt is resumed before returning.
func (e *Engine) NotifyTask(ctx context.Context, taskID string, resp ir.StepResponse) (bool, error) {
	return e.notify(ctx, taskID, resp, false)
}

// NotifyTaskError delivers a delegate task failure.
func (e *Engine) NotifyTaskError(ctx context.Context, taskID, message string) (bool, error) {
	return e.notify(ctx, taskID, message, true)
}

func (e *Engine) notify(ctx context.Context, correlationID string, response any, isError bool) (bool, error) {
	accepted, err := e.waits.Notify(ctx, correlationID, response, isError)
	if err != nil {
		return false, err
	}
	if accepted && e.syncDispatch {
		if _, err := e.waits.ProcessReady(ctx, e.waitTopic, 0); err != nil {
			return accepted, err
		}
	}
	return accepted, nil
}
