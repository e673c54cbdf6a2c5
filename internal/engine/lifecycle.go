package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// planLevel is the root ambiance level of every plan execution.
const planLevel ir.StepType = "PLAN"

// Start creates a plan execution and triggers its starting node.
//
// In sync dispatch mode Start returns once the plan has finished or every
// live attempt is suspended; the returned record reflects that state.
func (e *Engine) Start(ctx context.Context, plan ir.Plan) (ir.PlanExecution, error) {
	if err := plan.Validate(); err != nil {
		return ir.PlanExecution{}, fmt.Errorf("start plan: %w", err)
	}
	hash, err := ir.PlanHash(plan)
	if err != nil {
		return ir.PlanExecution{}, fmt.Errorf("start plan: %w", err)
	}

	now := e.now().UTC()
	pe := ir.PlanExecution{
		ID:       e.ids.Generate(),
		Plan:     plan,
		PlanHash: hash,
		Status:   ir.StatusRunning,
		StartTs:  &now,
	}
	if _, err := e.store.CreatePlanExecution(ctx, pe); err != nil {
		return ir.PlanExecution{}, fmt.Errorf("start plan: %w", err)
	}

	slog.Info("plan execution started",
		"plan_execution_id", pe.ID,
		"plan_id", plan.UUID,
		"plan_hash", hash,
	)

	root := ir.NewAmbiance(pe.ID, ir.Level{
		SetupID:    plan.UUID,
		RuntimeID:  pe.ID,
		Identifier: "plan",
		StepType:   planLevel,
	})
	first, _ := plan.Node(plan.StartingNodeID)
	if _, err := e.TriggerExecution(ctx, root, first); err != nil {
		return ir.PlanExecution{}, fmt.Errorf("start plan: %w", err)
	}

	return e.store.GetPlanExecution(ctx, pe.ID)
}

// TriggerExecution creates the attempt for node under parent and queues its
// dispatch.
//
// At most one live attempt exists per (plan execution, node): when the node
// was already triggered the existing live attempt is returned and nothing is
// queued, which makes redelivered next-step advice harmless.
func (e *Engine) TriggerExecution(ctx context.Context, parent ir.Ambiance, node ir.PlanNode) (ir.NodeExecution, error) {
	return e.triggerExecution(ctx, parent, node, "")
}

// triggerExecution is TriggerExecution recording previousID, the attempt
// whose advise routed to node.
func (e *Engine) triggerExecution(ctx context.Context, parent ir.Ambiance, node ir.PlanNode, previousID string) (ir.NodeExecution, error) {
	planID := parent.PlanExecutionID()
	pe, err := e.store.GetPlanExecution(ctx, planID)
	if err != nil {
		return ir.NodeExecution{}, fmt.Errorf("trigger node %s: %w", node.UUID, err)
	}
	if pe.Status.IsFinal() {
		return ir.NodeExecution{}, newPlanFinishedError(planID, string(pe.Status))
	}

	id := e.ids.Generate()
	ne := ir.NodeExecution{
		UUID:            id,
		PlanExecutionID: planID,
		Node:            node,
		Ambiance: parent.Push(ir.Level{
			SetupID:    node.UUID,
			RuntimeID:  id,
			Identifier: node.Identifier,
			StepType:   node.StepType,
		}),
		Status:     ir.StatusQueued,
		RetryIDs:   []string{},
		PreviousID: previousID,
	}

	created, err := e.nodes.Create(ctx, ne)
	if err != nil {
		return ir.NodeExecution{}, fmt.Errorf("trigger node %s: %w", node.UUID, err)
	}
	if !created {
		return e.nodes.GetLiveForNode(ctx, planID, node.UUID)
	}

	slog.Info("node execution triggered",
		"plan_execution_id", planID,
		"node_id", node.UUID,
		"identifier", node.Identifier,
		"node_execution_id", id,
	)
	e.enqueue(ctx, Event{Type: EventTypeDispatch, NodeExecutionID: id})
	return ne, nil
}

// dispatch starts a queued attempt and runs its step. Start is a QUEUED ->
// RUNNING conditional update, so each attempt's step runs at most once.
func (e *Engine) dispatch(ctx context.Context, id string) error {
	ne, err := e.nodes.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", id, err)
	}
	if ne.OldRetry {
		slog.Debug("dispatch skipped: attempt retired", "node_execution_id", id)
		return nil
	}
	pe, err := e.store.GetPlanExecution(ctx, ne.PlanExecutionID)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", id, err)
	}
	if pe.Status.IsFinal() {
		return &RuntimeError{
			Code:            ErrCodeCancelled,
			Message:         "dispatch dropped",
			PlanExecutionID: pe.ID,
			NodeExecutionID: id,
		}
	}

	started, ok, err := e.nodes.Start(ctx, id, e.now())
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", id, err)
	}
	if !ok {
		slog.Debug("dispatch skipped: attempt already started", "node_execution_id", id, "status", started.Status)
		return nil
	}

	resp, err := e.facilitator.Execute(ctx, started.Ambiance, started.Node)
	if err != nil {
		slog.Warn("step execution failed",
			"node_execution_id", id,
			"node_id", started.NodeID(),
			"error", err,
		)
		resp = ir.StepResponse{
			Status:      ir.StatusErrored,
			FailureInfo: &ir.FailureInfo{Message: err.Error(), Types: []ir.FailureType{ir.FailureUnknown}},
		}
	}
	return e.HandleStepResponse(ctx, id, resp)
}

// HandleStepResponse applies a step outcome to an attempt.
func (e *Engine) HandleStepResponse(ctx context.Context, nodeExecutionID string, resp ir.StepResponse) error {
	ne, err := e.nodes.Get(ctx, nodeExecutionID)
	if err != nil {
		return fmt.Errorf("handle step response: %w", err)
	}
	if ne.OldRetry {
		slog.Debug("step response for retired attempt ignored", "node_execution_id", ne.UUID)
		return nil
	}

	switch {
	case resp.TaskID != "":
		return e.suspendOnTask(ctx, ne, resp)

	case resp.Status.IsFinal():
		return e.completeNode(ctx, ne, resp)

	case resp.Status.IsWaiting():
		_, _, err := e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
			To:          resp.Status,
			At:          e.now(),
			FailureInfo: resp.FailureInfo,
		})
		return err

	default:
		return e.completeNode(ctx, ne, ir.StepResponse{
			Status: ir.StatusErrored,
			FailureInfo: &ir.FailureInfo{
				Message: fmt.Sprintf("invalid step response status %q", resp.Status),
				Types:   []ir.FailureType{ir.FailureUnknown},
			},
		})
	}
}

// suspendOnTask registers a durable callback on the task id and parks the
// attempt until the task's result is notified.
func (e *Engine) suspendOnTask(ctx context.Context, ne ir.NodeExecution, resp ir.StepResponse) error {
	status := ir.StatusTaskWaiting
	if resp.Status == ir.StatusAsyncWaiting || ne.Node.Facilitator.Type == ir.FacilitatorAsync {
		status = ir.StatusAsyncWaiting
	}

	taskID := resp.TaskID
	_, err := e.waits.WaitForAllOn(ctx, e.waitTopic, waitCallback(ne.PlanExecutionID, actionTask, taskCallback{
		PlanExecutionID: ne.PlanExecutionID,
		NodeExecutionID: ne.UUID,
		TaskID:          taskID,
	}), taskID)
	if err != nil {
		return fmt.Errorf("suspend %s on task %s: %w", ne.UUID, taskID, err)
	}

	// The task may already have resumed and completed the attempt; the
	// RUNNING guard then leaves it alone.
	_, changed, err := e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
		From:     []ir.Status{ir.StatusRunning},
		To:       status,
		At:       e.now(),
		NotifyID: &taskID,
	})
	if err != nil {
		return fmt.Errorf("suspend %s on task %s: %w", ne.UUID, taskID, err)
	}
	if changed {
		slog.Info("node execution waiting on task",
			"node_execution_id", ne.UUID,
			"node_id", ne.NodeID(),
			"task_id", taskID,
			"status", status,
		)
	}
	return nil
}

// completeNode records the terminal status durably and only then queues the
// advise event. A redelivered response finds the attempt already final and
// produces no second advise event.
func (e *Engine) completeNode(ctx context.Context, ne ir.NodeExecution, resp ir.StepResponse) error {
	cleared := ""
	updated, changed, err := e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
		To:          resp.Status,
		At:          e.now(),
		FailureInfo: resp.FailureInfo,
		NotifyID:    &cleared,
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", ne.UUID, err)
	}
	if !changed {
		slog.Debug("terminal transition already applied",
			"node_execution_id", ne.UUID,
			"status", updated.Status,
		)
		return nil
	}

	slog.Info("node execution finished",
		"plan_execution_id", updated.PlanExecutionID,
		"node_id", updated.NodeID(),
		"node_execution_id", updated.UUID,
		"attempt", updated.Attempt(),
		"status", updated.Status,
	)

	ev := adviseEventFor(updated, ne.Status)
	e.enqueue(ctx, Event{Type: EventTypeAdvise, NodeExecutionID: updated.UUID, Advise: &ev})
	return nil
}

// adviseEventFor builds the advise event for an attempt's current status.
func adviseEventFor(ne ir.NodeExecution, from ir.Status) ir.AdviseEvent {
	return ir.AdviseEvent{
		Ambiance:           ne.Ambiance,
		NodeExecutionID:    ne.UUID,
		ToStatus:           ne.Status,
		FromStatus:         from,
		FailureInfo:        ne.FailureInfo.Clone(),
		RetryIDs:           append([]string(nil), ne.RetryIDs...),
		AdviserObtainments: ne.Node.Advisers,
	}
}

// EndTransition finishes the plan execution of ne. The plan status follows
// the node: positive statuses succeed it, ABORTED and EXPIRED carry over,
// anything else fails it. Pending waits of the plan are cancelled.
func (e *Engine) EndTransition(ctx context.Context, ne ir.NodeExecution) error {
	return e.finishPlan(ctx, ne.PlanExecutionID, planStatusFor(ne.Status), ne.UUID)
}

func planStatusFor(s ir.Status) ir.Status {
	switch {
	case s.IsPositive():
		return ir.StatusSucceeded
	case s == ir.StatusAborted, s == ir.StatusExpired:
		return s
	default:
		return ir.StatusFailed
	}
}

func (e *Engine) finishPlan(ctx context.Context, planExecutionID string, status ir.Status, cause string) error {
	changed, err := e.store.FinishPlanExecution(ctx, planExecutionID, status, e.now())
	if err != nil {
		return fmt.Errorf("finish plan execution %s: %w", planExecutionID, err)
	}
	if !changed {
		slog.Debug("plan execution already finished", "plan_execution_id", planExecutionID)
		return nil
	}

	cancelled, err := e.waits.CancelForPlan(ctx, planExecutionID)
	if err != nil {
		return fmt.Errorf("finish plan execution %s: %w", planExecutionID, err)
	}
	e.releasePlan(planExecutionID)

	slog.Info("plan execution finished",
		"plan_execution_id", planExecutionID,
		"status", status,
		"node_execution_id", cause,
		"cancelled_waits", cancelled,
	)
	return nil
}

// Abort marks a running plan execution ABORTED, aborts its unfinished
// attempts and cancels its pending waits. Queued dispatches and delayed
// retries of the plan are dropped when they come up.
func (e *Engine) Abort(ctx context.Context, planExecutionID string) error {
	changed, err := e.store.FinishPlanExecution(ctx, planExecutionID, ir.StatusAborted, e.now())
	if err != nil {
		return fmt.Errorf("abort %s: %w", planExecutionID, err)
	}
	if !changed {
		pe, err := e.store.GetPlanExecution(ctx, planExecutionID)
		if err != nil {
			return fmt.Errorf("abort %s: %w", planExecutionID, err)
		}
		return newPlanFinishedError(planExecutionID, string(pe.Status))
	}

	aborted, err := e.store.AbortNodeExecutions(ctx, planExecutionID, e.now())
	if err != nil {
		return fmt.Errorf("abort %s: %w", planExecutionID, err)
	}
	cancelled, err := e.waits.CancelForPlan(ctx, planExecutionID)
	if err != nil {
		return fmt.Errorf("abort %s: %w", planExecutionID, err)
	}
	e.releasePlan(planExecutionID)

	slog.Info("plan execution aborted",
		"plan_execution_id", planExecutionID,
		"aborted_nodes", aborted,
		"cancelled_waits", cancelled,
		"event", "plan_aborted",
	)
	return nil
}
