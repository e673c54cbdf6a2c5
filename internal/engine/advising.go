package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// SubmitAdviseEvent queues an advise event. Events may be delivered more than
// once; only the first delivery for a terminal transition is executed.
func (e *Engine) SubmitAdviseEvent(ctx context.Context, ev ir.AdviseEvent) {
	e.enqueue(ctx, Event{Type: EventTypeAdvise, NodeExecutionID: ev.NodeExecutionID, Advise: &ev})
}

// HandleAdviseEvent computes advice for a terminal transition and executes
// it.
//
// The event is ignored when the attempt is retired, no longer in the event's
// status, already advised, or its plan has finished. Otherwise advisers are
// consulted in declaration order and the result is claimed in the store
// before its handler runs; a concurrent or later delivery loses the claim and
// does nothing.
func (e *Engine) HandleAdviseEvent(ctx context.Context, ev ir.AdviseEvent) error {
	ne, err := e.nodes.Get(ctx, ev.NodeExecutionID)
	if err != nil {
		return fmt.Errorf("handle advise event: %w", err)
	}
	switch {
	case ne.OldRetry:
		slog.Debug("advise event for retired attempt ignored", "node_execution_id", ne.UUID)
		return nil
	case ne.Status != ev.ToStatus:
		slog.Debug("stale advise event ignored",
			"node_execution_id", ne.UUID,
			"event_status", ev.ToStatus,
			"status", ne.Status,
		)
		return nil
	case ne.AdviseType != "":
		slog.Debug("advise event redelivered", "node_execution_id", ne.UUID, "advise", ne.AdviseType)
		return nil
	}

	pe, err := e.store.GetPlanExecution(ctx, ne.PlanExecutionID)
	if err != nil {
		return fmt.Errorf("handle advise event: %w", err)
	}
	if pe.Status.IsFinal() {
		slog.Debug("advise event for finished plan ignored",
			"plan_execution_id", pe.ID,
			"node_execution_id", ne.UUID,
		)
		return nil
	}

	if err := e.quotaCheck(pe.ID); err != nil {
		slog.Error("max steps quota exceeded",
			"plan_execution_id", pe.ID,
			"node_execution_id", ne.UUID,
			"limit", e.maxSteps,
			"event", "quota_exceeded",
		)
		if ferr := e.finishPlan(ctx, pe.ID, ir.StatusFailed, ne.UUID); ferr != nil {
			return ferr
		}
		return &RuntimeError{
			Code:            ErrCodeQuotaExceeded,
			Message:         "plan execution exceeded max steps",
			PlanExecutionID: pe.ID,
			NodeExecutionID: ne.UUID,
			Err:             err,
		}
	}

	// Advisers come from the stored node; the event body may be stale or
	// forged by a caller.
	ev.AdviserObtainments = ne.Node.Advisers
	adv, adviser, err := e.computeAdvise(ev)
	if err != nil {
		return e.failAdvising(ctx, ne, ev, err)
	}
	if adv.Type == ir.AdviseUnknown {
		slog.Warn("no adviser could advise",
			"plan_execution_id", pe.ID,
			"node_execution_id", ne.UUID,
			"node_id", ne.NodeID(),
			"status", ne.Status,
			"adviser", adviser,
			"event", "execution_stalled",
		)
		if err := e.nodes.RecordAdviseType(ctx, ne.UUID, ir.AdviseUnknown); err != nil {
			return err
		}
		return &RuntimeError{
			Code:            ErrCodeNoAdviser,
			Message:         fmt.Sprintf("no adviser could advise status %s", ne.Status),
			PlanExecutionID: pe.ID,
			NodeExecutionID: ne.UUID,
		}
	}

	claimed, err := e.store.ClaimAdvise(ctx, store.AdviseRecord{
		NodeExecutionID: ne.UUID,
		PlanExecutionID: pe.ID,
		ToStatus:        ev.ToStatus,
		Event:           ev,
		Advise:          adv,
	})
	if err != nil {
		return fmt.Errorf("handle advise event: %w", err)
	}
	if !claimed {
		slog.Debug("advise already claimed", "node_execution_id", ne.UUID, "to_status", ev.ToStatus)
		return nil
	}
	if err := e.nodes.RecordAdviseType(ctx, ne.UUID, adv.Type); err != nil {
		return err
	}

	slog.Info("advise computed",
		"plan_execution_id", pe.ID,
		"node_execution_id", ne.UUID,
		"node_id", ne.NodeID(),
		"status", ne.Status,
		"adviser", adviser,
		"advise", adv.Type,
	)
	return e.executeAdvise(ctx, ne, adv, ev.ToStatus)
}

// computeAdvise runs the adviser dispatch. A node without advisers ends the
// plan.
func (e *Engine) computeAdvise(ev ir.AdviseEvent) (ir.Advise, ir.AdviserType, error) {
	if len(ev.AdviserObtainments) == 0 {
		return ir.NewEndPlanAdvise(), "", nil
	}
	res, err := e.advisers.Dispatch(ev)
	if err != nil {
		return ir.UnknownAdvise(), res.AdviserType, err
	}
	return res.Advise, res.AdviserType, nil
}

// failAdvising marks the attempt (not the plan) FAILED, keeping the step's
// own failure alongside the advising error.
func (e *Engine) failAdvising(ctx context.Context, ne ir.NodeExecution, ev ir.AdviseEvent, cause error) error {
	failure := &ir.FailureInfo{
		Message: fmt.Sprintf("advising %s outcome failed: %v", ev.ToStatus, cause),
		Types:   []ir.FailureType{ir.FailureUnknown},
	}
	if ev.FailureInfo != nil {
		failure.Message += "; step failure: " + ev.FailureInfo.Message
		failure.Types = append(append([]ir.FailureType(nil), ev.FailureInfo.Types...), ir.FailureUnknown)
	}

	if _, _, err := e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
		From:        []ir.Status{ev.ToStatus},
		To:          ir.StatusFailed,
		At:          e.now(),
		FailureInfo: failure,
	}); err != nil {
		return err
	}
	if err := e.nodes.RecordAdviseType(ctx, ne.UUID, ir.AdviseUnknown); err != nil {
		return err
	}

	slog.Error("adviser failed",
		"plan_execution_id", ne.PlanExecutionID,
		"node_execution_id", ne.UUID,
		"error", cause,
		"event", "advise_failed",
	)
	return &RuntimeError{
		Code:            ErrCodeAdviseFailed,
		Message:         "adviser returned an error",
		PlanExecutionID: ne.PlanExecutionID,
		NodeExecutionID: ne.UUID,
		Err:             cause,
	}
}

// executeAdvise runs the handler for a claimed advise and marks the claim
// handled. Transient failures leave the claim unhandled for Recover;
// configuration errors are final.
func (e *Engine) executeAdvise(ctx context.Context, ne ir.NodeExecution, adv ir.Advise, toStatus ir.Status) error {
	herr := e.handleAdvise(ctx, ne, adv)
	switch {
	case herr == nil, IsCancelled(herr):
	case IsConfigError(herr):
		slog.Error("advise cannot be executed",
			"plan_execution_id", ne.PlanExecutionID,
			"node_execution_id", ne.UUID,
			"advise", adv.Type,
			"error", herr,
			"event", "execution_stalled",
		)
	default:
		return fmt.Errorf("execute %s advise for %s: %w", adv.Type, ne.UUID, herr)
	}

	if err := e.store.MarkAdviseHandled(ctx, ne.UUID, toStatus); err != nil {
		return err
	}
	if IsConfigError(herr) {
		return herr
	}
	return nil
}

// handleAdvise is the handler registry: one case per advise variant.
func (e *Engine) handleAdvise(ctx context.Context, ne ir.NodeExecution, adv ir.Advise) error {
	if err := adv.Validate(); err != nil {
		return &RuntimeError{
			Code:            ErrCodeUnsupportedAdvise,
			Message:         err.Error(),
			PlanExecutionID: ne.PlanExecutionID,
			NodeExecutionID: ne.UUID,
		}
	}

	switch adv.Type {
	case ir.AdviseNextStep:
		return e.handleNextStep(ctx, ne, *adv.NextStep)
	case ir.AdviseMarkSuccess:
		return e.handleMarkSuccess(ctx, ne, *adv.MarkSuccess)
	case ir.AdviseRetry:
		return e.handleRetry(ctx, ne, *adv.Retry)
	case ir.AdviseOnFail:
		return e.handleOnFail(ctx, ne, *adv.OnFail)
	case ir.AdviseEndPlan:
		return e.EndTransition(ctx, ne)
	case ir.AdviseInterventionWait:
		return e.handleInterventionWait(ctx, ne, *adv.InterventionWait)
	default:
		return &RuntimeError{
			Code:            ErrCodeUnsupportedAdvise,
			Message:         fmt.Sprintf("no handler for advise %q", adv.Type),
			PlanExecutionID: ne.PlanExecutionID,
			NodeExecutionID: ne.UUID,
		}
	}
}

func (e *Engine) handleNextStep(ctx context.Context, ne ir.NodeExecution, a ir.NextStepAdvise) error {
	if a.ToStatus != "" && a.ToStatus != ne.Status {
		updated, _, err := e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
			From: []ir.Status{ne.Status},
			To:   a.ToStatus,
			At:   e.now(),
		})
		if err != nil {
			return err
		}
		ne = updated
	}
	if a.NextNodeID == "" {
		return e.EndTransition(ctx, ne)
	}
	return e.triggerNext(ctx, ne, a.NextNodeID)
}

func (e *Engine) handleMarkSuccess(ctx context.Context, ne ir.NodeExecution, a ir.MarkSuccessAdvise) error {
	return e.handleNextStep(ctx, ne, ir.NextStepAdvise{NextNodeID: a.NextNodeID, ToStatus: ir.StatusSucceeded})
}

func (e *Engine) handleOnFail(ctx context.Context, ne ir.NodeExecution, a ir.OnFailAdvise) error {
	if a.NextNodeID == "" {
		return e.finishPlan(ctx, ne.PlanExecutionID, ir.StatusFailed, ne.UUID)
	}
	return e.triggerNext(ctx, ne, a.NextNodeID)
}

// triggerNext resolves nextNodeID in the plan and triggers it as a sibling of
// ne. A node missing from the plan is a configuration error, and so is a
// route back to a node some other attempt already triggered: nodes run once
// per plan execution, so the advice cannot be followed.
func (e *Engine) triggerNext(ctx context.Context, ne ir.NodeExecution, nextNodeID string) error {
	pe, err := e.store.GetPlanExecution(ctx, ne.PlanExecutionID)
	if err != nil {
		return err
	}
	node, ok := pe.Plan.Node(nextNodeID)
	if !ok {
		return newMissingNodeError(pe.ID, ne.UUID, nextNodeID)
	}
	next, err := e.triggerExecution(ctx, ne.Ambiance.Pop(), node, ne.UUID)
	if err != nil {
		return err
	}
	if next.PreviousID != ne.UUID {
		return newAlreadyTriggeredError(pe.ID, ne.UUID, next)
	}
	return nil
}

// handleRetry re-runs the attempt. With a wait interval the retry is a
// durable callback on a delay; otherwise the attempt is forked at once.
func (e *Engine) handleRetry(ctx context.Context, ne ir.NodeExecution, a ir.RetryAdvise) error {
	if a.WaitInterval <= 0 {
		return e.retryNode(ctx, a.RetryNodeExecutionID)
	}

	resumeID, err := e.delays.Delay(ctx, ne.PlanExecutionID, a.Wait())
	if err != nil {
		return fmt.Errorf("schedule retry of %s: %w", a.RetryNodeExecutionID, err)
	}
	if _, err := e.waits.WaitForAllOn(ctx, e.waitTopic, waitCallback(ne.PlanExecutionID, actionRetry, retryCallback{
		PlanExecutionID:      ne.PlanExecutionID,
		RetryNodeExecutionID: a.RetryNodeExecutionID,
	}), resumeID); err != nil {
		return fmt.Errorf("schedule retry of %s: %w", a.RetryNodeExecutionID, err)
	}

	slog.Info("retry scheduled",
		"plan_execution_id", ne.PlanExecutionID,
		"node_execution_id", a.RetryNodeExecutionID,
		"attempt", ne.Attempt(),
		"wait", a.Wait(),
		"resume_id", resumeID,
		"event", "retry_scheduled",
	)
	return nil
}

// retryNode forks attempt id and dispatches the successor. The fork is
// skipped when the plan has finished. A redelivered retry finds the attempt
// already forked; its successor is re-queued only if it never started.
func (e *Engine) retryNode(ctx context.Context, id string) error {
	ne, err := e.nodes.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	pe, err := e.store.GetPlanExecution(ctx, ne.PlanExecutionID)
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	if pe.Status.IsFinal() {
		slog.Info("retry dropped: plan execution finished",
			"plan_execution_id", pe.ID,
			"node_execution_id", id,
			"status", pe.Status,
		)
		return nil
	}

	res, err := e.nodes.Fork(ctx, id, e.ids.Generate())
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	if !res.Forked && res.Live.Status != ir.StatusQueued {
		return nil
	}
	e.enqueue(ctx, Event{Type: EventTypeDispatch, NodeExecutionID: res.Live.UUID})
	return nil
}

// handleInterventionWait parks the attempt until an operator intervenes. With
// a timeout, a delayed callback applies the configured repair action.
func (e *Engine) handleInterventionWait(ctx context.Context, ne ir.NodeExecution, a ir.InterventionWaitAdvise) error {
	_, changed, err := e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
		From: []ir.Status{ne.Status},
		To:   ir.StatusInterventionWaiting,
		At:   e.now(),
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	slog.Info("node execution waiting for intervention",
		"plan_execution_id", ne.PlanExecutionID,
		"node_execution_id", ne.UUID,
		"timeout", a.Timeout,
		"timeout_action", a.RepairActionCode,
	)
	if a.Timeout <= 0 {
		return nil
	}

	resumeID, err := e.delays.Delay(ctx, ne.PlanExecutionID, time.Duration(a.Timeout)*time.Second)
	if err != nil {
		return fmt.Errorf("schedule intervention timeout for %s: %w", ne.UUID, err)
	}
	if _, err := e.waits.WaitForAllOn(ctx, e.waitTopic, waitCallback(ne.PlanExecutionID, actionInterventionTimeout, interventionCallback{
		PlanExecutionID: ne.PlanExecutionID,
		NodeExecutionID: ne.UUID,
		Action:          a.RepairActionCode,
		NextNodeID:      a.NextNodeID,
	}), resumeID); err != nil {
		return fmt.Errorf("schedule intervention timeout for %s: %w", ne.UUID, err)
	}

	_, _, err = e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
		From:     []ir.Status{ir.StatusInterventionWaiting},
		To:       ir.StatusInterventionWaiting,
		At:       e.now(),
		NotifyID: &resumeID,
	})
	return err
}
