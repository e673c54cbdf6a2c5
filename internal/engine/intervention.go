package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// Intervene resolves an attempt waiting for manual intervention with the
// operator's repair action. Any pending intervention timeout is cancelled.
// nextNodeID is used by actions that continue the plan (IGNORE, ON_FAIL,
// MARK_AS_SUCCESS).
func (e *Engine) Intervene(ctx context.Context, nodeExecutionID string, action ir.RepairActionCode, nextNodeID string) error {
	if !ir.ValidRepairActions[action] {
		return fmt.Errorf("intervene %s: unknown repair action %q", nodeExecutionID, action)
	}
	ne, err := e.nodes.GetLive(ctx, nodeExecutionID)
	if err != nil {
		return fmt.Errorf("intervene %s: %w", nodeExecutionID, err)
	}
	if ne.Status != ir.StatusInterventionWaiting {
		return &RuntimeError{
			Code:            ErrCodeNotWaiting,
			Message:         fmt.Sprintf("attempt is %s", ne.Status),
			PlanExecutionID: ne.PlanExecutionID,
			NodeExecutionID: ne.UUID,
		}
	}
	if ne.NotifyID != "" {
		if _, err := e.waits.Cancel(ctx, ne.NotifyID); err != nil {
			return fmt.Errorf("intervene %s: %w", nodeExecutionID, err)
		}
	}

	slog.Info("intervention received",
		"plan_execution_id", ne.PlanExecutionID,
		"node_execution_id", ne.UUID,
		"action", action,
	)
	return e.resolveIntervention(ctx, ne, action, nextNodeID, ir.StatusFailed)
}

// resolveIntervention moves the attempt out of INTERVENTION_WAITING into
// restore and applies action. Exactly one resolver wins the transition; a
// late timeout after an operator decision does nothing.
func (e *Engine) resolveIntervention(ctx context.Context, ne ir.NodeExecution, action ir.RepairActionCode, nextNodeID string, restore ir.Status) error {
	cleared := ""
	restored, changed, err := e.nodes.Transition(ctx, ne.UUID, store.StatusUpdate{
		From:     []ir.Status{ir.StatusInterventionWaiting},
		To:       restore,
		At:       e.now(),
		NotifyID: &cleared,
	})
	if err != nil {
		return err
	}
	if !changed {
		slog.Debug("intervention already resolved", "node_execution_id", ne.UUID, "status", restored.Status)
		return nil
	}

	if action == ir.RepairRetry {
		if err := e.nodes.RecordAdviseType(ctx, ne.UUID, ir.AdviseRetry); err != nil {
			return err
		}
		return e.retryNode(ctx, ne.UUID)
	}

	var failureTypes []ir.FailureType
	if restored.FailureInfo != nil {
		failureTypes = restored.FailureInfo.Types
	}
	adv, err := advise.RepairAdvise(action, nextNodeID, failureTypes)
	if err != nil {
		return err
	}
	if err := e.nodes.RecordAdviseType(ctx, ne.UUID, adv.Type); err != nil {
		return err
	}
	if err := e.handleAdvise(ctx, restored, adv); err != nil && !IsCancelled(err) {
		return err
	}
	return nil
}
