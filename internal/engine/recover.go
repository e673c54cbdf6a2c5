package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/orchestra/internal/ir"
)

// Recover re-derives outstanding work from the store after a restart:
//
//  1. waits interrupted mid-resume become eligible again
//  2. claimed advises whose handler never completed are re-executed
//  3. attempts of running plans that finished without being advised get a
//     fresh advise event
//  4. queued attempts of running plans are re-dispatched
//
// Every step relies on handlers and transitions being idempotent.
func (e *Engine) Recover(ctx context.Context) error {
	if err := e.waits.Recover(ctx); err != nil {
		return fmt.Errorf("recover waits: %w", err)
	}

	pending, err := e.store.UnhandledAdvises(ctx)
	if err != nil {
		return fmt.Errorf("recover advises: %w", err)
	}
	for _, rec := range pending {
		ne, err := e.nodes.Get(ctx, rec.NodeExecutionID)
		if err != nil {
			return fmt.Errorf("recover advise for %s: %w", rec.NodeExecutionID, err)
		}
		pe, err := e.store.GetPlanExecution(ctx, rec.PlanExecutionID)
		if err != nil {
			return fmt.Errorf("recover advise for %s: %w", rec.NodeExecutionID, err)
		}
		if pe.Status.IsFinal() {
			if err := e.store.MarkAdviseHandled(ctx, rec.NodeExecutionID, rec.ToStatus); err != nil {
				return err
			}
			continue
		}
		slog.Info("re-executing advise",
			"plan_execution_id", rec.PlanExecutionID,
			"node_execution_id", rec.NodeExecutionID,
			"advise", rec.Advise.Type,
		)
		if err := e.executeAdvise(ctx, ne, rec.Advise, rec.ToStatus); err != nil {
			slog.Error("advise recovery failed",
				"node_execution_id", rec.NodeExecutionID,
				"error", err,
			)
		}
	}

	plans, err := e.store.ListPlanExecutions(ctx)
	if err != nil {
		return fmt.Errorf("recover plans: %w", err)
	}
	reemitted, redispatched := 0, 0
	for _, pe := range plans {
		if pe.Status != ir.StatusRunning {
			continue
		}
		nodes, err := e.nodes.ListByPlan(ctx, pe.ID)
		if err != nil {
			return fmt.Errorf("recover plan %s: %w", pe.ID, err)
		}
		for _, ne := range nodes {
			switch {
			case ne.OldRetry:
			case ne.Status.IsFinal() && ne.AdviseType == "":
				ev := adviseEventFor(ne, "")
				e.enqueue(ctx, Event{Type: EventTypeAdvise, NodeExecutionID: ne.UUID, Advise: &ev})
				reemitted++
			case ne.Status == ir.StatusQueued:
				e.enqueue(ctx, Event{Type: EventTypeDispatch, NodeExecutionID: ne.UUID})
				redispatched++
			case ne.Status == ir.StatusRunning:
				slog.Warn("node execution interrupted while running",
					"plan_execution_id", pe.ID,
					"node_execution_id", ne.UUID,
					"event", "execution_interrupted",
				)
			}
		}
	}

	slog.Info("engine recovered",
		"advises", len(pending),
		"reemitted", reemitted,
		"redispatched", redispatched,
	)
	return nil
}
