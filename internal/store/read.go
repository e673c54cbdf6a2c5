package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/orchestra/internal/ir"
)

// GetPlanExecution retrieves a plan execution by id.
// Returns an error wrapping ErrNotFound if it does not exist.
func (s *Store) GetPlanExecution(ctx context.Context, id string) (ir.PlanExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planExecutionColumns+`
		FROM plan_executions
		WHERE id = ?
	`, id)
	pe, err := scanPlanExecution(row)
	if err != nil {
		return ir.PlanExecution{}, wrapNotFound(err, "get plan execution %s", id)
	}
	return pe, nil
}

// ListPlanExecutions returns all plan executions in creation order.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListPlanExecutions(ctx context.Context) ([]ir.PlanExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planExecutionColumns+`
		FROM plan_executions
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query plan executions: %w", err)
	}
	defer rows.Close()

	plans := []ir.PlanExecution{}
	for rows.Next() {
		pe, err := scanPlanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan execution: %w", err)
		}
		plans = append(plans, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan executions: %w", err)
	}
	return plans, nil
}

// GetNodeExecution retrieves an attempt by its own uuid, historical or live.
// Returns an error wrapping ErrNotFound if it does not exist.
func (s *Store) GetNodeExecution(ctx context.Context, id string) (ir.NodeExecution, error) {
	return getNodeExecution(ctx, s.db, id)
}

func getNodeExecution(ctx context.Context, q querier, id string) (ir.NodeExecution, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+nodeExecutionColumns+`
		FROM node_executions
		WHERE id = ?
	`, id)
	ne, err := scanNodeExecution(row)
	if err != nil {
		return ir.NodeExecution{}, wrapNotFound(err, "get node execution %s", id)
	}
	return ne, nil
}

// GetLiveNodeExecution resolves any uuid of a retry lineage to its live
// attempt: the unique non-historical record whose uuid is id or whose
// retry_ids contain id.
func (s *Store) GetLiveNodeExecution(ctx context.Context, id string) (ir.NodeExecution, error) {
	return getLiveNodeExecution(ctx, s.db, id)
}

func getLiveNodeExecution(ctx context.Context, q querier, id string) (ir.NodeExecution, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+nodeExecutionColumns+`
		FROM node_executions n
		WHERE n.old_retry = 0
		  AND (n.id = ? OR EXISTS (
			SELECT 1 FROM json_each(n.retry_ids) r WHERE r.value = ?
		  ))
	`, id, id)
	ne, err := scanNodeExecution(row)
	if err != nil {
		return ir.NodeExecution{}, wrapNotFound(err, "get live node execution %s", id)
	}
	return ne, nil
}

// GetLiveNodeExecutionForNode returns the live attempt of a node in a plan
// execution.
func (s *Store) GetLiveNodeExecutionForNode(ctx context.Context, planExecutionID, nodeID string) (ir.NodeExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+nodeExecutionColumns+`
		FROM node_executions
		WHERE plan_execution_id = ? AND node_id = ? AND old_retry = 0
	`, planExecutionID, nodeID)
	ne, err := scanNodeExecution(row)
	if err != nil {
		return ir.NodeExecution{}, wrapNotFound(err, "get node execution for %s/%s", planExecutionID, nodeID)
	}
	return ne, nil
}

// ListNodeExecutions returns every attempt of a plan execution, historical
// records included, in insertion order.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListNodeExecutions(ctx context.Context, planExecutionID string) ([]ir.NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeExecutionColumns+`
		FROM node_executions
		WHERE plan_execution_id = ?
		ORDER BY seq ASC
	`, planExecutionID)
	if err != nil {
		return nil, fmt.Errorf("query node executions: %w", err)
	}
	defer rows.Close()

	executions := []ir.NodeExecution{}
	for rows.Next() {
		ne, err := scanNodeExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node execution: %w", err)
		}
		executions = append(executions, ne)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node executions: %w", err)
	}
	return executions, nil
}

// GetAdvise returns the advise claimed for a terminal transition.
func (s *Store) GetAdvise(ctx context.Context, nodeExecutionID string, toStatus ir.Status) (AdviseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, node_execution_id, plan_execution_id, to_status, event, advise, handled
		FROM advise_events
		WHERE node_execution_id = ? AND to_status = ?
	`, nodeExecutionID, string(toStatus))
	rec, err := scanAdviseRecord(row)
	if err != nil {
		return AdviseRecord{}, wrapNotFound(err, "get advise %s/%s", nodeExecutionID, toStatus)
	}
	return rec, nil
}

// UnhandledAdvises returns claimed advises whose handler never completed,
// oldest first.
func (s *Store) UnhandledAdvises(ctx context.Context) ([]AdviseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, node_execution_id, plan_execution_id, to_status, event, advise, handled
		FROM advise_events
		WHERE handled = 0
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unhandled advises: %w", err)
	}
	defer rows.Close()

	records := []AdviseRecord{}
	for rows.Next() {
		rec, err := scanAdviseRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan advise: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate advises: %w", err)
	}
	return records, nil
}

func scanAdviseRecord(row rowScanner) (AdviseRecord, error) {
	var (
		rec                   AdviseRecord
		toStatus              string
		eventJSON, adviseJSON string
		handled               int
	)
	if err := row.Scan(&rec.Seq, &rec.NodeExecutionID, &rec.PlanExecutionID, &toStatus,
		&eventJSON, &adviseJSON, &handled); err != nil {
		return AdviseRecord{}, err
	}
	if err := json.Unmarshal([]byte(eventJSON), &rec.Event); err != nil {
		return AdviseRecord{}, fmt.Errorf("unmarshal advise event: %w", err)
	}
	if err := json.Unmarshal([]byte(adviseJSON), &rec.Advise); err != nil {
		return AdviseRecord{}, fmt.Errorf("unmarshal advise: %w", err)
	}
	rec.ToStatus = ir.Status(toStatus)
	rec.Handled = handled != 0
	return rec, nil
}

// PlanState summarizes a plan execution for recovery and tracing.
type PlanState struct {
	Plan            ir.PlanExecution
	NodeExecutions  []ir.NodeExecution
	LiveCount       int // attempts with old_retry = 0
	RetryCount      int // historical attempts
	PendingCount    int // live attempts not in a final status
	WaitingCount    int // live attempts suspended on a callback
	UnhandledAdvise int // claimed advises whose handler has not completed
}

// GetPlanState retrieves a plan execution with all of its attempts and
// counts what is still outstanding.
func (s *Store) GetPlanState(ctx context.Context, planExecutionID string) (PlanState, error) {
	pe, err := s.GetPlanExecution(ctx, planExecutionID)
	if err != nil {
		return PlanState{}, fmt.Errorf("get plan state: %w", err)
	}
	executions, err := s.ListNodeExecutions(ctx, planExecutionID)
	if err != nil {
		return PlanState{}, fmt.Errorf("get plan state: %w", err)
	}

	state := PlanState{Plan: pe, NodeExecutions: executions}
	for _, ne := range executions {
		if ne.OldRetry {
			state.RetryCount++
			continue
		}
		state.LiveCount++
		if !ne.Status.IsFinal() {
			state.PendingCount++
		}
		if ne.Status.IsWaiting() {
			state.WaitingCount++
		}
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM advise_events
		WHERE plan_execution_id = ? AND handled = 0
	`, planExecutionID).Scan(&state.UnhandledAdvise)
	if err != nil {
		return PlanState{}, fmt.Errorf("get plan state: count advises: %w", err)
	}
	return state, nil
}
