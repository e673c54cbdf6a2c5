package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/orchestra/internal/ir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreatePlanExecution inserts a plan execution record.
// Uses ON CONFLICT DO NOTHING for idempotency; inserted reports whether a new
// row was written.
func (s *Store) CreatePlanExecution(ctx context.Context, pe ir.PlanExecution) (inserted bool, err error) {
	planJSON, err := marshalCanonical("plan", pe.Plan)
	if err != nil {
		return false, fmt.Errorf("create plan execution: %w", err)
	}

	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO plan_executions
			(id, plan, plan_hash, status, start_ts, end_ts, engine_version, model_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			pe.ID,
			planJSON,
			pe.PlanHash,
			string(pe.Status),
			nullTime(pe.StartTs),
			nullTime(pe.EndTs),
			ir.EngineVersion,
			ir.ModelVersion,
		)
		if err != nil {
			return err
		}
		inserted, err = rowsChanged(res)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("create plan execution: %w", err)
	}
	return inserted, nil
}

// FinishPlanExecution moves a plan execution to a final status.
// Returns false if the plan execution had already finished.
func (s *Store) FinishPlanExecution(ctx context.Context, id string, status ir.Status, at time.Time) (changed bool, err error) {
	finals, finalArgs := inList(ir.FinalStatuses)
	args := append([]any{string(status), at.UTC().UnixNano(), id}, finalArgs...)

	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE plan_executions SET status = ?, end_ts = ?
			WHERE id = ? AND status NOT IN `+finals, args...)
		if err != nil {
			return err
		}
		changed, err = rowsChanged(res)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("finish plan execution: %w", err)
	}
	return changed, nil
}

// InsertNodeExecution inserts a new attempt.
//
// Uses ON CONFLICT DO NOTHING: a duplicate id, or a second live attempt for
// the same (plan execution, node), is silently ignored and inserted is false.
func (s *Store) InsertNodeExecution(ctx context.Context, ne ir.NodeExecution) (inserted bool, err error) {
	err = withRetry(ctx, func() error {
		inserted, err = insertNodeExecution(ctx, s.db, ne, true)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("insert node execution: %w", err)
	}
	return inserted, nil
}

func insertNodeExecution(ctx context.Context, q querier, ne ir.NodeExecution, ignoreConflict bool) (bool, error) {
	nodeJSON, err := marshalCanonical("node", ne.Node)
	if err != nil {
		return false, err
	}
	ambianceJSON, err := marshalCanonical("ambiance", ne.Ambiance)
	if err != nil {
		return false, err
	}
	retryIDs, err := marshalRetryIDs(ne.RetryIDs)
	if err != nil {
		return false, err
	}
	failure, err := marshalFailure(ne.FailureInfo)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO node_executions
		(id, plan_execution_id, node_id, node, ambiance, status, start_ts, end_ts,
		 retry_ids, old_retry, failure_info, notify_id, advise_type, previous_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if ignoreConflict {
		query += `
		ON CONFLICT DO NOTHING`
	}

	res, err := q.ExecContext(ctx, query,
		ne.UUID,
		ne.PlanExecutionID,
		ne.NodeID(),
		nodeJSON,
		ambianceJSON,
		string(ne.Status),
		nullTime(ne.StartTs),
		nullTime(ne.EndTs),
		retryIDs,
		boolToInt(ne.OldRetry),
		failure,
		nullString(ne.NotifyID),
		nullString(string(ne.AdviseType)),
		nullString(ne.PreviousID),
	)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

// SaveNodeExecution overwrites the mutable columns of a live attempt.
// Historical retry records are immutable; saving one returns ErrNotFound.
func (s *Store) SaveNodeExecution(ctx context.Context, ne ir.NodeExecution) error {
	ambianceJSON, err := marshalCanonical("ambiance", ne.Ambiance)
	if err != nil {
		return fmt.Errorf("save node execution: %w", err)
	}
	failure, err := marshalFailure(ne.FailureInfo)
	if err != nil {
		return fmt.Errorf("save node execution: %w", err)
	}

	var changed bool
	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE node_executions
			SET ambiance = ?, status = ?, start_ts = ?, end_ts = ?,
			    failure_info = ?, notify_id = ?, advise_type = ?
			WHERE id = ? AND old_retry = 0
		`,
			ambianceJSON,
			string(ne.Status),
			nullTime(ne.StartTs),
			nullTime(ne.EndTs),
			failure,
			nullString(ne.NotifyID),
			nullString(string(ne.AdviseType)),
			ne.UUID,
		)
		if err != nil {
			return err
		}
		changed, err = rowsChanged(res)
		return err
	})
	if err != nil {
		return fmt.Errorf("save node execution: %w", err)
	}
	if !changed {
		return fmt.Errorf("save node execution %s: no live record: %w", ne.UUID, ErrNotFound)
	}
	return nil
}

// StatusUpdate describes a conditional status transition of a live attempt.
type StatusUpdate struct {
	// From lists the statuses the attempt may currently be in.
	// Empty means any non-final status.
	From []ir.Status
	To   ir.Status
	At   time.Time

	// FailureInfo replaces the stored failure when non-nil.
	FailureInfo *ir.FailureInfo

	// NotifyID replaces the outstanding wait correlation when non-nil.
	// A pointer to "" clears it.
	NotifyID *string
}

// UpdateNodeStatus applies u to the live attempt id. Returns false when the
// attempt is not in an allowed source status (including redelivery of a
// transition that already happened).
func (s *Store) UpdateNodeStatus(ctx context.Context, id string, u StatusUpdate) (changed bool, err error) {
	sets := []string{"status = ?"}
	args := []any{string(u.To)}

	if u.To == ir.StatusRunning {
		sets = append(sets, "start_ts = COALESCE(start_ts, ?)")
		args = append(args, u.At.UTC().UnixNano())
	}
	if u.To.IsFinal() {
		sets = append(sets, "end_ts = ?")
		args = append(args, u.At.UTC().UnixNano())
	}
	if u.FailureInfo != nil {
		failure, err := marshalFailure(u.FailureInfo)
		if err != nil {
			return false, fmt.Errorf("update node status: %w", err)
		}
		sets = append(sets, "failure_info = ?")
		args = append(args, failure)
	}
	if u.NotifyID != nil {
		sets = append(sets, "notify_id = ?")
		args = append(args, nullString(*u.NotifyID))
	}

	where := "id = ? AND old_retry = 0 AND status "
	args = append(args, id)
	if len(u.From) == 0 {
		list, listArgs := inList(ir.FinalStatuses)
		where += "NOT IN " + list
		args = append(args, listArgs...)
	} else {
		list, listArgs := inList(u.From)
		where += "IN " + list
		args = append(args, listArgs...)
	}

	query := "UPDATE node_executions SET " + strings.Join(sets, ", ") + " WHERE " + where
	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		changed, err = rowsChanged(res)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update node status: %w", err)
	}
	return changed, nil
}

// SetAdviseType records the outcome of the last advisory cycle on an attempt.
// Historical records are left untouched.
func (s *Store) SetAdviseType(ctx context.Context, id string, t ir.AdviseType) error {
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE node_executions SET advise_type = ?
			WHERE id = ? AND old_retry = 0
		`, string(t), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("set advise type: %w", err)
	}
	return nil
}

// AbortNodeExecutions moves every unfinished live attempt of a plan execution
// to ABORTED and clears outstanding wait correlations.
func (s *Store) AbortNodeExecutions(ctx context.Context, planExecutionID string, at time.Time) (int64, error) {
	finals, finalArgs := inList(ir.FinalStatuses)
	args := append([]any{string(ir.StatusAborted), at.UTC().UnixNano(), planExecutionID}, finalArgs...)

	var n int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE node_executions SET status = ?, end_ts = ?, notify_id = NULL
			WHERE plan_execution_id = ? AND old_retry = 0 AND status NOT IN `+finals, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("abort node executions: %w", err)
	}
	return n, nil
}

// ForkResult is the outcome of ForkNodeExecution.
type ForkResult struct {
	Historical ir.NodeExecution
	Live       ir.NodeExecution
	// Forked is false when the attempt had already been forked; Live is then
	// the current live attempt of the lineage.
	Forked bool
}

// ForkNodeExecution retires the live attempt id and inserts its successor
// newID in a single transaction.
//
// The retired record keeps its history and is flagged old_retry. The guard
// on old_retry makes the fork idempotent: a redelivered retry finds the
// attempt already retired and returns the existing live successor.
func (s *Store) ForkNodeExecution(ctx context.Context, id, newID string) (ForkResult, error) {
	var result ForkResult
	err := withRetry(ctx, func() error {
		var err error
		result, err = s.forkTx(ctx, id, newID)
		return err
	})
	if err != nil {
		return ForkResult{}, fmt.Errorf("fork node execution %s: %w", id, err)
	}
	return result, nil
}

func (s *Store) forkTx(ctx context.Context, id, newID string) (ForkResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ForkResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	current, err := getNodeExecution(ctx, tx, id)
	if err != nil {
		return ForkResult{}, err
	}

	alreadyForked := func() (ForkResult, error) {
		live, err := getLiveNodeExecution(ctx, tx, id)
		if err != nil {
			return ForkResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return ForkResult{}, fmt.Errorf("commit: %w", err)
		}
		return ForkResult{Historical: current, Live: live}, nil
	}

	if current.OldRetry {
		return alreadyForked()
	}

	historical, live := current.ForkForRetry(newID)

	res, err := tx.ExecContext(ctx, `
		UPDATE node_executions SET old_retry = 1, notify_id = NULL
		WHERE id = ? AND old_retry = 0
	`, id)
	if err != nil {
		return ForkResult{}, fmt.Errorf("retire attempt: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return ForkResult{}, err
	}
	if !changed {
		return alreadyForked()
	}

	if _, err := insertNodeExecution(ctx, tx, live, false); err != nil {
		return ForkResult{}, fmt.Errorf("insert successor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ForkResult{}, fmt.Errorf("commit: %w", err)
	}
	return ForkResult{Historical: historical, Live: live, Forked: true}, nil
}

// AdviseRecord is the durable claim of one advisory cycle.
type AdviseRecord struct {
	Seq             int64
	NodeExecutionID string
	PlanExecutionID string
	ToStatus        ir.Status
	Event           ir.AdviseEvent
	Advise          ir.Advise
	Handled         bool
}

// ClaimAdvise records the advise computed for a terminal transition.
//
// Uses ON CONFLICT(node_execution_id, to_status) DO NOTHING: only the first
// delivery of an AdviseEvent claims it. claimed is false for redeliveries.
func (s *Store) ClaimAdvise(ctx context.Context, rec AdviseRecord) (claimed bool, err error) {
	eventJSON, err := marshalCanonical("advise event", rec.Event)
	if err != nil {
		return false, fmt.Errorf("claim advise: %w", err)
	}
	adviseJSON, err := marshalCanonical("advise", rec.Advise)
	if err != nil {
		return false, fmt.Errorf("claim advise: %w", err)
	}

	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO advise_events
			(node_execution_id, plan_execution_id, to_status, event, advise)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(node_execution_id, to_status) DO NOTHING
		`,
			rec.NodeExecutionID,
			rec.PlanExecutionID,
			string(rec.ToStatus),
			eventJSON,
			adviseJSON,
		)
		if err != nil {
			return err
		}
		claimed, err = rowsChanged(res)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("claim advise: %w", err)
	}
	return claimed, nil
}

// MarkAdviseHandled flags a claimed advise as executed.
func (s *Store) MarkAdviseHandled(ctx context.Context, nodeExecutionID string, toStatus ir.Status) error {
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE advise_events SET handled = 1
			WHERE node_execution_id = ? AND to_status = ?
		`, nodeExecutionID, string(toStatus))
		return err
	})
	if err != nil {
		return fmt.Errorf("mark advise handled: %w", err)
	}
	return nil
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// inList renders "(?, ?, ...)" for the given statuses.
func inList(statuses []ir.Status) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func wrapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
