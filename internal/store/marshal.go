package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/orchestra/internal/ir"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// marshalCanonical converts a value to canonical JSON TEXT for storage.
func marshalCanonical(what string, v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// marshalRetryIDs never stores NULL; an empty lineage is "[]".
func marshalRetryIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	return marshalCanonical("retry ids", ids)
}

func marshalFailure(f *ir.FailureInfo) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalCanonical("failure info", f)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalFailure(ns sql.NullString) (*ir.FailureInfo, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var f ir.FailureInfo
	if err := json.Unmarshal([]byte(ns.String), &f); err != nil {
		return nil, fmt.Errorf("unmarshal failure info: %w", err)
	}
	return &f, nil
}

func unmarshalRetryIDs(data string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal retry ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// Timestamps are stored as UTC unix nanoseconds.
func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const nodeExecutionColumns = `id, plan_execution_id, node, ambiance, status, start_ts, end_ts,
	retry_ids, old_retry, failure_info, notify_id, advise_type, previous_id`

func scanNodeExecution(row rowScanner) (ir.NodeExecution, error) {
	var (
		ne                     ir.NodeExecution
		nodeJSON, ambianceJSON string
		status, retryIDsJSON   string
		startTs, endTs         sql.NullInt64
		oldRetry               int
		failure, notifyID, adv sql.NullString
		previousID             sql.NullString
	)
	err := row.Scan(&ne.UUID, &ne.PlanExecutionID, &nodeJSON, &ambianceJSON, &status,
		&startTs, &endTs, &retryIDsJSON, &oldRetry, &failure, &notifyID, &adv, &previousID)
	if err != nil {
		return ir.NodeExecution{}, err
	}

	if err := json.Unmarshal([]byte(nodeJSON), &ne.Node); err != nil {
		return ir.NodeExecution{}, fmt.Errorf("unmarshal node: %w", err)
	}
	if err := json.Unmarshal([]byte(ambianceJSON), &ne.Ambiance); err != nil {
		return ir.NodeExecution{}, fmt.Errorf("unmarshal ambiance: %w", err)
	}
	if ne.RetryIDs, err = unmarshalRetryIDs(retryIDsJSON); err != nil {
		return ir.NodeExecution{}, err
	}
	if ne.FailureInfo, err = unmarshalFailure(failure); err != nil {
		return ir.NodeExecution{}, err
	}
	ne.Status = ir.Status(status)
	ne.StartTs = timeFromNull(startTs)
	ne.EndTs = timeFromNull(endTs)
	ne.OldRetry = oldRetry != 0
	ne.NotifyID = notifyID.String
	ne.AdviseType = ir.AdviseType(adv.String)
	ne.PreviousID = previousID.String
	return ne, nil
}

const planExecutionColumns = `id, plan, plan_hash, status, start_ts, end_ts`

func scanPlanExecution(row rowScanner) (ir.PlanExecution, error) {
	var (
		pe             ir.PlanExecution
		planJSON       string
		status         string
		startTs, endTs sql.NullInt64
	)
	if err := row.Scan(&pe.ID, &planJSON, &pe.PlanHash, &status, &startTs, &endTs); err != nil {
		return ir.PlanExecution{}, err
	}
	if err := json.Unmarshal([]byte(planJSON), &pe.Plan); err != nil {
		return ir.PlanExecution{}, fmt.Errorf("unmarshal plan: %w", err)
	}
	pe.Status = ir.Status(status)
	pe.StartTs = timeFromNull(startTs)
	pe.EndTs = timeFromNull(endTs)
	return pe, nil
}
