package ir

import "time"

// NodeExecution is the persisted runtime record of one attempt to run a PlanNode.
//
// RetryIDs lists the uuids of earlier attempts of the same logical node,
// newest first. A record with OldRetry set is history and never transitions
// again.
type NodeExecution struct {
	UUID            string       `json:"uuid"`
	PlanExecutionID string       `json:"plan_execution_id"`
	Node            PlanNode     `json:"node"`
	Ambiance        Ambiance     `json:"ambiance"`
	Status          Status       `json:"status"`
	StartTs         *time.Time   `json:"start_ts,omitempty"`
	EndTs           *time.Time   `json:"end_ts,omitempty"`
	RetryIDs        []string     `json:"retry_ids"`
	OldRetry        bool         `json:"old_retry"`
	FailureInfo     *FailureInfo `json:"failure_info,omitempty"`
	NotifyID        string       `json:"notify_id,omitempty"`   // correlation id of an outstanding wait
	AdviseType      AdviseType   `json:"advise_type,omitempty"` // outcome of the last advisory cycle
	PreviousID      string       `json:"previous_id,omitempty"` // attempt whose advise triggered this node
}

// NodeID returns the uuid of the PlanNode this attempt runs.
func (n NodeExecution) NodeID() string {
	return n.Node.UUID
}

// Attempt returns the 1-based attempt number.
func (n NodeExecution) Attempt() int {
	return len(n.RetryIDs) + 1
}

// ForkForRetry splits n into the record that keeps the attempt's history and
// the fresh live attempt stored under newUUID.
//
// The historical record keeps n.UUID, its timestamps, status and failure, and
// is flagged OldRetry. The live record starts QUEUED with no timestamps and
// RetryIDs = [n.UUID, n.RetryIDs...] in a newly allocated slice.
func (n NodeExecution) ForkForRetry(newUUID string) (historical, live NodeExecution) {
	historical = n.clone()
	historical.OldRetry = true
	historical.NotifyID = ""

	retryIDs := make([]string, 0, len(n.RetryIDs)+1)
	retryIDs = append(retryIDs, n.UUID)
	retryIDs = append(retryIDs, n.RetryIDs...)

	live = n.clone()
	live.UUID = newUUID
	live.Ambiance = n.Ambiance.WithRuntimeID(newUUID)
	live.Status = StatusQueued
	live.StartTs = nil
	live.EndTs = nil
	live.RetryIDs = retryIDs
	live.OldRetry = false
	live.FailureInfo = nil
	live.NotifyID = ""
	live.AdviseType = ""
	return historical, live
}

func (n NodeExecution) clone() NodeExecution {
	out := n
	if n.RetryIDs != nil {
		out.RetryIDs = append([]string(nil), n.RetryIDs...)
	}
	if n.StartTs != nil {
		ts := *n.StartTs
		out.StartTs = &ts
	}
	if n.EndTs != nil {
		ts := *n.EndTs
		out.EndTs = &ts
	}
	out.FailureInfo = n.FailureInfo.Clone()
	return out
}
