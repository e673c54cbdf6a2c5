package ir

import "encoding/json"

// AdvisingEvent is the ephemeral input handed to a single adviser.
type AdvisingEvent struct {
	Ambiance          Ambiance        `json:"ambiance"`
	NodeExecutionID   string          `json:"node_execution_id"`
	ToStatus          Status          `json:"to_status"`
	FromStatus        Status          `json:"from_status"`
	FailureInfo       *FailureInfo    `json:"failure_info,omitempty"`
	RetryIDs          []string        `json:"retry_ids,omitempty"`
	AdviserParameters json.RawMessage `json:"adviser_parameters,omitempty"`
}

// AdviseEvent is delivered (at least once) when a node reaches a terminal
// status. It carries everything needed to compute advice without reading
// in-memory state.
type AdviseEvent struct {
	Ambiance           Ambiance            `json:"ambiance"`
	NodeExecutionID    string              `json:"node_execution_id"`
	ToStatus           Status              `json:"to_status"`
	FromStatus         Status              `json:"from_status"`
	FailureInfo        *FailureInfo        `json:"failure_info,omitempty"`
	RetryIDs           []string            `json:"retry_ids,omitempty"`
	AdviserObtainments []AdviserObtainment `json:"adviser_obtainments,omitempty"`
}

// ForAdviser narrows the event to what one adviser sees.
func (e AdviseEvent) ForAdviser(params json.RawMessage) AdvisingEvent {
	return AdvisingEvent{
		Ambiance:          e.Ambiance,
		NodeExecutionID:   e.NodeExecutionID,
		ToStatus:          e.ToStatus,
		FromStatus:        e.FromStatus,
		FailureInfo:       e.FailureInfo,
		RetryIDs:          e.RetryIDs,
		AdviserParameters: params,
	}
}

// StepResponse is the outcome of dispatching a node's step.
// TaskID is set when the step suspended on an external task.
type StepResponse struct {
	Status      Status       `json:"status"`
	FailureInfo *FailureInfo `json:"failure_info,omitempty"`
	TaskID      string       `json:"task_id,omitempty"`
}
