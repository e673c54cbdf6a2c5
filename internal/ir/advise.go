package ir

import (
	"fmt"
	"time"
)

// AdviseType tags the variant carried by an Advise.
type AdviseType string

const (
	AdviseUnknown          AdviseType = "UNKNOWN"
	AdviseNextStep         AdviseType = "NEXT_STEP"
	AdviseRetry            AdviseType = "RETRY"
	AdviseOnFail           AdviseType = "ON_FAIL"
	AdviseEndPlan          AdviseType = "END_PLAN"
	AdviseInterventionWait AdviseType = "INTERVENTION_WAIT"
	AdviseMarkSuccess      AdviseType = "MARK_SUCCESS"
)

// RepairActionCode is what happens once retries are exhausted or an
// intervention times out.
type RepairActionCode string

const (
	RepairIgnore             RepairActionCode = "IGNORE"
	RepairEndExecution       RepairActionCode = "END_EXECUTION"
	RepairManualIntervention RepairActionCode = "MANUAL_INTERVENTION"
	RepairOnFail             RepairActionCode = "ON_FAIL"
	RepairMarkAsSuccess      RepairActionCode = "MARK_AS_SUCCESS"
	RepairRetry              RepairActionCode = "RETRY"
)

// ValidRepairActions defines allowed repair action codes.
var ValidRepairActions = map[RepairActionCode]bool{
	RepairIgnore:             true,
	RepairEndExecution:       true,
	RepairManualIntervention: true,
	RepairOnFail:             true,
	RepairMarkAsSuccess:      true,
	RepairRetry:              true,
}

// NextStepAdvise continues the plan at NextNodeID. ToStatus, when set,
// overrides the finished node's recorded status (IGNORE_FAILED after an
// ignored failure).
type NextStepAdvise struct {
	NextNodeID string `json:"next_node_id"`
	ToStatus   Status `json:"to_status,omitempty"`
}

// RetryAdvise re-runs the node after WaitInterval seconds.
type RetryAdvise struct {
	RetryNodeExecutionID string `json:"retry_node_execution_id"`
	WaitInterval         int    `json:"wait_interval"`
}

// Wait returns the wait interval as a duration.
func (r RetryAdvise) Wait() time.Duration {
	return time.Duration(r.WaitInterval) * time.Second
}

// OnFailAdvise routes a failed node to NextNodeID. An empty NextNodeID ends
// the plan as failed.
type OnFailAdvise struct {
	NextNodeID             string        `json:"next_node_id,omitempty"`
	ApplicableFailureTypes []FailureType `json:"applicable_failure_types,omitempty"`
}

// EndPlanAdvise finishes the plan execution.
type EndPlanAdvise struct{}

// InterventionWaitAdvise parks the node until an operator picks a repair
// action, or until Timeout seconds pass and RepairActionCode applies.
type InterventionWaitAdvise struct {
	Timeout          int              `json:"timeout"`
	RepairActionCode RepairActionCode `json:"repair_action_code"`
	NextNodeID       string           `json:"next_node_id,omitempty"`
}

// MarkSuccessAdvise records the node as SUCCEEDED and continues at NextNodeID.
type MarkSuccessAdvise struct {
	NextNodeID string `json:"next_node_id,omitempty"`
}

// Advise is a closed tagged union: Type selects which payload is set.
// Exactly one payload is non-nil, except for UNKNOWN which carries none.
type Advise struct {
	Type             AdviseType              `json:"type"`
	NextStep         *NextStepAdvise         `json:"next_step,omitempty"`
	Retry            *RetryAdvise            `json:"retry,omitempty"`
	OnFail           *OnFailAdvise           `json:"on_fail,omitempty"`
	EndPlan          *EndPlanAdvise          `json:"end_plan,omitempty"`
	InterventionWait *InterventionWaitAdvise `json:"intervention_wait,omitempty"`
	MarkSuccess      *MarkSuccessAdvise      `json:"mark_success,omitempty"`
}

// NewNextStepAdvise builds a NEXT_STEP advise.
func NewNextStepAdvise(nextNodeID string, toStatus Status) Advise {
	return Advise{Type: AdviseNextStep, NextStep: &NextStepAdvise{NextNodeID: nextNodeID, ToStatus: toStatus}}
}

// NewRetryAdvise builds a RETRY advise.
func NewRetryAdvise(nodeExecutionID string, waitInterval int) Advise {
	return Advise{Type: AdviseRetry, Retry: &RetryAdvise{RetryNodeExecutionID: nodeExecutionID, WaitInterval: waitInterval}}
}

// NewOnFailAdvise builds an ON_FAIL advise.
func NewOnFailAdvise(nextNodeID string, types []FailureType) Advise {
	return Advise{Type: AdviseOnFail, OnFail: &OnFailAdvise{NextNodeID: nextNodeID, ApplicableFailureTypes: types}}
}

// NewEndPlanAdvise builds an END_PLAN advise.
func NewEndPlanAdvise() Advise {
	return Advise{Type: AdviseEndPlan, EndPlan: &EndPlanAdvise{}}
}

// NewInterventionWaitAdvise builds an INTERVENTION_WAIT advise.
func NewInterventionWaitAdvise(timeout int, action RepairActionCode, nextNodeID string) Advise {
	return Advise{Type: AdviseInterventionWait, InterventionWait: &InterventionWaitAdvise{
		Timeout:          timeout,
		RepairActionCode: action,
		NextNodeID:       nextNodeID,
	}}
}

// NewMarkSuccessAdvise builds a MARK_SUCCESS advise.
func NewMarkSuccessAdvise(nextNodeID string) Advise {
	return Advise{Type: AdviseMarkSuccess, MarkSuccess: &MarkSuccessAdvise{NextNodeID: nextNodeID}}
}

// UnknownAdvise is the outcome when no adviser could handle an event.
func UnknownAdvise() Advise {
	return Advise{Type: AdviseUnknown}
}

// Validate checks that the payload matches the tag and nothing else is set.
func (a Advise) Validate() error {
	set := 0
	for _, present := range []bool{
		a.NextStep != nil, a.Retry != nil, a.OnFail != nil,
		a.EndPlan != nil, a.InterventionWait != nil, a.MarkSuccess != nil,
	} {
		if present {
			set++
		}
	}

	var ok bool
	switch a.Type {
	case AdviseUnknown:
		return nil
	case AdviseNextStep:
		ok = a.NextStep != nil
	case AdviseRetry:
		ok = a.Retry != nil
	case AdviseOnFail:
		ok = a.OnFail != nil
	case AdviseEndPlan:
		ok = a.EndPlan != nil
	case AdviseInterventionWait:
		ok = a.InterventionWait != nil
	case AdviseMarkSuccess:
		ok = a.MarkSuccess != nil
	default:
		return fmt.Errorf("unknown advise type %q", a.Type)
	}
	if !ok || set != 1 {
		return fmt.Errorf("advise %s: payload does not match type", a.Type)
	}
	return nil
}
