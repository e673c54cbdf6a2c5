package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/orchestra/internal/ir"
)

// RuntimeError represents an error detected while driving a plan execution.
//
// Runtime errors include:
//   - No adviser: no configured adviser could advise a terminal transition
//   - Missing node: an advise names a node that is not in the plan
//   - Already triggered: an advise routes back to a node that already ran
//   - Unsupported advise: an advise variant the engine has no handler for
//   - Advise failed: an adviser returned an error
//   - Quota exceeded: a plan execution ran more advisory cycles than allowed
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// PlanExecutionID identifies the affected plan execution.
	PlanExecutionID string

	// NodeExecutionID identifies the attempt being advised, if any.
	NodeExecutionID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNoAdviser indicates no adviser could advise; the execution stalls.
	ErrCodeNoAdviser RuntimeErrorCode = "NO_ADVISER"

	// ErrCodeMissingNode indicates an advise referenced an unknown plan node.
	ErrCodeMissingNode RuntimeErrorCode = "MISSING_NODE"

	// ErrCodeAlreadyTriggered indicates an advise routed to a node another
	// attempt already triggered in the same plan execution.
	ErrCodeAlreadyTriggered RuntimeErrorCode = "NODE_ALREADY_TRIGGERED"

	// ErrCodeUnsupportedAdvise indicates an advise variant without a handler.
	ErrCodeUnsupportedAdvise RuntimeErrorCode = "UNSUPPORTED_ADVISE"

	// ErrCodePlanFinished indicates the plan execution already reached a
	// final status.
	ErrCodePlanFinished RuntimeErrorCode = "PLAN_FINISHED"

	// ErrCodeCancelled indicates the work was dropped because the plan was
	// aborted.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"

	// ErrCodeAdviseFailed indicates an adviser returned an error.
	ErrCodeAdviseFailed RuntimeErrorCode = "ADVISE_FAILED"

	// ErrCodeQuotaExceeded indicates the plan execution exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeNotWaiting indicates an intervention on an attempt that is not
	// waiting for one.
	ErrCodeNotWaiting RuntimeErrorCode = "NOT_INTERVENTION_WAITING"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.PlanExecutionID != "" && e.NodeExecutionID != "" {
		msg = fmt.Sprintf("%s (plan_execution=%s, node_execution=%s)", msg, e.PlanExecutionID, e.NodeExecutionID)
	} else if e.PlanExecutionID != "" {
		msg = fmt.Sprintf("%s (plan_execution=%s)", msg, e.PlanExecutionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, codes ...RuntimeErrorCode) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	for _, c := range codes {
		if re.Code == c {
			return true
		}
	}
	return false
}

// IsConfigError returns true if the error stems from plan or adviser
// configuration. Config errors are fatal to the advisory cycle and are never
// retried.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeNoAdviser, ErrCodeMissingNode, ErrCodeAlreadyTriggered, ErrCodeUnsupportedAdvise)
}

// IsCancelled returns true if the work was dropped because its plan execution
// was aborted or had already finished.
func IsCancelled(err error) bool {
	return hasCode(err, ErrCodeCancelled, ErrCodePlanFinished)
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

func newMissingNodeError(planExecutionID, nodeExecutionID, nodeID string) *RuntimeError {
	return &RuntimeError{
		Code:            ErrCodeMissingNode,
		Message:         fmt.Sprintf("next node %q not found in plan", nodeID),
		PlanExecutionID: planExecutionID,
		NodeExecutionID: nodeExecutionID,
		Details:         map[string]string{"next_node_id": nodeID},
	}
}

func newAlreadyTriggeredError(planExecutionID, nodeExecutionID string, existing ir.NodeExecution) *RuntimeError {
	return &RuntimeError{
		Code:            ErrCodeAlreadyTriggered,
		Message:         fmt.Sprintf("next node %q already triggered in this plan execution", existing.NodeID()),
		PlanExecutionID: planExecutionID,
		NodeExecutionID: nodeExecutionID,
		Details: map[string]string{
			"next_node_id":      existing.NodeID(),
			"node_execution_id": existing.UUID,
			"status":            string(existing.Status),
		},
	}
}

func newPlanFinishedError(planExecutionID, status string) *RuntimeError {
	return &RuntimeError{
		Code:            ErrCodePlanFinished,
		Message:         "plan execution already finished",
		PlanExecutionID: planExecutionID,
		Details:         map[string]string{"status": status},
	}
}
