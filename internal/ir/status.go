package ir

import "fmt"

// Status is the lifecycle state of a NodeExecution or a plan execution.
type Status string

const (
	StatusQueued              Status = "QUEUED"
	StatusRunning             Status = "RUNNING"
	StatusAsyncWaiting        Status = "ASYNC_WAITING"
	StatusTaskWaiting         Status = "TASK_WAITING"
	StatusInterventionWaiting Status = "INTERVENTION_WAITING"
	StatusSucceeded           Status = "SUCCEEDED"
	StatusFailed              Status = "FAILED"
	StatusErrored             Status = "ERRORED"
	StatusAborted             Status = "ABORTED"
	StatusExpired             Status = "EXPIRED"
	StatusSkipped             Status = "SKIPPED"
	StatusIgnoreFailed        Status = "IGNORE_FAILED"
)

var allStatuses = []Status{
	StatusQueued, StatusRunning, StatusAsyncWaiting, StatusTaskWaiting,
	StatusInterventionWaiting, StatusSucceeded, StatusFailed, StatusErrored,
	StatusAborted, StatusExpired, StatusSkipped, StatusIgnoreFailed,
}

// FinalStatuses lists every terminal status.
var FinalStatuses = []Status{
	StatusSucceeded, StatusFailed, StatusErrored, StatusAborted,
	StatusExpired, StatusSkipped, StatusIgnoreFailed,
}

// IsFinal reports whether no further transition is expected for the attempt.
func (s Status) IsFinal() bool {
	for _, f := range FinalStatuses {
		if s == f {
			return true
		}
	}
	return false
}

// IsBroken reports whether the status is a step-level failure that advisers
// such as Retry and OnFail react to.
func (s Status) IsBroken() bool {
	return s == StatusFailed || s == StatusErrored || s == StatusExpired
}

// IsPositive reports whether the status lets the plan continue normally.
func (s Status) IsPositive() bool {
	return s == StatusSucceeded || s == StatusSkipped || s == StatusIgnoreFailed
}

// IsWaiting reports whether the attempt is suspended on a registered callback.
func (s Status) IsWaiting() bool {
	return s == StatusAsyncWaiting || s == StatusTaskWaiting || s == StatusInterventionWaiting
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}
