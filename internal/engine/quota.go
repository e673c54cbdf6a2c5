package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts advisory cycles of one plan execution and enforces a
// maximum.
//
// Retry and next-step advice can chain indefinitely if a plan is
// misconfigured (a retry adviser with a huge retry count, or nodes routing
// to each other through on-fail). The quota bounds that.
//
// QuotaEnforcer is not safe for concurrent use; the engine guards it.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(planExecutionID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			PlanExecutionID: planExecutionID,
			Steps:           q.current,
			Limit:           q.maxSteps,
		}
	}
	return nil
}

// Reset resets the step counter to 0.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a plan execution exceeds the max
// steps quota. It ends the plan execution as FAILED.
type StepsExceededError struct {
	PlanExecutionID string
	Steps           int
	Limit           int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("plan execution %s exceeded max steps quota: %d steps > %d limit",
		e.PlanExecutionID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
