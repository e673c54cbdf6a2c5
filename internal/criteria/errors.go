package criteria

import (
	"errors"
	"fmt"
)

// ApprovalStepError reports a criteria evaluation failure.
type ApprovalStepError struct {
	Message  string
	Critical bool
}

// Error implements the error interface.
func (e *ApprovalStepError) Error() string {
	return e.Message
}

// IsApprovalStepError returns true if err is or wraps an ApprovalStepError.
func IsApprovalStepError(err error) bool {
	var ae *ApprovalStepError
	return errors.As(err, &ae)
}

// IsCritical returns true if err is or wraps a critical ApprovalStepError.
func IsCritical(err error) bool {
	var ae *ApprovalStepError
	return errors.As(err, &ae) && ae.Critical
}

func criticalf(format string, args ...any) error {
	return &ApprovalStepError{Message: fmt.Sprintf(format, args...), Critical: true}
}
