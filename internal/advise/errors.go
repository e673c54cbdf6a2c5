package advise

import (
	"errors"
	"fmt"

	"github.com/roach88/orchestra/internal/ir"
)

// ConfigError reports invalid adviser configuration: unknown adviser types,
// malformed parameters or unusable repair actions. Config errors are fatal to
// the advisory cycle and never retried.
type ConfigError struct {
	AdviserType ir.AdviserType
	Field       string
	Message     string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("adviser %s: %s: %s", e.AdviserType, e.Field, e.Message)
	}
	return fmt.Sprintf("adviser %s: %s", e.AdviserType, e.Message)
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
