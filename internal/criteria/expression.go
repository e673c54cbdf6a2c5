package criteria

import (
	"strings"

	"cuelang.org/go/cue"
)

// evaluateExpression compiles expr as a CUE expression with inputs bound as
// top-level identifiers and requires a concrete boolean result.
func (e *Evaluator) evaluateExpression(expr string, inputs map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, criticalf("expression criteria is empty")
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	scope := e.cue.Encode(inputs)
	if err := scope.Err(); err != nil {
		return false, criticalf("encode criteria inputs: %v", err)
	}
	v := e.cue.CompileString(expr, cue.Scope(scope))
	if err := v.Err(); err != nil {
		return false, criticalf("evaluate expression %q: %v", expr, err)
	}
	if v.IncompleteKind() != cue.BoolKind {
		return false, criticalf("expression %q does not evaluate to a boolean", expr)
	}
	b, err := v.Bool()
	if err != nil {
		return false, criticalf("evaluate expression %q: %v", expr, err)
	}
	return b, nil
}
