package criteria

import (
	"strings"
)

// Operator compares a configured standard value with an input value.
type Operator string

const (
	OperatorEquals    Operator = "EQ"
	OperatorNotEquals Operator = "NOT_EQ"
	OperatorIn        Operator = "IN"
	OperatorNotIn     Operator = "NOT_IN"
)

// OperatorFunc evaluates one operator. The standard is always a string as
// written in the criteria; input is whatever the step produced.
type OperatorFunc func(standard string, input any) (bool, error)

// OperatorRegistry maps operators to their implementations.
type OperatorRegistry struct {
	ops map[Operator]OperatorFunc
}

// NewOperatorRegistry returns a registry with EQ, NOT_EQ, IN and NOT_IN.
func NewOperatorRegistry() *OperatorRegistry {
	r := &OperatorRegistry{ops: make(map[Operator]OperatorFunc)}
	r.Register(OperatorEquals, equals)
	r.Register(OperatorNotEquals, negate(equals))
	r.Register(OperatorIn, in)
	r.Register(OperatorNotIn, negate(in))
	return r
}

// Register adds or replaces an operator.
func (r *OperatorRegistry) Register(op Operator, fn OperatorFunc) {
	r.ops[op] = fn
}

// Evaluate runs op. An unknown operator is a critical error.
func (r *OperatorRegistry) Evaluate(op Operator, standard string, input any) (bool, error) {
	fn, ok := r.ops[op]
	if !ok {
		return false, criticalf("unsupported operator %q", op)
	}
	return fn(standard, input)
}

// equals matches string input against standard. A blank standard also
// matches absent input.
func equals(standard string, input any) (bool, error) {
	if input == nil {
		return strings.TrimSpace(standard) == "", nil
	}
	s, ok := input.(string)
	if !ok {
		return false, criticalf("value provided for operator EQ is not a string: %v", input)
	}
	return s == standard, nil
}

// in matches string input against the comma separated standard values.
func in(standard string, input any) (bool, error) {
	if input == nil {
		return false, nil
	}
	s, ok := input.(string)
	if !ok {
		return false, criticalf("value provided for operator IN is not a string: %v", input)
	}
	for _, candidate := range strings.Split(standard, ",") {
		if strings.TrimSpace(candidate) == s {
			return true, nil
		}
	}
	return false, nil
}

func negate(fn OperatorFunc) OperatorFunc {
	return func(standard string, input any) (bool, error) {
		ok, err := fn(standard, input)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}
