package criteria

import (
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Type selects the criteria shape.
type Type string

const (
	TypeKeyValues  Type = "KEY_VALUES"
	TypeExpression Type = "EXPRESSION"
)

// Condition is one key-value comparison.
type Condition struct {
	Key      string   `json:"key" yaml:"key"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// KeyValues holds conditions joined by AND, or by OR when MatchAny is set.
type KeyValues struct {
	MatchAny   bool        `json:"match_any,omitempty" yaml:"match_any,omitempty"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// Spec is a criteria definition. Exactly one of KeyValues or Expression is
// used, chosen by Type.
type Spec struct {
	Type       Type       `json:"type" yaml:"type"`
	KeyValues  *KeyValues `json:"key_values,omitempty" yaml:"key_values,omitempty"`
	Expression string     `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Evaluator decides criteria specs. It is safe for concurrent use.
type Evaluator struct {
	operators *OperatorRegistry

	mu  sync.Mutex
	cue *cue.Context
}

// NewEvaluator returns an evaluator using ops. A nil registry gets the
// built-in operators.
func NewEvaluator(ops *OperatorRegistry) *Evaluator {
	if ops == nil {
		ops = NewOperatorRegistry()
	}
	return &Evaluator{operators: ops, cue: cuecontext.New()}
}

// Evaluate reports whether spec holds for inputs.
func (e *Evaluator) Evaluate(spec Spec, inputs map[string]any) (bool, error) {
	switch spec.Type {
	case TypeKeyValues:
		if spec.KeyValues == nil {
			return false, criticalf("key-value criteria has no conditions")
		}
		return e.evaluateKeyValues(*spec.KeyValues, inputs)
	case TypeExpression:
		return e.evaluateExpression(spec.Expression, inputs)
	default:
		return false, criticalf("unsupported criteria type %q", spec.Type)
	}
}

func (e *Evaluator) evaluateKeyValues(kv KeyValues, inputs map[string]any) (bool, error) {
	if len(kv.Conditions) == 0 {
		return false, criticalf("key-value criteria has no conditions")
	}
	for _, c := range kv.Conditions {
		ok, err := e.operators.Evaluate(c.Operator, c.Value, inputs[c.Key])
		if err != nil {
			return false, err
		}
		if kv.MatchAny && ok {
			return true, nil
		}
		if !kv.MatchAny && !ok {
			return false, nil
		}
	}
	return !kv.MatchAny, nil
}
