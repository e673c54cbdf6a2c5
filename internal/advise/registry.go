package advise

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/orchestra/internal/ir"
)

// Registry maps adviser types to implementations. Build one per engine;
// there is no package-level default instance.
type Registry struct {
	advisers map[ir.AdviserType]Adviser
}

// NewRegistry returns a registry holding the given advisers. A later adviser
// replaces an earlier one of the same type.
func NewRegistry(advisers ...Adviser) *Registry {
	r := &Registry{advisers: make(map[ir.AdviserType]Adviser, len(advisers))}
	for _, a := range advisers {
		r.advisers[a.Type()] = a
	}
	return r
}

// NewDefaultRegistry returns a registry with every built-in adviser.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	return NewRegistry(
		OnSuccessAdviser{},
		NextStepAdviser{},
		RetryAdviser{Logger: logger},
		OnFailAdviser{Logger: logger},
		ManualInterventionAdviser{Logger: logger},
		EndPlanAdviser{},
	)
}

// Result is the outcome of dispatching an advise event.
// AdviserType is empty when no adviser could advise.
type Result struct {
	Advise      ir.Advise
	AdviserType ir.AdviserType
	Index       int
}

// Matched reports whether some adviser handled the event.
func (r Result) Matched() bool {
	return r.AdviserType != ""
}

// Dispatch asks each configured adviser in order. The first whose CanAdvise
// returns true decides; its answer is final even when it yields no advise.
// When no adviser can advise, the result carries an UNKNOWN advise and no
// error.
func (r *Registry) Dispatch(ev ir.AdviseEvent) (Result, error) {
	for i, obt := range ev.AdviserObtainments {
		a, ok := r.advisers[obt.Type]
		if !ok {
			return Result{Advise: ir.UnknownAdvise(), Index: i}, &ConfigError{
				AdviserType: obt.Type,
				Message:     "unknown adviser type",
			}
		}
		aev := ev.ForAdviser(obt.Parameters)
		if !a.CanAdvise(aev) {
			continue
		}
		adv, err := a.OnAdviseEvent(aev)
		if err != nil {
			return Result{Advise: ir.UnknownAdvise(), AdviserType: obt.Type, Index: i}, err
		}
		res := Result{Advise: ir.UnknownAdvise(), AdviserType: obt.Type, Index: i}
		if adv != nil {
			if err := adv.Validate(); err != nil {
				return res, fmt.Errorf("adviser %s returned invalid advise: %w", obt.Type, err)
			}
			res.Advise = *adv
		}
		return res, nil
	}
	return Result{Advise: ir.UnknownAdvise(), Index: -1}, nil
}

// ValidateObtainment checks that the adviser exists and its parameters decode
// and validate.
func (r *Registry) ValidateObtainment(obt ir.AdviserObtainment) error {
	a, ok := r.advisers[obt.Type]
	if !ok {
		return &ConfigError{AdviserType: obt.Type, Message: "unknown adviser type"}
	}
	return a.ValidateParameters(obt.Parameters)
}

// ValidateParameters is a convenience for callers holding raw parameters.
func (r *Registry) ValidateParameters(t ir.AdviserType, raw json.RawMessage) error {
	return r.ValidateObtainment(ir.AdviserObtainment{Type: t, Parameters: raw})
}
