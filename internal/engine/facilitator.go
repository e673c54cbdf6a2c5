package engine

import (
	"context"

	"github.com/roach88/orchestra/internal/ir"
)

// Facilitator executes a node's step.
//
// A response with a final status completes the attempt. A response carrying
// a TaskID suspends the attempt until the task's result is notified on that
// id. A waiting status without a task parks the attempt until an operator
// intervenes. A returned error is recorded as an ERRORED attempt.
type Facilitator interface {
	Execute(ctx context.Context, ambiance ir.Ambiance, node ir.PlanNode) (ir.StepResponse, error)
}

// FacilitatorFunc adapts a function to Facilitator.
type FacilitatorFunc func(ctx context.Context, ambiance ir.Ambiance, node ir.PlanNode) (ir.StepResponse, error)

// Execute calls f.
func (f FacilitatorFunc) Execute(ctx context.Context, ambiance ir.Ambiance, node ir.PlanNode) (ir.StepResponse, error) {
	return f(ctx, ambiance, node)
}
