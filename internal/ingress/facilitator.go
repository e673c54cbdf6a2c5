package ingress

import (
	"context"

	"github.com/roach88/orchestra/internal/ir"
)

// TaskFacilitator hands every step to an external delegate. The attempt
// suspends on a task keyed by its node execution id, and the delegate
// reports the result with POST /v1/notify/{node execution id}.
type TaskFacilitator struct{}

// Execute implements engine.Facilitator.
func (TaskFacilitator) Execute(_ context.Context, ambiance ir.Ambiance, _ ir.PlanNode) (ir.StepResponse, error) {
	return ir.StepResponse{TaskID: ambiance.RuntimeID()}, nil
}
