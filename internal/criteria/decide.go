package criteria

import (
	"github.com/roach88/orchestra/internal/ir"
)

// Decide resolves an approval. Approval criteria are checked first; a match
// succeeds the step. A matching rejection fails it with APPROVAL_REJECTION.
// Otherwise the approval keeps waiting for an operator. A nil rejection
// never matches.
func (e *Evaluator) Decide(approval Spec, rejection *Spec, inputs map[string]any) (ir.StepResponse, error) {
	approved, err := e.Evaluate(approval, inputs)
	if err != nil {
		return ir.StepResponse{}, err
	}
	if approved {
		return ir.StepResponse{Status: ir.StatusSucceeded}, nil
	}
	if rejection != nil {
		rejected, err := e.Evaluate(*rejection, inputs)
		if err != nil {
			return ir.StepResponse{}, err
		}
		if rejected {
			return ir.StepResponse{
				Status: ir.StatusFailed,
				FailureInfo: &ir.FailureInfo{
					Message: "approval rejected",
					Types:   []ir.FailureType{ir.FailureApprovalRejection},
				},
			}, nil
		}
	}
	return ir.StepResponse{Status: ir.StatusInterventionWaiting}, nil
}
