package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/orchestra/internal/criteria"
	"github.com/roach88/orchestra/internal/ir"
)

// StepTypeApproval is the built-in step that decides from approval and
// rejection criteria instead of a scripted outcome.
const StepTypeApproval ir.StepType = "Approval"

// ApprovalParameters are the step parameters of an Approval node.
type ApprovalParameters struct {
	Approval  criteria.Spec  `json:"approval"`
	Rejection *criteria.Spec `json:"rejection,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
}

// ScriptedFacilitator answers step dispatches from queued outcomes per node
// id. A node with nothing queued succeeds, unless it is an Approval step.
//
// Thread-safety: ScriptedFacilitator is safe for concurrent use.
type ScriptedFacilitator struct {
	mu        sync.Mutex
	outcomes  map[string][]Outcome
	calls     []string
	evaluator *criteria.Evaluator
}

// NewScriptedFacilitator creates a facilitator. outcomes is copied.
func NewScriptedFacilitator(outcomes map[string][]Outcome) *ScriptedFacilitator {
	f := &ScriptedFacilitator{
		outcomes:  make(map[string][]Outcome, len(outcomes)),
		evaluator: criteria.NewEvaluator(nil),
	}
	for node, queued := range outcomes {
		f.outcomes[node] = append([]Outcome(nil), queued...)
	}
	return f
}

// Execute implements engine.Facilitator.
func (f *ScriptedFacilitator) Execute(_ context.Context, _ ir.Ambiance, node ir.PlanNode) (ir.StepResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, node.UUID)
	queued := f.outcomes[node.UUID]
	var next *Outcome
	if len(queued) > 0 {
		next = &queued[0]
		f.outcomes[node.UUID] = queued[1:]
	}
	f.mu.Unlock()

	if next != nil {
		if next.Error != "" {
			return ir.StepResponse{}, errors.New(next.Error)
		}
		return next.Response(), nil
	}
	if node.StepType == StepTypeApproval {
		return f.approve(node)
	}
	return ir.StepResponse{Status: ir.StatusSucceeded}, nil
}

// Calls returns the node ids dispatched so far, in order.
func (f *ScriptedFacilitator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *ScriptedFacilitator) approve(node ir.PlanNode) (ir.StepResponse, error) {
	params, err := approvalParameters(node)
	if err != nil {
		return ir.StepResponse{}, err
	}
	resp, err := f.evaluator.Decide(params.Approval, params.Rejection, params.Inputs)
	if err != nil {
		if criteria.IsCritical(err) {
			return ir.StepResponse{}, fmt.Errorf("approval %s: %w", node.UUID, err)
		}
		return ir.StepResponse{
			Status:      ir.StatusFailed,
			FailureInfo: &ir.FailureInfo{Message: err.Error(), Types: []ir.FailureType{ir.FailureVerification}},
		}, nil
	}
	return resp, nil
}

func approvalParameters(node ir.PlanNode) (ApprovalParameters, error) {
	var p ApprovalParameters
	raw, err := json.Marshal(node.StepParameters)
	if err != nil {
		return p, fmt.Errorf("approval %s parameters: %w", node.UUID, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("approval %s parameters: %w", node.UUID, err)
	}
	return p, nil
}

// OutcomesFromPlan reads scripted outcomes from the "outcomes" step
// parameter of each node, a list of status names.
func OutcomesFromPlan(p ir.Plan) (map[string][]Outcome, error) {
	out := make(map[string][]Outcome)
	for _, n := range p.Nodes {
		raw, ok := n.StepParameters["outcomes"]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("node %s: outcomes must be a list of statuses", n.UUID)
		}
		for i, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("node %s: outcomes[%d] must be a status name", n.UUID, i)
			}
			status, err := ir.ParseStatus(name)
			if err != nil {
				return nil, fmt.Errorf("node %s: outcomes[%d]: %w", n.UUID, i, err)
			}
			out[n.UUID] = append(out[n.UUID], Outcome{Status: status})
		}
	}
	return out, nil
}
