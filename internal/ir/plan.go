package ir

import (
	"encoding/json"
	"fmt"
)

// StepType names the step implementation a node runs (e.g. "Http", "Approval").
type StepType string

// FacilitatorType decides how a node's step is dispatched.
type FacilitatorType string

const (
	FacilitatorSync     FacilitatorType = "SYNC"
	FacilitatorAsync    FacilitatorType = "ASYNC"
	FacilitatorTask     FacilitatorType = "TASK"
	FacilitatorChild    FacilitatorType = "CHILD"
	FacilitatorChildren FacilitatorType = "CHILDREN"
)

// ValidFacilitatorTypes defines allowed facilitator types.
var ValidFacilitatorTypes = map[FacilitatorType]bool{
	FacilitatorSync:     true,
	FacilitatorAsync:    true,
	FacilitatorTask:     true,
	FacilitatorChild:    true,
	FacilitatorChildren: true,
}

// FacilitatorObtainment selects the facilitator for a node.
type FacilitatorObtainment struct {
	Type       FacilitatorType `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// AdviserType names an adviser variant.
type AdviserType string

const (
	AdviserOnSuccess          AdviserType = "ON_SUCCESS"
	AdviserNextStep           AdviserType = "NEXT_STEP"
	AdviserRetry              AdviserType = "RETRY"
	AdviserOnFail             AdviserType = "ON_FAIL"
	AdviserManualIntervention AdviserType = "MANUAL_INTERVENTION"
	AdviserEndPlan            AdviserType = "END_PLAN"
)

// AdviserObtainment configures one adviser on a node. Parameters are the
// adviser-specific JSON document decoded by the adviser itself.
type AdviserObtainment struct {
	Type       AdviserType     `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// PlanNode is the static description of one step. Immutable after compilation.
type PlanNode struct {
	UUID           string                `json:"uuid"`
	Identifier     string                `json:"identifier"`
	Name           string                `json:"name"`
	StepType       StepType              `json:"step_type"`
	StepParameters map[string]any        `json:"step_parameters,omitempty"`
	Facilitator    FacilitatorObtainment `json:"facilitator"`
	Advisers       []AdviserObtainment   `json:"advisers,omitempty"`
}

// Plan is the compiled set of nodes for one pipeline run.
type Plan struct {
	UUID           string     `json:"uuid"`
	StartingNodeID string     `json:"starting_node_id"`
	Nodes          []PlanNode `json:"nodes"`
}

// Node looks up a node by uuid.
func (p Plan) Node(uuid string) (PlanNode, bool) {
	for _, n := range p.Nodes {
		if n.UUID == uuid {
			return n, true
		}
	}
	return PlanNode{}, false
}

// Validate checks structural invariants: unique node ids, a resolvable
// starting node and known facilitator types.
func (p Plan) Validate() error {
	if len(p.Nodes) == 0 {
		return fmt.Errorf("plan %s has no nodes", p.UUID)
	}
	seen := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.UUID == "" {
			return fmt.Errorf("plan %s: node with empty uuid", p.UUID)
		}
		if seen[n.UUID] {
			return fmt.Errorf("plan %s: duplicate node %s", p.UUID, n.UUID)
		}
		seen[n.UUID] = true
		if !ValidFacilitatorTypes[n.Facilitator.Type] {
			return fmt.Errorf("plan %s: node %s: unknown facilitator %q", p.UUID, n.UUID, n.Facilitator.Type)
		}
	}
	if !seen[p.StartingNodeID] {
		return fmt.Errorf("plan %s: starting node %q not found", p.UUID, p.StartingNodeID)
	}
	return nil
}
