package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrPlanStructure        = "E100" // duplicate ids, unknown start or facilitator
	ErrStepTypeEmpty        = "E101" // node without step type
	ErrInvalidAdviser       = "E102" // unknown adviser type or bad parameters
	ErrUnknownNextNode      = "E103" // adviser routes to a node not in the plan
	ErrUnreachableAdviser   = "E104" // adviser after one that always advises
	ErrDuplicateAdviserType = "E105" // same adviser type twice on a node
)

// ValidationError represents a plan validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// routing is the subset of adviser parameters that names another node.
type routing struct {
	NextNodeID string `json:"next_node_id"`
}

// ValidatePlan validates a compiled plan against the adviser registry.
// Returns all errors found (does not fail-fast).
func ValidatePlan(p ir.Plan, reg *advise.Registry) []ValidationError {
	var errs []ValidationError

	if err := p.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "plan", Message: err.Error(), Code: ErrPlanStructure})
	}

	for i, n := range p.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		if strings.TrimSpace(string(n.StepType)) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".step_type",
				Message: fmt.Sprintf("node %q has no step type", n.UUID),
				Code:    ErrStepTypeEmpty,
			})
		}
		errs = append(errs, validateAdvisers(p, n, field, reg)...)
	}
	return errs
}

func validateAdvisers(p ir.Plan, n ir.PlanNode, field string, reg *advise.Registry) []ValidationError {
	var errs []ValidationError
	seen := make(map[ir.AdviserType]bool)
	terminal := ir.AdviserType("")

	for j, obt := range n.Advisers {
		af := fmt.Sprintf("%s.advisers[%d]", field, j)

		if terminal != "" {
			errs = append(errs, ValidationError{
				Field:   af,
				Message: fmt.Sprintf("%s adviser is never consulted: %s always advises first", obt.Type, terminal),
				Code:    ErrUnreachableAdviser,
			})
		}
		if obt.Type == ir.AdviserNextStep || obt.Type == ir.AdviserEndPlan {
			terminal = obt.Type
		}

		if seen[obt.Type] {
			errs = append(errs, ValidationError{
				Field:   af + ".type",
				Message: fmt.Sprintf("duplicate %s adviser", obt.Type),
				Code:    ErrDuplicateAdviserType,
			})
		}
		seen[obt.Type] = true

		if err := reg.ValidateObtainment(obt); err != nil {
			errs = append(errs, ValidationError{Field: af, Message: err.Error(), Code: ErrInvalidAdviser})
			continue
		}

		next := nextNodeID(obt)
		if next == "" {
			continue
		}
		if _, ok := p.Node(next); !ok {
			errs = append(errs, ValidationError{
				Field:   af + ".parameters.next_node_id",
				Message: fmt.Sprintf("node %q routes to unknown node %q", n.UUID, next),
				Code:    ErrUnknownNextNode,
			})
		}
	}
	return errs
}

// nextNodeID returns the node an adviser routes to, or "".
func nextNodeID(obt ir.AdviserObtainment) string {
	if len(obt.Parameters) == 0 {
		return ""
	}
	var r routing
	if err := json.Unmarshal(obt.Parameters, &r); err != nil {
		return ""
	}
	return r.NextNodeID
}
