package compiler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"cuelang.org/go/cue"

	"github.com/roach88/orchestra/internal/ir"
)

// CompilePlan parses a CUE value into a Plan. The plan id is the value's
// last path selector:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`plan: deploy: { start: "build", nodes: build: step_type: "Http" }`)
//	p, err := CompilePlan(v.LookupPath(cue.ParsePath("plan.deploy")))
func CompilePlan(v cue.Value) (*ir.Plan, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &ir.Plan{}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		p.UUID = unquote(sels[len(sels)-1].String())
	}

	start := v.LookupPath(cue.ParsePath("start"))
	if !start.Exists() {
		return nil, &CompileError{Field: "start", Message: "start is required", Pos: v.Pos()}
	}
	startID, err := start.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	p.StartingNodeID = startID

	nodesVal := v.LookupPath(cue.ParsePath("nodes"))
	if !nodesVal.Exists() {
		return nil, &CompileError{Field: "nodes", Message: "at least one node is required", Pos: v.Pos()}
	}
	iter, err := nodesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		n, err := compileNode(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		p.Nodes = append(p.Nodes, n)
	}
	if len(p.Nodes) == 0 {
		return nil, &CompileError{Field: "nodes", Message: "at least one node is required", Pos: nodesVal.Pos()}
	}

	if _, ok := p.Node(p.StartingNodeID); !ok {
		return nil, &CompileError{
			Field:   "start",
			Message: fmt.Sprintf("starting node %q is not defined", p.StartingNodeID),
			Pos:     start.Pos(),
		}
	}
	return p, nil
}

func compileNode(id string, v cue.Value) (ir.PlanNode, error) {
	n := ir.PlanNode{
		UUID:        id,
		Identifier:  id,
		Name:        id,
		Facilitator: ir.FacilitatorObtainment{Type: ir.FacilitatorSync},
	}

	stepType, err := requiredString(v, "step_type")
	if err != nil {
		return n, err
	}
	n.StepType = ir.StepType(stepType)

	if name, ok, err := optionalString(v, "name"); err != nil {
		return n, err
	} else if ok {
		n.Name = name
	}

	if f, ok, err := optionalString(v, "facilitator"); err != nil {
		return n, err
	} else if ok {
		ft := ir.FacilitatorType(f)
		if !ir.ValidFacilitatorTypes[ft] {
			return n, &CompileError{
				Field:   "facilitator",
				Message: fmt.Sprintf("unknown facilitator %q", f),
				Pos:     v.LookupPath(cue.ParsePath("facilitator")).Pos(),
			}
		}
		n.Facilitator.Type = ft
	}

	if params := v.LookupPath(cue.ParsePath("step_parameters")); params.Exists() {
		var m map[string]any
		if err := params.Decode(&m); err != nil {
			return n, formatCUEError(err)
		}
		n.StepParameters = m
	}

	advisers := v.LookupPath(cue.ParsePath("advisers"))
	if !advisers.Exists() {
		return n, nil
	}
	list, err := advisers.List()
	if err != nil {
		return n, formatCUEError(err)
	}
	for list.Next() {
		obt, err := compileAdviser(list.Value())
		if err != nil {
			return n, err
		}
		n.Advisers = append(n.Advisers, obt)
	}
	return n, nil
}

func compileAdviser(v cue.Value) (ir.AdviserObtainment, error) {
	t, err := requiredString(v, "type")
	if err != nil {
		return ir.AdviserObtainment{}, err
	}
	obt := ir.AdviserObtainment{Type: ir.AdviserType(t)}

	params := v.LookupPath(cue.ParsePath("parameters"))
	if !params.Exists() {
		return obt, nil
	}
	if err := params.Validate(cue.Concrete(true)); err != nil {
		return obt, formatCUEError(err)
	}
	raw, err := params.MarshalJSON()
	if err != nil {
		return obt, formatCUEError(err)
	}
	obt.Parameters = json.RawMessage(raw)
	return obt, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	s, ok, err := optionalString(v, field)
	if err != nil {
		return "", err
	}
	if !ok || s == "" {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func unquote(label string) string {
	if s, err := strconv.Unquote(label); err == nil {
		return s
	}
	return label
}
