package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/orchestra/internal/ir"
)

// PlanYAML is the YAML form of a plan. Harness scenarios embed it.
type PlanYAML struct {
	ID    string     `yaml:"id"`
	Start string     `yaml:"start"`
	Nodes []NodeYAML `yaml:"nodes"`
}

// NodeYAML is one node of a YAML plan.
type NodeYAML struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name,omitempty"`
	StepType       string         `yaml:"step_type"`
	Facilitator    string         `yaml:"facilitator,omitempty"`
	StepParameters map[string]any `yaml:"step_parameters,omitempty"`
	Advisers       []AdviserYAML  `yaml:"advisers,omitempty"`
}

// AdviserYAML is one adviser obtainment of a YAML node.
type AdviserYAML struct {
	Type       string         `yaml:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// LoadPlanYAML parses a YAML plan document. Unknown fields are rejected.
func LoadPlanYAML(data []byte) (*ir.Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var py PlanYAML
	if err := dec.Decode(&py); err != nil {
		return nil, fmt.Errorf("parse plan yaml: %w", err)
	}
	return py.Plan()
}

// LoadPlanYAMLFile reads and parses a YAML plan file.
func LoadPlanYAMLFile(path string) (*ir.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	p, err := LoadPlanYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Plan converts the YAML form into an ir.Plan.
func (py PlanYAML) Plan() (*ir.Plan, error) {
	if py.ID == "" {
		return nil, &CompileError{Field: "id", Message: "id is required"}
	}
	if py.Start == "" {
		return nil, &CompileError{Field: "start", Message: "start is required"}
	}
	if len(py.Nodes) == 0 {
		return nil, &CompileError{Field: "nodes", Message: "at least one node is required"}
	}

	p := &ir.Plan{UUID: py.ID, StartingNodeID: py.Start}
	for i, ny := range py.Nodes {
		n, err := ny.node()
		if err != nil {
			return nil, &CompileError{Field: fmt.Sprintf("nodes[%d]", i), Message: err.Error()}
		}
		p.Nodes = append(p.Nodes, n)
	}
	if _, ok := p.Node(p.StartingNodeID); !ok {
		return nil, &CompileError{Field: "start", Message: fmt.Sprintf("starting node %q is not defined", p.StartingNodeID)}
	}
	return p, nil
}

func (ny NodeYAML) node() (ir.PlanNode, error) {
	if ny.ID == "" {
		return ir.PlanNode{}, fmt.Errorf("id is required")
	}
	if ny.StepType == "" {
		return ir.PlanNode{}, fmt.Errorf("node %s: step_type is required", ny.ID)
	}

	n := ir.PlanNode{
		UUID:           ny.ID,
		Identifier:     ny.ID,
		Name:           ny.Name,
		StepType:       ir.StepType(ny.StepType),
		StepParameters: ny.StepParameters,
		Facilitator:    ir.FacilitatorObtainment{Type: ir.FacilitatorSync},
	}
	if n.Name == "" {
		n.Name = ny.ID
	}
	if ny.Facilitator != "" {
		ft := ir.FacilitatorType(ny.Facilitator)
		if !ir.ValidFacilitatorTypes[ft] {
			return n, fmt.Errorf("node %s: unknown facilitator %q", ny.ID, ny.Facilitator)
		}
		n.Facilitator.Type = ft
	}

	for _, ay := range ny.Advisers {
		if ay.Type == "" {
			return n, fmt.Errorf("node %s: adviser type is required", ny.ID)
		}
		obt := ir.AdviserObtainment{Type: ir.AdviserType(ay.Type)}
		if ay.Parameters != nil {
			raw, err := json.Marshal(ay.Parameters)
			if err != nil {
				return n, fmt.Errorf("node %s: adviser %s parameters: %w", ny.ID, ay.Type, err)
			}
			obt.Parameters = raw
		}
		n.Advisers = append(n.Advisers, obt)
	}
	return n, nil
}
