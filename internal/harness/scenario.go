package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/orchestra/internal/compiler"
	"github.com/roach88/orchestra/internal/ir"
)

// Scenario is a plan plus the scripted world it runs in.
type Scenario struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Plan        compiler.PlanYAML    `yaml:"plan"`
	Outcomes    map[string][]Outcome `yaml:"outcomes,omitempty"`
	Steps       []Step               `yaml:"steps,omitempty"`
	Assertions  []Assertion          `yaml:"assertions"`
	MaxSteps    int                  `yaml:"max_steps,omitempty"`
}

// Outcome is one scripted step response. Error makes the facilitator itself
// fail, which the engine records as ERRORED.
type Outcome struct {
	Status       ir.Status        `yaml:"status"`
	Message      string           `yaml:"message,omitempty"`
	FailureTypes []ir.FailureType `yaml:"failure_types,omitempty"`
	TaskID       string           `yaml:"task_id,omitempty"`
	Error        string           `yaml:"error,omitempty"`
}

// Response converts the outcome to a step response. A broken status without
// a message gets a generic APPLICATION failure.
func (o Outcome) Response() ir.StepResponse {
	resp := ir.StepResponse{Status: o.Status, TaskID: o.TaskID}
	if o.Status.IsBroken() || o.Message != "" || len(o.FailureTypes) > 0 {
		msg := o.Message
		if msg == "" {
			msg = "scripted failure"
		}
		types := o.FailureTypes
		if len(types) == 0 && o.Status.IsBroken() {
			types = []ir.FailureType{ir.FailureApplication}
		}
		resp.FailureInfo = &ir.FailureInfo{Message: msg, Types: types}
	}
	return resp
}

// Step is one action applied after the plan starts. Exactly one field is set.
type Step struct {
	Advance   string         `yaml:"advance,omitempty"`
	Intervene *InterveneStep `yaml:"intervene,omitempty"`
	Notify    *NotifyStep    `yaml:"notify,omitempty"`
	Abort     bool           `yaml:"abort,omitempty"`
}

// InterveneStep resolves the live attempt of Node.
type InterveneStep struct {
	Node       string              `yaml:"node"`
	Action     ir.RepairActionCode `yaml:"action"`
	NextNodeID string              `yaml:"next_node_id,omitempty"`
}

// NotifyStep delivers the result of an external task. A non-empty Error
// reports the task as failed to run.
type NotifyStep struct {
	TaskID  string  `yaml:"task_id"`
	Outcome Outcome `yaml:"outcome"`
	Error   string  `yaml:"error,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertPlanStatus    = "plan_status"
)

// Assertion checks the trace or the plan status after all steps ran.
type Assertion struct {
	Type    string    `yaml:"type"`
	Node    string    `yaml:"node,omitempty"`
	Nodes   []string  `yaml:"nodes,omitempty"`
	Attempt int       `yaml:"attempt,omitempty"`
	Status  ir.Status `yaml:"status,omitempty"`
	Count   int       `yaml:"count,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Plan.Nodes) == 0 {
		return fmt.Errorf("plan must define at least one node")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("at least one assertion is required")
	}

	for node, outcomes := range s.Outcomes {
		for i, o := range outcomes {
			if err := validateOutcome(o); err != nil {
				return fmt.Errorf("outcomes[%s][%d]: %w", node, i, err)
			}
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateOutcome(o Outcome) error {
	if o.Error != "" {
		return nil
	}
	if o.TaskID != "" {
		return nil
	}
	if _, err := ir.ParseStatus(string(o.Status)); err != nil {
		return err
	}
	for _, ft := range o.FailureTypes {
		if _, err := ir.ParseFailureType(string(ft)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Advance != "" {
		set++
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}
	if step.Intervene != nil {
		set++
		if step.Intervene.Node == "" {
			return fmt.Errorf("intervene: node is required")
		}
		if !ir.ValidRepairActions[step.Intervene.Action] {
			return fmt.Errorf("intervene: unknown action %q", step.Intervene.Action)
		}
	}
	if step.Notify != nil {
		set++
		if step.Notify.TaskID == "" {
			return fmt.Errorf("notify: task_id is required")
		}
		if step.Notify.Error == "" {
			if err := validateOutcome(step.Notify.Outcome); err != nil {
				return fmt.Errorf("notify: %w", err)
			}
		}
	}
	if step.Abort {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of advance, intervene, notify or abort is required")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Node == "" {
			return fmt.Errorf("node is required for trace_contains")
		}
		if a.Status == "" {
			return fmt.Errorf("status is required for trace_contains")
		}
	case AssertTraceOrder:
		if len(a.Nodes) == 0 {
			return fmt.Errorf("nodes list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Node == "" {
			return fmt.Errorf("node is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertPlanStatus:
		if _, err := ir.ParseStatus(string(a.Status)); err != nil {
			return fmt.Errorf("plan_status: %w", err)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
