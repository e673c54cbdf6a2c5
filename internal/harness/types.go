package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/orchestra/internal/ir"
)

// TraceEvent is one node execution attempt as recorded by the store.
type TraceEvent struct {
	Node       string        `json:"node"`
	Attempt    int           `json:"attempt"`
	Status     ir.Status     `json:"status"`
	AdviseType ir.AdviseType `json:"advise_type,omitempty"`
	Failure    string        `json:"failure,omitempty"`
}

// String renders the event as "<node>#<attempt> <status>".
func (e TraceEvent) String() string {
	return fmt.Sprintf("%s#%d %s", e.Node, e.Attempt, e.Status)
}

func traceEventFor(ne ir.NodeExecution) TraceEvent {
	ev := TraceEvent{
		Node:       ne.Node.Identifier,
		Attempt:    ne.Attempt(),
		Status:     ne.Status,
		AdviseType: ne.AdviseType,
	}
	if ne.FailureInfo != nil {
		ev.Failure = ne.FailureInfo.Message
	}
	return ev
}

// Result is the outcome of running a scenario.
type Result struct {
	Pass            bool
	PlanExecutionID string
	PlanStatus      ir.Status
	Trace           []TraceEvent
	Errors          []string
}

// NewResult creates a passing result with empty trace and errors.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Render formats the plan status and trace, one event per line. It is the
// golden file format.
func (r *Result) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s\n", r.PlanStatus)
	for _, ev := range r.Trace {
		b.WriteString(ev.String())
		if ev.AdviseType != "" {
			fmt.Fprintf(&b, " -> %s", ev.AdviseType)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
