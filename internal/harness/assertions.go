package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails. It carries the trace
// to make the failure readable without rerunning the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertPlanStatus:
		return assertPlanStatus(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains checks that some attempt of the node ended in the
// status. Attempt narrows the match when set.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Node != a.Node || ev.Status != a.Status {
			continue
		}
		if a.Attempt == 0 || ev.Attempt == a.Attempt {
			return nil
		}
	}

	expected := fmt.Sprintf("%s with status %s", a.Node, a.Status)
	if a.Attempt > 0 {
		expected = fmt.Sprintf("%s#%d with status %s", a.Node, a.Attempt, a.Status)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first attempts of the nodes appear in
// the given order. Other nodes may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Node]; !seen {
			positions[ev.Node] = i + 1
		}
	}

	for _, node := range a.Nodes {
		if positions[node] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all nodes present: %v", a.Nodes),
				Actual:   fmt.Sprintf("missing node: %s", node),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Nodes); i++ {
		prev, curr := a.Nodes[i-1], a.Nodes[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("nodes in order: %v", a.Nodes),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the number of attempts of a node.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Node == a.Node {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d attempts of %s", a.Count, a.Node),
			Actual:   fmt.Sprintf("%d attempts", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertPlanStatus(result *Result, a Assertion) error {
	if result.PlanStatus != a.Status {
		return &AssertionError{
			Type:     AssertPlanStatus,
			Expected: fmt.Sprintf("plan %s", a.Status),
			Actual:   fmt.Sprintf("plan %s", result.PlanStatus),
			Trace:    result.Trace,
		}
	}
	return nil
}
