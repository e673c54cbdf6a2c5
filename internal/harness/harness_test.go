package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchestra/internal/ir"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// scenarioDir holds the shared scenario fixtures at the module root.
const scenarioDir = "../../testdata/scenarios"

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func linearScenario() *Scenario {
	s, err := ParseScenario([]byte(`
name: linear
plan:
  id: p
  start: a
  nodes:
    - id: a
      step_type: Shell
      advisers:
        - type: ON_SUCCESS
          parameters: { next_node_id: b }
    - id: b
      step_type: Shell
assertions:
  - type: plan_status
    status: SUCCEEDED
`))
	if err != nil {
		panic(err)
	}
	return s
}

func TestRun_Linear(t *testing.T) {
	result, err := Run(context.Background(), linearScenario())
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	assert.Equal(t, ir.StatusSucceeded, result.PlanStatus)
	assert.Equal(t, "ne-1", result.PlanExecutionID)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "a#1 SUCCEEDED", result.Trace[0].String())
	assert.Equal(t, "b#1 SUCCEEDED", result.Trace[1].String())
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(context.Background(), linearScenario())
	require.NoError(t, err)
	second, err := Run(context.Background(), linearScenario())
	require.NoError(t, err)

	assert.Equal(t, first.Render(), second.Render())
	assert.Equal(t, first.PlanExecutionID, second.PlanExecutionID)
}

func TestRun_FailingAssertionReported(t *testing.T) {
	s := linearScenario()
	s.Assertions = []Assertion{{Type: AssertPlanStatus, Status: ir.StatusFailed}}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Expected: plan FAILED")
	assert.Contains(t, result.Errors[0], "Actual: plan SUCCEEDED")
}

func TestRun_StepErrorReported(t *testing.T) {
	s := linearScenario()
	s.Steps = []Step{{Intervene: &InterveneStep{Node: "a", Action: ir.RepairIgnore}}}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 0")
	assert.Contains(t, result.Errors[0], "NOT_INTERVENTION_WAITING")
}

func TestRun_DuplicateNotifyReported(t *testing.T) {
	s := linearScenario()
	s.Plan.Nodes[0].Facilitator = "TASK"
	s.Outcomes = map[string][]Outcome{"a": {{TaskID: "t-1"}}}
	s.Steps = []Step{
		{Notify: &NotifyStep{TaskID: "t-1", Outcome: Outcome{Status: ir.StatusSucceeded}}},
		{Notify: &NotifyStep{TaskID: "t-1", Outcome: Outcome{Status: ir.StatusSucceeded}}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusSucceeded, result.PlanStatus)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1: notify t-1: not accepted")
}

func TestRun_NotifyErrorErrorsNode(t *testing.T) {
	s := linearScenario()
	s.Plan.Nodes[0].Facilitator = "TASK"
	s.Outcomes = map[string][]Outcome{"a": {{TaskID: "t-1"}}}
	s.Steps = []Step{{Notify: &NotifyStep{TaskID: "t-1", Error: "delegate lost"}}}
	s.Assertions = []Assertion{{Type: AssertTraceContains, Node: "a", Status: ir.StatusErrored}}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "delegate lost", result.Trace[0].Failure)
	// ON_SUCCESS cannot advise an ERRORED attempt, so the plan stalls.
	assert.Equal(t, ir.StatusRunning, result.PlanStatus)
	assert.Equal(t, ir.AdviseUnknown, result.Trace[0].AdviseType)
}

func TestRun_FacilitatorErrorErrorsNode(t *testing.T) {
	s := linearScenario()
	s.Outcomes = map[string][]Outcome{"a": {{Error: "executor unreachable"}}}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, ir.StatusErrored, result.Trace[0].Status)
	assert.Equal(t, "executor unreachable", result.Trace[0].Failure)
	assert.Equal(t, ir.StatusRunning, result.PlanStatus)
}

func TestRun_MaxStepsEndsPlan(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: runaway
max_steps: 2
plan:
  id: p
  start: a
  nodes:
    - id: a
      step_type: Shell
      advisers:
        - type: RETRY
          parameters:
            retry_count: 100
            repair_action_code_after_retry: END_EXECUTION
outcomes:
  a: [{ status: FAILED }, { status: FAILED }, { status: FAILED }, { status: FAILED }]
assertions:
  - type: trace_count
    node: a
    count: 3
  - type: plan_status
    status: FAILED
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "plan FAILED\na#1 FAILED -> RETRY\na#2 FAILED -> RETRY\na#3 FAILED\n", result.Render())
}

func TestRun_InvalidPlan(t *testing.T) {
	s := linearScenario()
	s.Plan.Start = "missing"

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile scenario plan")
}

func TestResult_Render(t *testing.T) {
	r := NewResult()
	r.PlanStatus = ir.StatusFailed
	r.Trace = []TraceEvent{
		{Node: "a", Attempt: 1, Status: ir.StatusFailed, AdviseType: ir.AdviseRetry},
		{Node: "a", Attempt: 2, Status: ir.StatusRunning},
	}

	assert.Equal(t, "plan FAILED\na#1 FAILED -> RETRY\na#2 RUNNING\n", r.Render())
}
