package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/orchestra/internal/engine"
	"github.com/roach88/orchestra/internal/store"
	"github.com/roach88/orchestra/internal/testutil"
	"github.com/roach88/orchestra/internal/waitnotify"
)

// pollInterval is only used to build the poller; ticks are driven by
// advance steps.
const pollInterval = time.Second

// Harness runs one scenario on an isolated engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	poller *waitnotify.Poller
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a sync-dispatch
// engine, so every step has fully settled before the next one runs.
//
// Execution flow:
// 1. Compile the scenario plan
// 2. Start the plan execution
// 3. Apply steps in order
// 4. Collect the trace and evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	plan, err := scenario.Plan.Plan()
	if err != nil {
		return nil, fmt.Errorf("compile scenario plan: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewManualClock(testutil.DefaultStart)
	f := NewScriptedFacilitator(scenario.Outcomes)
	opts := []engine.EngineOption{
		engine.WithSyncDispatch(),
		engine.WithIDGenerator(testutil.NewSequenceGenerator("ne")),
		engine.WithNow(clock.Now),
	}
	if scenario.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(scenario.MaxSteps))
	}
	eng := engine.New(st, f, opts...)

	h := &Harness{
		store:  st,
		engine: eng,
		clock:  clock,
		poller: eng.Poller(pollInterval),
	}

	pe, err := eng.Start(ctx, *plan)
	if err != nil {
		return nil, fmt.Errorf("start plan: %w", err)
	}

	result := NewResult()
	result.PlanExecutionID = pe.ID

	for i, step := range scenario.Steps {
		if err := h.apply(ctx, pe.ID, step); err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", i, err))
		}
	}

	if err := h.collect(ctx, pe.ID, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// apply runs one step. Step errors are reported in the result rather than
// aborting the run, so scenarios can assert on rejected interventions.
func (h *Harness) apply(ctx context.Context, planExecutionID string, step Step) error {
	switch {
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		_, err = h.poller.Tick(ctx)
		return err

	case step.Intervene != nil:
		ne, err := h.engine.Nodes().GetLiveForNode(ctx, planExecutionID, step.Intervene.Node)
		if err != nil {
			return fmt.Errorf("intervene %s: %w", step.Intervene.Node, err)
		}
		return h.engine.Intervene(ctx, ne.UUID, step.Intervene.Action, step.Intervene.NextNodeID)

	case step.Notify != nil:
		var accepted bool
		var err error
		if step.Notify.Error != "" {
			accepted, err = h.engine.NotifyTaskError(ctx, step.Notify.TaskID, step.Notify.Error)
		} else {
			accepted, err = h.engine.NotifyTask(ctx, step.Notify.TaskID, step.Notify.Outcome.Response())
		}
		if err != nil {
			return err
		}
		if !accepted {
			return fmt.Errorf("notify %s: not accepted", step.Notify.TaskID)
		}
		return nil

	case step.Abort:
		return h.engine.Abort(ctx, planExecutionID)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) collect(ctx context.Context, planExecutionID string, result *Result) error {
	pe, err := h.store.GetPlanExecution(ctx, planExecutionID)
	if err != nil {
		return fmt.Errorf("read plan execution: %w", err)
	}
	result.PlanStatus = pe.Status

	nodes, err := h.engine.Nodes().ListByPlan(ctx, planExecutionID)
	if err != nil {
		return fmt.Errorf("read node executions: %w", err)
	}
	for _, ne := range nodes {
		result.Trace = append(result.Trace, traceEventFor(ne))
	}
	return nil
}
