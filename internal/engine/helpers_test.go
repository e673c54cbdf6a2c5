package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
	"github.com/roach88/orchestra/internal/testutil"
)

// scriptedFacilitator returns queued outcomes per node id in order. A node
// with nothing queued succeeds.
type scriptedFacilitator struct {
	mu       sync.Mutex
	outcomes map[string][]ir.StepResponse
	calls    []string
}

func newScriptedFacilitator() *scriptedFacilitator {
	return &scriptedFacilitator{outcomes: make(map[string][]ir.StepResponse)}
}

func (f *scriptedFacilitator) script(nodeID string, outcomes ...ir.StepResponse) *scriptedFacilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[nodeID] = append(f.outcomes[nodeID], outcomes...)
	return f
}

func (f *scriptedFacilitator) Execute(_ context.Context, _ ir.Ambiance, node ir.PlanNode) (ir.StepResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, node.UUID)
	queued := f.outcomes[node.UUID]
	if len(queued) == 0 {
		return ir.StepResponse{Status: ir.StatusSucceeded}, nil
	}
	f.outcomes[node.UUID] = queued[1:]
	return queued[0], nil
}

func (f *scriptedFacilitator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func failed(msg string, types ...ir.FailureType) ir.StepResponse {
	return ir.StepResponse{
		Status:      ir.StatusFailed,
		FailureInfo: &ir.FailureInfo{Message: msg, Types: types},
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestEngine builds a sync-dispatch engine with deterministic ids and a
// manual wall clock.
func newTestEngine(t *testing.T, f Facilitator, opts ...EngineOption) (*Engine, *testutil.ManualClock) {
	t.Helper()
	return newEngineOn(t, openStore(t), f, "id", append([]EngineOption{WithSyncDispatch()}, opts...)...)
}

func newEngineOn(t *testing.T, s *store.Store, f Facilitator, idPrefix string, opts ...EngineOption) (*Engine, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(testutil.DefaultStart)
	base := []EngineOption{
		WithIDGenerator(testutil.NewSequenceGenerator(idPrefix)),
		WithNow(clock.Now),
	}
	return New(s, f, append(base, opts...)...), clock
}

func node(id string, advisers ...ir.AdviserObtainment) ir.PlanNode {
	return ir.PlanNode{
		UUID:        id,
		Identifier:  id,
		Name:        id,
		StepType:    "Test",
		Facilitator: ir.FacilitatorObtainment{Type: ir.FacilitatorSync},
		Advisers:    advisers,
	}
}

func plan(nodes ...ir.PlanNode) ir.Plan {
	return ir.Plan{UUID: "plan-1", StartingNodeID: nodes[0].UUID, Nodes: nodes}
}

func obtain(t ir.AdviserType, params any) ir.AdviserObtainment {
	raw, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	return ir.AdviserObtainment{Type: t, Parameters: raw}
}

func onSuccess(next string) ir.AdviserObtainment {
	return obtain(ir.AdviserOnSuccess, advise.OnSuccessParameters{NextNodeID: next})
}

func retry(p advise.RetryParameters) ir.AdviserObtainment {
	return obtain(ir.AdviserRetry, p)
}

func onFail(next string) ir.AdviserObtainment {
	return obtain(ir.AdviserOnFail, advise.OnFailParameters{NextNodeID: next})
}

func manual(p advise.ManualInterventionParameters) ir.AdviserObtainment {
	return obtain(ir.AdviserManualIntervention, p)
}

// trace renders every attempt of a plan execution in creation order as
// "<node>#<attempt>:<status>".
func trace(t *testing.T, e *Engine, planExecutionID string) []string {
	t.Helper()
	nodes, err := e.Nodes().ListByPlan(context.Background(), planExecutionID)
	require.NoError(t, err)
	out := make([]string, 0, len(nodes))
	for _, ne := range nodes {
		out = append(out, fmt.Sprintf("%s#%d:%s", ne.Node.Identifier, ne.Attempt(), ne.Status))
	}
	return out
}

func planStatus(t *testing.T, e *Engine, planExecutionID string) ir.Status {
	t.Helper()
	pe, err := e.Store().GetPlanExecution(context.Background(), planExecutionID)
	require.NoError(t, err)
	return pe.Status
}

func liveNode(t *testing.T, e *Engine, planExecutionID, nodeID string) ir.NodeExecution {
	t.Helper()
	ne, err := e.Nodes().GetLiveForNode(context.Background(), planExecutionID, nodeID)
	require.NoError(t, err)
	return ne
}

// processNext dequeues and processes one event of a non-sync engine.
func processNext(t *testing.T, e *Engine) (Event, error) {
	t.Helper()
	ev, ok := e.queue.TryDequeue()
	require.True(t, ok, "queue is empty")
	return ev, e.processEvent(context.Background(), ev)
}
