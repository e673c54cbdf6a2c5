package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// An attempt that finished before the process died, but was never advised,
// is advised by the next process.
func TestRecover_ReemitsUnadvisedAttempt(t *testing.T) {
	s := openStore(t)
	f := newScriptedFacilitator()
	ctx := context.Background()

	crashed, _ := newEngineOn(t, s, f, "id")
	pe, err := crashed.Start(ctx, plan(node("a", onSuccess("b")), node("b")))
	require.NoError(t, err)
	_, err = processNext(t, crashed) // a runs; its advise event is lost
	require.NoError(t, err)

	restarted, _ := newEngineOn(t, s, f, "r", WithSyncDispatch())
	require.NoError(t, restarted.Recover(ctx))

	assert.Equal(t, []string{"a#1:SUCCEEDED", "b#1:SUCCEEDED"}, trace(t, restarted, pe.ID))
	assert.Equal(t, ir.StatusSucceeded, planStatus(t, restarted, pe.ID))

	// Recovering again finds nothing to do.
	require.NoError(t, restarted.Recover(ctx))
	assert.Equal(t, []string{"a", "b"}, f.Calls())
}

// A claimed advise whose handler never completed is executed on recovery.
func TestRecover_ExecutesUnhandledAdvise(t *testing.T) {
	s := openStore(t)
	f := newScriptedFacilitator()
	ctx := context.Background()

	crashed, _ := newEngineOn(t, s, f, "id")
	pe, err := crashed.Start(ctx, plan(node("a", onSuccess("b")), node("b")))
	require.NoError(t, err)
	_, err = processNext(t, crashed)
	require.NoError(t, err)

	a := liveNode(t, crashed, pe.ID, "a")
	claimed, err := s.ClaimAdvise(ctx, store.AdviseRecord{
		NodeExecutionID: a.UUID,
		PlanExecutionID: pe.ID,
		ToStatus:        ir.StatusSucceeded,
		Event:           adviseEventFor(a, ir.StatusRunning),
		Advise:          ir.NewNextStepAdvise("b", ""),
	})
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, crashed.Nodes().RecordAdviseType(ctx, a.UUID, ir.AdviseNextStep))

	restarted, _ := newEngineOn(t, s, f, "r", WithSyncDispatch())
	require.NoError(t, restarted.Recover(ctx))

	assert.Equal(t, []string{"a#1:SUCCEEDED", "b#1:SUCCEEDED"}, trace(t, restarted, pe.ID))
	assert.Equal(t, ir.StatusSucceeded, planStatus(t, restarted, pe.ID))

	rec, err := s.GetAdvise(ctx, a.UUID, ir.StatusSucceeded)
	require.NoError(t, err)
	assert.True(t, rec.Handled)
}

func TestRecover_RedispatchesQueuedAttempt(t *testing.T) {
	s := openStore(t)
	f := newScriptedFacilitator()
	ctx := context.Background()

	crashed, _ := newEngineOn(t, s, f, "id")
	pe, err := crashed.Start(ctx, plan(node("a")))
	require.NoError(t, err)
	require.Equal(t, 1, crashed.QueueLen())

	restarted, _ := newEngineOn(t, s, f, "r", WithSyncDispatch())
	require.NoError(t, restarted.Recover(ctx))

	assert.Equal(t, []string{"a#1:SUCCEEDED"}, trace(t, restarted, pe.ID))
	assert.Equal(t, ir.StatusSucceeded, planStatus(t, restarted, pe.ID))
}

func TestRecover_SkipsFinishedPlans(t *testing.T) {
	s := openStore(t)
	f := newScriptedFacilitator()
	ctx := context.Background()

	first, _ := newEngineOn(t, s, f, "id", WithSyncDispatch())
	pe, err := first.Start(ctx, plan(node("a")))
	require.NoError(t, err)
	require.Equal(t, ir.StatusSucceeded, pe.Status)

	restarted, _ := newEngineOn(t, s, f, "r", WithSyncDispatch())
	require.NoError(t, restarted.Recover(ctx))
	assert.Equal(t, []string{"a"}, f.Calls())
}
