package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/ir"
)

func TestEngine_LinearPlanSucceeds(t *testing.T) {
	f := newScriptedFacilitator()
	e, _ := newTestEngine(t, f)
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(
		node("a", onSuccess("b")),
		node("b", onSuccess("c")),
		node("c"),
	))
	require.NoError(t, err)

	assert.Equal(t, ir.StatusSucceeded, pe.Status)
	assert.NotNil(t, pe.EndTs)
	assert.Equal(t, []string{"a#1:SUCCEEDED", "b#1:SUCCEEDED", "c#1:SUCCEEDED"}, trace(t, e, pe.ID))
	assert.Equal(t, []string{"a", "b", "c"}, f.Calls())
	assert.Equal(t, 0, e.QueueLen())
	assert.Nil(t, e.QuotaFor(pe.ID), "quota released with the plan")

	// Siblings share the plan level; each attempt adds its own level.
	c := liveNode(t, e, pe.ID, "c")
	require.Equal(t, 2, c.Ambiance.Depth())
	root := c.Ambiance.Levels()[0]
	assert.Equal(t, "plan", root.Identifier)
	assert.Equal(t, pe.ID, root.RuntimeID)
	assert.Equal(t, c.UUID, c.Ambiance.RuntimeID())
	assert.Equal(t, "c", c.Ambiance.SetupID())
}

func TestEngine_StartRejectsInvalidPlan(t *testing.T) {
	e, _ := newTestEngine(t, newScriptedFacilitator())

	_, err := e.Start(context.Background(), ir.Plan{UUID: "p", StartingNodeID: "missing", Nodes: []ir.PlanNode{node("a")}})
	assert.Error(t, err)
}

// A flaky node retried twice produces exactly two historical attempts and
// one live attempt, and the plan then continues.
func TestEngine_RetryThenSucceed(t *testing.T) {
	f := newScriptedFacilitator().script("b", failed("flaky"), failed("flaky"))
	e, _ := newTestEngine(t, f)
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(
		node("a", onSuccess("b")),
		node("b",
			retry(advise.RetryParameters{RetryCount: 3, WaitIntervalList: []int{0}, RepairActionCodeAfterRetry: ir.RepairEndExecution}),
			onSuccess("c"),
		),
		node("c"),
	))
	require.NoError(t, err)

	assert.Equal(t, ir.StatusSucceeded, pe.Status)
	assert.Equal(t, []string{
		"a#1:SUCCEEDED",
		"b#1:FAILED",
		"b#2:FAILED",
		"b#3:SUCCEEDED",
		"c#1:SUCCEEDED",
	}, trace(t, e, pe.ID))

	nodes, err := e.Nodes().ListByPlan(ctx, pe.ID)
	require.NoError(t, err)
	var history []ir.NodeExecution
	for _, ne := range nodes {
		if ne.OldRetry {
			history = append(history, ne)
		}
	}
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Equal(t, ir.AdviseRetry, h.AdviseType)
		assert.Equal(t, "flaky", h.FailureInfo.Message)
	}

	live := liveNode(t, e, pe.ID, "b")
	assert.Equal(t, []string{history[1].UUID, history[0].UUID}, live.RetryIDs, "newest first")

	// Any attempt of the lineage resolves to the live one.
	for _, h := range history {
		got, err := e.Nodes().GetLive(ctx, h.UUID)
		require.NoError(t, err)
		assert.Equal(t, live.UUID, got.UUID)
	}

	lineage, err := e.Nodes().Lineage(ctx, history[0].UUID)
	require.NoError(t, err)
	require.Len(t, lineage, 3)
	assert.Equal(t, live.UUID, lineage[0].UUID)
}

func TestEngine_RetryExhaustion(t *testing.T) {
	retryThen := func(action ir.RepairActionCode, next string) ir.AdviserObtainment {
		return retry(advise.RetryParameters{
			RetryCount:                 1,
			WaitIntervalList:           []int{0},
			RepairActionCodeAfterRetry: action,
			NextNodeID:                 next,
		})
	}

	tests := []struct {
		name       string
		action     ir.RepairActionCode
		next       string
		wantTrace  []string
		wantStatus ir.Status
	}{
		{
			name:       "end execution fails the plan",
			action:     ir.RepairEndExecution,
			wantTrace:  []string{"b#1:FAILED", "b#2:FAILED"},
			wantStatus: ir.StatusFailed,
		},
		{
			name:       "ignore continues with the next node",
			action:     ir.RepairIgnore,
			next:       "c",
			wantTrace:  []string{"b#1:FAILED", "b#2:IGNORE_FAILED", "c#1:SUCCEEDED"},
			wantStatus: ir.StatusSucceeded,
		},
		{
			name:       "mark as success continues with the next node",
			action:     ir.RepairMarkAsSuccess,
			next:       "c",
			wantTrace:  []string{"b#1:FAILED", "b#2:SUCCEEDED", "c#1:SUCCEEDED"},
			wantStatus: ir.StatusSucceeded,
		},
		{
			name:       "on fail routes to the failure node",
			action:     ir.RepairOnFail,
			next:       "c",
			wantTrace:  []string{"b#1:FAILED", "b#2:FAILED", "c#1:SUCCEEDED"},
			wantStatus: ir.StatusSucceeded,
		},
		{
			name:       "manual intervention parks the node",
			action:     ir.RepairManualIntervention,
			next:       "c",
			wantTrace:  []string{"b#1:FAILED", "b#2:INTERVENTION_WAITING"},
			wantStatus: ir.StatusRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScriptedFacilitator().script("b", failed("boom"), failed("boom"))
			e, _ := newTestEngine(t, f)

			pe, err := e.Start(context.Background(), plan(
				node("b", retryThen(tt.action, tt.next)),
				node("c"),
			))
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrace, trace(t, e, pe.ID))
			assert.Equal(t, tt.wantStatus, pe.Status)
		})
	}
}

func TestEngine_RetryRespectsFailureTypes(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("denied", ir.FailureAuthorization))
	e, _ := newTestEngine(t, f)

	pe, err := e.Start(context.Background(), plan(
		node("a",
			retry(advise.RetryParameters{
				RetryCount:                 3,
				RepairActionCodeAfterRetry: ir.RepairEndExecution,
				ApplicableFailureTypes:     []ir.FailureType{ir.FailureTimeout},
			}),
			onFail(""),
		),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"a#1:FAILED"}, trace(t, e, pe.ID))
	assert.Equal(t, ir.StatusFailed, pe.Status)
	assert.Equal(t, ir.AdviseOnFail, liveNode(t, e, pe.ID, "a").AdviseType)
}

func TestEngine_OnFailRoutesToCleanup(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("boom"))
	e, _ := newTestEngine(t, f)

	pe, err := e.Start(context.Background(), plan(
		node("a", onSuccess("b"), onFail("cleanup")),
		node("b"),
		node("cleanup"),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"a#1:FAILED", "cleanup#1:SUCCEEDED"}, trace(t, e, pe.ID))
	assert.Equal(t, ir.StatusSucceeded, pe.Status)
}

func TestEngine_NodeWithoutAdvisersEndsPlan(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("boom"))
	e, _ := newTestEngine(t, f)

	pe, err := e.Start(context.Background(), plan(node("a")))
	require.NoError(t, err)

	assert.Equal(t, ir.StatusFailed, pe.Status)
	assert.Equal(t, ir.AdviseEndPlan, liveNode(t, e, pe.ID, "a").AdviseType)
}

func TestEngine_DelayedRetryFiresAfterWait(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("flaky"))
	e, clock := newTestEngine(t, f)
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(
		node("a",
			retry(advise.RetryParameters{RetryCount: 1, WaitIntervalList: []int{5}, RepairActionCodeAfterRetry: ir.RepairEndExecution}),
			onSuccess(""),
		),
	))
	require.NoError(t, err)
	assert.Equal(t, ir.StatusRunning, pe.Status)
	assert.Equal(t, []string{"a#1:FAILED"}, trace(t, e, pe.ID))

	waits, err := e.Store().ListWaits(ctx, pe.ID)
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, actionRetry, waits[0].ResumeAction)

	poller := e.Poller(time.Second)

	clock.Advance(4 * time.Second)
	n, err := poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"a#1:FAILED"}, trace(t, e, pe.ID))

	clock.Advance(time.Second)
	n, err = poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"a#1:FAILED", "a#2:SUCCEEDED"}, trace(t, e, pe.ID))
	assert.Equal(t, ir.StatusSucceeded, planStatus(t, e, pe.ID))

	// A second tick finds nothing left to resume.
	n, err = poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngine_AbortDropsPendingRetry(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("flaky"))
	e, clock := newTestEngine(t, f)
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(
		node("a", retry(advise.RetryParameters{RetryCount: 1, WaitIntervalList: []int{10}, RepairActionCodeAfterRetry: ir.RepairEndExecution})),
	))
	require.NoError(t, err)

	require.NoError(t, e.Abort(ctx, pe.ID))
	assert.Equal(t, ir.StatusAborted, planStatus(t, e, pe.ID))

	waits, err := e.Store().ListWaits(ctx, pe.ID)
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, "CANCELLED", string(waits[0].Status))

	clock.Advance(10 * time.Second)
	n, err := e.Poller(time.Second).Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"a#1:FAILED"}, trace(t, e, pe.ID), "no retry after abort")

	err = e.Abort(ctx, pe.ID)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestEngine_AbortDropsQueuedDispatch(t *testing.T) {
	f := newScriptedFacilitator()
	e, _ := newEngineOn(t, openStore(t), f, "id")
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(node("a")))
	require.NoError(t, err)
	require.Equal(t, 1, e.QueueLen())

	require.NoError(t, e.Abort(ctx, pe.ID))
	assert.Equal(t, []string{"a#1:ABORTED"}, trace(t, e, pe.ID))

	_, err = processNext(t, e)
	assert.True(t, IsCancelled(err))
	assert.Empty(t, f.Calls())

	_, err = e.TriggerExecution(ctx, ir.NewAmbiance(pe.ID), node("a"))
	assert.True(t, IsCancelled(err))
}

func TestEngine_FacilitatorErrorIsErrored(t *testing.T) {
	f := FacilitatorFunc(func(context.Context, ir.Ambiance, ir.PlanNode) (ir.StepResponse, error) {
		return ir.StepResponse{}, errors.New("connection refused")
	})
	e, _ := newTestEngine(t, f)

	pe, err := e.Start(context.Background(), plan(node("a")))
	require.NoError(t, err)

	a := liveNode(t, e, pe.ID, "a")
	assert.Equal(t, ir.StatusErrored, a.Status)
	require.NotNil(t, a.FailureInfo)
	assert.Equal(t, "connection refused", a.FailureInfo.Message)
	assert.Equal(t, ir.StatusFailed, pe.Status)
}

func TestEngine_InvalidStepStatusIsErrored(t *testing.T) {
	f := newScriptedFacilitator().script("a", ir.StepResponse{Status: ir.StatusRunning})
	e, _ := newTestEngine(t, f)

	pe, err := e.Start(context.Background(), plan(node("a")))
	require.NoError(t, err)

	a := liveNode(t, e, pe.ID, "a")
	assert.Equal(t, ir.StatusErrored, a.Status)
	assert.Contains(t, a.FailureInfo.Message, "invalid step response status")
}

// With no adviser able to advise, the attempt is marked UNKNOWN and the plan
// stays running.
func TestEngine_NoAdviserStalls(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("boom"))
	e, _ := newEngineOn(t, openStore(t), f, "id")
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(node("a", onSuccess("b")), node("b")))
	require.NoError(t, err)

	_, err = processNext(t, e) // dispatch
	require.NoError(t, err)
	ev, err := processNext(t, e) // advise
	require.Equal(t, EventTypeAdvise, ev.Type)
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeNoAdviser))
	assert.True(t, IsConfigError(err))

	a := liveNode(t, e, pe.ID, "a")
	assert.Equal(t, ir.AdviseUnknown, a.AdviseType)
	assert.Equal(t, ir.StatusRunning, planStatus(t, e, pe.ID))

	// Redelivery of the same event is a no-op.
	assert.NoError(t, e.HandleAdviseEvent(ctx, *ev.Advise))
}

func TestEngine_MissingNextNode(t *testing.T) {
	e, _ := newEngineOn(t, openStore(t), newScriptedFacilitator(), "id")
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(node("a", onSuccess("ghost"))))
	require.NoError(t, err)

	_, err = processNext(t, e)
	require.NoError(t, err)
	_, err = processNext(t, e)
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeMissingNode))

	a := liveNode(t, e, pe.ID, "a")
	rec, err := e.Store().GetAdvise(ctx, a.UUID, ir.StatusSucceeded)
	require.NoError(t, err)
	assert.True(t, rec.Handled, "config errors are not retried")
	assert.Equal(t, ir.StatusRunning, planStatus(t, e, pe.ID))
}

// Routing back to a node that already ran cannot re-run it: the advise is
// recorded and handled, and the plan stalls with a configuration error.
func TestEngine_RouteBackToFinishedNodeStalls(t *testing.T) {
	f := newScriptedFacilitator().script("b", failed("boom"))
	e, _ := newEngineOn(t, openStore(t), f, "id")
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(
		node("a", onSuccess("b")),
		node("b", onFail("a"), onSuccess("c")),
		node("c"),
	))
	require.NoError(t, err)

	for i := 0; i < 3; i++ { // dispatch a, advise a, dispatch b
		_, err = processNext(t, e)
		require.NoError(t, err)
	}
	ev, err := processNext(t, e) // advise b
	require.Equal(t, EventTypeAdvise, ev.Type)
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeAlreadyTriggered))
	assert.True(t, IsConfigError(err))

	a := liveNode(t, e, pe.ID, "a")
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "a", re.Details["next_node_id"])
	assert.Equal(t, a.UUID, re.Details["node_execution_id"])

	b := liveNode(t, e, pe.ID, "b")
	assert.Equal(t, ir.AdviseOnFail, b.AdviseType)
	rec, err := e.Store().GetAdvise(ctx, b.UUID, ir.StatusFailed)
	require.NoError(t, err)
	assert.True(t, rec.Handled, "config errors are not retried")

	assert.Equal(t, []string{"a#1:SUCCEEDED", "b#1:FAILED"}, trace(t, e, pe.ID))
	assert.Equal(t, ir.StatusRunning, planStatus(t, e, pe.ID))
	assert.Equal(t, 0, e.QueueLen())
}

// Re-running the advise that triggered a node finds the node it created and
// is not an error.
func TestEngine_TriggerNextIsIdempotentForItsAdvise(t *testing.T) {
	e, _ := newEngineOn(t, openStore(t), newScriptedFacilitator(), "id")
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(node("a", onSuccess("b")), node("b")))
	require.NoError(t, err)
	_, err = processNext(t, e) // dispatch a
	require.NoError(t, err)
	_, err = processNext(t, e) // advise a
	require.NoError(t, err)

	a := liveNode(t, e, pe.ID, "a")
	b := liveNode(t, e, pe.ID, "b")
	assert.Equal(t, a.UUID, b.PreviousID)
	assert.Empty(t, a.PreviousID, "the starting node has no predecessor")

	require.NoError(t, e.triggerNext(ctx, a, "b"))
	assert.Equal(t, 1, e.QueueLen(), "only the original dispatch of b is queued")
}

// Advisers are read from the stored node, not from the event body.
func TestEngine_AdviseUsesStoredAdvisers(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("boom"))
	e, _ := newEngineOn(t, openStore(t), f, "id")
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(node("a", onFail("cleanup")), node("cleanup")))
	require.NoError(t, err)
	_, err = processNext(t, e) // dispatch a
	require.NoError(t, err)

	ev, ok := e.queue.TryDequeue()
	require.True(t, ok)
	require.Equal(t, EventTypeAdvise, ev.Type)

	// Without advisers in the body the event would end the plan.
	stripped := *ev.Advise
	stripped.AdviserObtainments = nil
	require.NoError(t, e.HandleAdviseEvent(ctx, stripped))

	assert.Equal(t, ir.AdviseOnFail, liveNode(t, e, pe.ID, "a").AdviseType)
	assert.Equal(t, ir.StatusRunning, planStatus(t, e, pe.ID))

	_, err = processNext(t, e) // dispatch cleanup
	require.NoError(t, err)
	_, err = processNext(t, e) // advise cleanup
	require.NoError(t, err)
	assert.Equal(t, []string{"a#1:FAILED", "cleanup#1:SUCCEEDED"}, trace(t, e, pe.ID))
	assert.Equal(t, ir.StatusSucceeded, planStatus(t, e, pe.ID))
}

func TestEngine_AdviserErrorFailsNode(t *testing.T) {
	f := newScriptedFacilitator().script("a", ir.StepResponse{
		Status:      ir.StatusErrored,
		FailureInfo: &ir.FailureInfo{Message: "boom", Types: []ir.FailureType{ir.FailureApplication}},
	})
	e, _ := newEngineOn(t, openStore(t), f, "id")
	ctx := context.Background()

	// RETRY is not a valid action after retries; the adviser reports it.
	pe, err := e.Start(ctx, plan(node("a", retry(advise.RetryParameters{RepairActionCodeAfterRetry: ir.RepairRetry}))))
	require.NoError(t, err)

	_, err = processNext(t, e)
	require.NoError(t, err)
	_, err = processNext(t, e)
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeAdviseFailed))
	assert.True(t, advise.IsConfigError(err))

	a := liveNode(t, e, pe.ID, "a")
	assert.Equal(t, ir.StatusFailed, a.Status)
	assert.Equal(t, ir.AdviseUnknown, a.AdviseType)
	require.NotNil(t, a.FailureInfo)
	assert.Contains(t, a.FailureInfo.Message, "step failure: boom")
	assert.Equal(t, []ir.FailureType{ir.FailureApplication, ir.FailureUnknown}, a.FailureInfo.Types)
	assert.Equal(t, ir.StatusRunning, planStatus(t, e, pe.ID))
}

// Concurrent and repeated deliveries of one advise event trigger the next
// node exactly once.
func TestEngine_AdviseEventDeliveredOnce(t *testing.T) {
	f := newScriptedFacilitator()
	e, _ := newEngineOn(t, openStore(t), f, "id")
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(node("a", onSuccess("b")), node("b")))
	require.NoError(t, err)
	_, err = processNext(t, e) // dispatch a
	require.NoError(t, err)

	ev, ok := e.queue.TryDequeue()
	require.True(t, ok)
	require.Equal(t, EventTypeAdvise, ev.Type)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.HandleAdviseEvent(ctx, *ev.Advise)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	e.SubmitAdviseEvent(ctx, *ev.Advise)
	require.Equal(t, 2, e.QueueLen())
	next, err := processNext(t, e)
	require.NoError(t, err)
	assert.Equal(t, EventTypeDispatch, next.Type, "exactly one dispatch queued for b")
	_, err = processNext(t, e) // redelivered advise
	require.NoError(t, err)
	_, err = processNext(t, e) // advise for b ends the plan
	require.NoError(t, err)

	assert.Equal(t, []string{"a#1:SUCCEEDED", "b#1:SUCCEEDED"}, trace(t, e, pe.ID))
	assert.Equal(t, ir.StatusSucceeded, planStatus(t, e, pe.ID))
	assert.Equal(t, 0, e.QueueLen())

	// A redelivered step response finds a already final.
	require.NoError(t, e.HandleStepResponse(ctx, liveNode(t, e, pe.ID, "a").UUID, ir.StepResponse{Status: ir.StatusFailed}))
	assert.Equal(t, 0, e.QueueLen())
}

func TestEngine_TriggerExecutionReturnsLiveAttempt(t *testing.T) {
	f := newScriptedFacilitator().script("a", failed("boom"))
	e, _ := newTestEngine(t, f)
	ctx := context.Background()

	pe, err := e.Start(ctx, plan(node("a", manual(advise.ManualInterventionParameters{}))))
	require.NoError(t, err)
	a := liveNode(t, e, pe.ID, "a")

	again, err := e.TriggerExecution(ctx, a.Ambiance.Pop(), a.Node)
	require.NoError(t, err)
	assert.Equal(t, a.UUID, again.UUID)
	assert.Equal(t, []string{"a"}, f.Calls())
}

func TestEngine_QuotaEndsRunawayPlan(t *testing.T) {
	f := newScriptedFacilitator()
	for i := 0; i < 10; i++ {
		f.script("a", failed("always"))
	}
	e, _ := newTestEngine(t, f, WithMaxSteps(5))

	pe, err := e.Start(context.Background(), plan(
		node("a", retry(advise.RetryParameters{RetryCount: 100, RepairActionCodeAfterRetry: ir.RepairEndExecution})),
	))
	require.NoError(t, err)

	assert.Equal(t, ir.StatusFailed, pe.Status)
	assert.Len(t, trace(t, e, pe.ID), 6, "five advised cycles, the sixth exceeds the quota")
	assert.Nil(t, e.QuotaFor(pe.ID))
}

func TestEngine_RunWithWorkers(t *testing.T) {
	f := newScriptedFacilitator().script("b", failed("flaky"))
	e, _ := newEngineOn(t, openStore(t), f, "id", WithWorkers(2))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	pe, err := e.Start(ctx, plan(
		node("a", onSuccess("b")),
		node("b", retry(advise.RetryParameters{RetryCount: 1, RepairActionCodeAfterRetry: ir.RepairEndExecution}), onSuccess("c")),
		node("c"),
	))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return planStatus(t, e, pe.ID) == ir.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a#1:SUCCEEDED", "b#1:FAILED", "b#2:SUCCEEDED", "c#1:SUCCEEDED"}, trace(t, e, pe.ID))

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEngine_RunStopsOnContextCancel(t *testing.T) {
	e, _ := newEngineOn(t, openStore(t), newScriptedFacilitator(), "id")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
