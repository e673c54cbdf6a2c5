package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/orchestra/internal/ir"
)

func TestCreatePlanExecution_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	pe := createTestPlanExecution(t, s, "pe-1")

	inserted, err := s.CreatePlanExecution(ctx, pe)
	if err != nil {
		t.Fatalf("second CreatePlanExecution() failed: %v", err)
	}
	if inserted {
		t.Error("duplicate plan execution was inserted")
	}

	got, err := s.GetPlanExecution(ctx, "pe-1")
	if err != nil {
		t.Fatalf("GetPlanExecution() failed: %v", err)
	}
	if got.Plan.StartingNodeID != "node-a" || len(got.Plan.Nodes) != 2 {
		t.Errorf("plan = %+v, want round-tripped test plan", got.Plan)
	}
	if got.StartTs == nil || !got.StartTs.Equal(testTime) {
		t.Errorf("start_ts = %v, want %v", got.StartTs, testTime)
	}
}

func TestFinishPlanExecution_OnlyOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")

	changed, err := s.FinishPlanExecution(ctx, "pe-1", ir.StatusSucceeded, testTime)
	if err != nil || !changed {
		t.Fatalf("FinishPlanExecution() = %v, %v; want true, nil", changed, err)
	}

	changed, err = s.FinishPlanExecution(ctx, "pe-1", ir.StatusAborted, testTime)
	if err != nil {
		t.Fatalf("second FinishPlanExecution() failed: %v", err)
	}
	if changed {
		t.Error("finished plan execution changed status again")
	}

	got, _ := s.GetPlanExecution(ctx, "pe-1")
	if got.Status != ir.StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", got.Status)
	}
}

func TestInsertNodeExecution_OneLiveAttemptPerNode(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")

	mustInsert(t, s, testNodeExecution("ne-1", "pe-1", "node-b"))

	// Redelivered trigger with a different generated id.
	inserted, err := s.InsertNodeExecution(ctx, testNodeExecution("ne-2", "pe-1", "node-b"))
	if err != nil {
		t.Fatalf("InsertNodeExecution() failed: %v", err)
	}
	if inserted {
		t.Error("second live attempt for the same node was inserted")
	}

	// Same id again.
	inserted, err = s.InsertNodeExecution(ctx, testNodeExecution("ne-1", "pe-1", "node-b"))
	if err != nil {
		t.Fatalf("InsertNodeExecution() failed: %v", err)
	}
	if inserted {
		t.Error("duplicate id was inserted")
	}

	all, _ := s.ListNodeExecutions(ctx, "pe-1")
	if len(all) != 1 {
		t.Errorf("node executions = %d, want 1", len(all))
	}
}

func TestUpdateNodeStatus_Conditional(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")
	mustInsert(t, s, testNodeExecution("ne-1", "pe-1", "node-a"))

	changed, err := s.UpdateNodeStatus(ctx, "ne-1", StatusUpdate{To: ir.StatusRunning, At: testTime})
	if err != nil || !changed {
		t.Fatalf("RUNNING transition = %v, %v", changed, err)
	}
	mustFail(t, s, "ne-1")

	// A redelivered terminal transition must not apply.
	changed, err = s.UpdateNodeStatus(ctx, "ne-1", StatusUpdate{To: ir.StatusSucceeded, At: testTime})
	if err != nil {
		t.Fatalf("UpdateNodeStatus() failed: %v", err)
	}
	if changed {
		t.Error("final attempt transitioned without an explicit From")
	}

	// An explicit From allows overriding a final status.
	changed, err = s.UpdateNodeStatus(ctx, "ne-1", StatusUpdate{
		From: []ir.Status{ir.StatusFailed},
		To:   ir.StatusIgnoreFailed,
		At:   testTime,
	})
	if err != nil || !changed {
		t.Fatalf("override = %v, %v", changed, err)
	}

	got, err := s.GetNodeExecution(ctx, "ne-1")
	if err != nil {
		t.Fatalf("GetNodeExecution() failed: %v", err)
	}
	if got.Status != ir.StatusIgnoreFailed {
		t.Errorf("status = %s, want IGNORE_FAILED", got.Status)
	}
	if got.StartTs == nil || got.EndTs == nil {
		t.Errorf("timestamps not recorded: start=%v end=%v", got.StartTs, got.EndTs)
	}
	if got.FailureInfo == nil || got.FailureInfo.Message != "boom" {
		t.Errorf("failure info = %+v, want boom", got.FailureInfo)
	}
}

func TestUpdateNodeStatus_NotifyID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")
	mustInsert(t, s, testNodeExecution("ne-1", "pe-1", "node-a"))

	corr := "corr-1"
	if _, err := s.UpdateNodeStatus(ctx, "ne-1", StatusUpdate{To: ir.StatusTaskWaiting, At: testTime, NotifyID: &corr}); err != nil {
		t.Fatalf("UpdateNodeStatus() failed: %v", err)
	}
	got, _ := s.GetNodeExecution(ctx, "ne-1")
	if got.NotifyID != "corr-1" {
		t.Errorf("notify_id = %q, want corr-1", got.NotifyID)
	}

	empty := ""
	if _, err := s.UpdateNodeStatus(ctx, "ne-1", StatusUpdate{To: ir.StatusSucceeded, At: testTime, NotifyID: &empty}); err != nil {
		t.Fatalf("UpdateNodeStatus() failed: %v", err)
	}
	got, _ = s.GetNodeExecution(ctx, "ne-1")
	if got.NotifyID != "" {
		t.Errorf("notify_id = %q, want cleared", got.NotifyID)
	}
}

func TestInsertNodeExecution_PreviousID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")

	ne := testNodeExecution("x", "pe-1", "node-b")
	ne.PreviousID = "a-1"
	mustInsert(t, s, ne)

	got, err := s.GetNodeExecution(ctx, "x")
	if err != nil {
		t.Fatalf("GetNodeExecution() failed: %v", err)
	}
	if got.PreviousID != "a-1" {
		t.Errorf("PreviousID = %q, want a-1", got.PreviousID)
	}

	mustFail(t, s, "x")
	res, err := s.ForkNodeExecution(ctx, "x", "y")
	if err != nil {
		t.Fatalf("ForkNodeExecution() failed: %v", err)
	}
	if res.Live.PreviousID != "a-1" {
		t.Errorf("retry PreviousID = %q, want a-1", res.Live.PreviousID)
	}
	live, err := s.GetLiveNodeExecution(ctx, "x")
	if err != nil {
		t.Fatalf("GetLiveNodeExecution() failed: %v", err)
	}
	if live.PreviousID != "a-1" {
		t.Errorf("stored retry PreviousID = %q, want a-1", live.PreviousID)
	}
}

func TestForkNodeExecution_Lineage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")
	mustInsert(t, s, testNodeExecution("x", "pe-1", "node-b"))
	mustFail(t, s, "x")

	before, _ := s.ListNodeExecutions(ctx, "pe-1")

	res, err := s.ForkNodeExecution(ctx, "x", "y")
	if err != nil {
		t.Fatalf("ForkNodeExecution() failed: %v", err)
	}
	if !res.Forked {
		t.Fatal("Forked = false, want true")
	}

	after, _ := s.ListNodeExecutions(ctx, "pe-1")
	if len(after) != len(before)+1 {
		t.Errorf("record count = %d, want %d", len(after), len(before)+1)
	}

	holders := 0
	for _, ne := range after {
		for _, rid := range ne.RetryIDs {
			if rid == "x" {
				holders++
			}
		}
	}
	if holders != 1 {
		t.Errorf("records holding x in retry_ids = %d, want 1", holders)
	}

	old, err := s.GetNodeExecution(ctx, "x")
	if err != nil {
		t.Fatalf("GetNodeExecution(x) failed: %v", err)
	}
	if !old.OldRetry || old.Status != ir.StatusFailed || old.EndTs == nil || old.FailureInfo == nil {
		t.Errorf("historical record lost history: %+v", old)
	}

	live, err := s.GetLiveNodeExecution(ctx, "x")
	if err != nil {
		t.Fatalf("GetLiveNodeExecution(x) failed: %v", err)
	}
	if live.UUID != "y" || live.Status != ir.StatusQueued || live.StartTs != nil || live.FailureInfo != nil {
		t.Errorf("live record = %+v, want fresh QUEUED y", live)
	}
	if live.Ambiance.RuntimeID() != "y" {
		t.Errorf("live runtime id = %q, want y", live.Ambiance.RuntimeID())
	}
}

func TestForkNodeExecution_RedeliveryForksOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")
	mustInsert(t, s, testNodeExecution("x", "pe-1", "node-b"))
	mustFail(t, s, "x")

	if _, err := s.ForkNodeExecution(ctx, "x", "y"); err != nil {
		t.Fatalf("first fork failed: %v", err)
	}
	res, err := s.ForkNodeExecution(ctx, "x", "z")
	if err != nil {
		t.Fatalf("second fork failed: %v", err)
	}
	if res.Forked {
		t.Error("redelivered fork forked again")
	}
	if res.Live.UUID != "y" {
		t.Errorf("live = %s, want y", res.Live.UUID)
	}

	all, _ := s.ListNodeExecutions(ctx, "pe-1")
	if len(all) != 2 {
		t.Errorf("records = %d, want 2", len(all))
	}
}

func TestForkNodeExecution_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ForkNodeExecution(context.Background(), "missing", "y")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveNodeExecution_HistoricalIsImmutable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")
	mustInsert(t, s, testNodeExecution("x", "pe-1", "node-b"))
	mustFail(t, s, "x")
	res, err := s.ForkNodeExecution(ctx, "x", "y")
	if err != nil {
		t.Fatalf("ForkNodeExecution() failed: %v", err)
	}

	res.Historical.Status = ir.StatusSucceeded
	err = s.SaveNodeExecution(ctx, res.Historical)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("saving historical record: err = %v, want ErrNotFound", err)
	}

	res.Live.Status = ir.StatusRunning
	res.Live.AdviseType = ir.AdviseNextStep
	if err := s.SaveNodeExecution(ctx, res.Live); err != nil {
		t.Fatalf("SaveNodeExecution(live) failed: %v", err)
	}
	got, _ := s.GetNodeExecution(ctx, "y")
	if got.Status != ir.StatusRunning || got.AdviseType != ir.AdviseNextStep {
		t.Errorf("saved live = %+v", got)
	}
}

func TestAbortNodeExecutions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestPlanExecution(t, s, "pe-1")
	mustInsert(t, s, testNodeExecution("ne-a", "pe-1", "node-a"))
	mustInsert(t, s, testNodeExecution("ne-b", "pe-1", "node-b"))
	mustFail(t, s, "ne-a")

	n, err := s.AbortNodeExecutions(ctx, "pe-1", testTime)
	if err != nil {
		t.Fatalf("AbortNodeExecutions() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("aborted = %d, want 1", n)
	}
	a, _ := s.GetNodeExecution(ctx, "ne-a")
	b, _ := s.GetNodeExecution(ctx, "ne-b")
	if a.Status != ir.StatusFailed || b.Status != ir.StatusAborted {
		t.Errorf("statuses = %s, %s; want FAILED, ABORTED", a.Status, b.Status)
	}
}

func TestClaimAdvise_FirstDeliveryWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := AdviseRecord{
		NodeExecutionID: "ne-1",
		PlanExecutionID: "pe-1",
		ToStatus:        ir.StatusFailed,
		Event:           ir.AdviseEvent{NodeExecutionID: "ne-1", ToStatus: ir.StatusFailed},
		Advise:          ir.NewRetryAdvise("ne-1", 2),
	}
	claimed, err := s.ClaimAdvise(ctx, rec)
	if err != nil || !claimed {
		t.Fatalf("first ClaimAdvise() = %v, %v", claimed, err)
	}

	rec.Advise = ir.NewEndPlanAdvise()
	claimed, err = s.ClaimAdvise(ctx, rec)
	if err != nil {
		t.Fatalf("second ClaimAdvise() failed: %v", err)
	}
	if claimed {
		t.Error("redelivered advise was claimed twice")
	}

	got, err := s.GetAdvise(ctx, "ne-1", ir.StatusFailed)
	if err != nil {
		t.Fatalf("GetAdvise() failed: %v", err)
	}
	if got.Advise.Type != ir.AdviseRetry || got.Advise.Retry.WaitInterval != 2 {
		t.Errorf("stored advise = %+v, want first RETRY", got.Advise)
	}
	if got.Handled {
		t.Error("advise handled before MarkAdviseHandled")
	}

	pending, _ := s.UnhandledAdvises(ctx)
	if len(pending) != 1 {
		t.Fatalf("unhandled = %d, want 1", len(pending))
	}

	if err := s.MarkAdviseHandled(ctx, "ne-1", ir.StatusFailed); err != nil {
		t.Fatalf("MarkAdviseHandled() failed: %v", err)
	}
	pending, _ = s.UnhandledAdvises(ctx)
	if len(pending) != 0 {
		t.Errorf("unhandled = %d, want 0", len(pending))
	}
}
