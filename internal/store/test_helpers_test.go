package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/orchestra/internal/ir"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPlan() ir.Plan {
	return ir.Plan{
		UUID:           "plan-1",
		StartingNodeID: "node-a",
		Nodes: []ir.PlanNode{
			{UUID: "node-a", Identifier: "a", StepType: "Http", Facilitator: ir.FacilitatorObtainment{Type: ir.FacilitatorSync}},
			{UUID: "node-b", Identifier: "b", StepType: "Http", Facilitator: ir.FacilitatorObtainment{Type: ir.FacilitatorSync}},
		},
	}
}

// createTestPlanExecution inserts a RUNNING plan execution.
func createTestPlanExecution(t *testing.T, s *Store, id string) ir.PlanExecution {
	t.Helper()
	start := testTime
	pe := ir.PlanExecution{
		ID:       id,
		Plan:     testPlan(),
		PlanHash: "hash-" + id,
		Status:   ir.StatusRunning,
		StartTs:  &start,
	}
	if _, err := s.CreatePlanExecution(context.Background(), pe); err != nil {
		t.Fatalf("CreatePlanExecution() failed: %v", err)
	}
	return pe
}

// testNodeExecution creates a QUEUED attempt with minimal required fields.
func testNodeExecution(id, planExecutionID, nodeID string) ir.NodeExecution {
	return ir.NodeExecution{
		UUID:            id,
		PlanExecutionID: planExecutionID,
		Node:            ir.PlanNode{UUID: nodeID, Identifier: nodeID, StepType: "Http"},
		Ambiance:        ir.NewAmbiance(planExecutionID, ir.Level{SetupID: nodeID, RuntimeID: id, Identifier: nodeID}),
		Status:          ir.StatusQueued,
	}
}

func mustInsert(t *testing.T, s *Store, ne ir.NodeExecution) {
	t.Helper()
	inserted, err := s.InsertNodeExecution(context.Background(), ne)
	if err != nil {
		t.Fatalf("InsertNodeExecution(%s) failed: %v", ne.UUID, err)
	}
	if !inserted {
		t.Fatalf("InsertNodeExecution(%s) was not inserted", ne.UUID)
	}
}

func mustFail(t *testing.T, s *Store, id string) {
	t.Helper()
	changed, err := s.UpdateNodeStatus(context.Background(), id, StatusUpdate{
		To:          ir.StatusFailed,
		At:          testTime,
		FailureInfo: &ir.FailureInfo{Message: "boom", Types: []ir.FailureType{ir.FailureApplication}},
	})
	if err != nil {
		t.Fatalf("UpdateNodeStatus(%s) failed: %v", id, err)
	}
	if !changed {
		t.Fatalf("UpdateNodeStatus(%s) did not change", id)
	}
}
