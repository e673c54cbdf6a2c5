// Package nodeexec is the persistence facade over NodeExecution records.
//
// Callers address attempts by any uuid they have seen: Get returns that exact
// record (historical or live), GetLive follows the retry lineage to the one
// attempt that can still transition.
package nodeexec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// Repository is the subset of the store the service needs.
type Repository interface {
	InsertNodeExecution(ctx context.Context, ne ir.NodeExecution) (bool, error)
	SaveNodeExecution(ctx context.Context, ne ir.NodeExecution) error
	UpdateNodeStatus(ctx context.Context, id string, u store.StatusUpdate) (bool, error)
	SetAdviseType(ctx context.Context, id string, t ir.AdviseType) error
	ForkNodeExecution(ctx context.Context, id, newID string) (store.ForkResult, error)
	GetNodeExecution(ctx context.Context, id string) (ir.NodeExecution, error)
	GetLiveNodeExecution(ctx context.Context, id string) (ir.NodeExecution, error)
	GetLiveNodeExecutionForNode(ctx context.Context, planExecutionID, nodeID string) (ir.NodeExecution, error)
	ListNodeExecutions(ctx context.Context, planExecutionID string) ([]ir.NodeExecution, error)
}

// Service reads and writes NodeExecution records.
type Service struct {
	repo Repository
}

// New creates a Service over repo.
func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the attempt stored under id.
func (s *Service) Get(ctx context.Context, id string) (ir.NodeExecution, error) {
	return s.repo.GetNodeExecution(ctx, id)
}

// GetLive returns the live attempt of the lineage id belongs to.
func (s *Service) GetLive(ctx context.Context, id string) (ir.NodeExecution, error) {
	return s.repo.GetLiveNodeExecution(ctx, id)
}

// GetLiveForNode returns the live attempt of a node in a plan execution.
func (s *Service) GetLiveForNode(ctx context.Context, planExecutionID, nodeID string) (ir.NodeExecution, error) {
	return s.repo.GetLiveNodeExecutionForNode(ctx, planExecutionID, nodeID)
}

// Create stores a new attempt. created is false when the node already has a
// live attempt in the plan execution.
func (s *Service) Create(ctx context.Context, ne ir.NodeExecution) (created bool, err error) {
	created, err = s.repo.InsertNodeExecution(ctx, ne)
	if err != nil {
		return false, err
	}
	if !created {
		slog.Debug("node execution already exists",
			"plan_execution_id", ne.PlanExecutionID,
			"node_id", ne.NodeID(),
			"node_execution_id", ne.UUID,
		)
	}
	return created, nil
}

// Save overwrites the mutable fields of a live attempt.
func (s *Service) Save(ctx context.Context, ne ir.NodeExecution) error {
	if ne.OldRetry {
		return fmt.Errorf("save node execution %s: historical retry records are immutable", ne.UUID)
	}
	return s.repo.SaveNodeExecution(ctx, ne)
}

// Transition applies a conditional status change and returns the record as
// stored afterwards. changed is false when the attempt was not in an allowed
// source status.
func (s *Service) Transition(ctx context.Context, id string, u store.StatusUpdate) (ir.NodeExecution, bool, error) {
	changed, err := s.repo.UpdateNodeStatus(ctx, id, u)
	if err != nil {
		return ir.NodeExecution{}, false, err
	}
	ne, err := s.repo.GetNodeExecution(ctx, id)
	if err != nil {
		return ir.NodeExecution{}, false, err
	}
	if changed {
		slog.Debug("node execution transitioned",
			"node_execution_id", id,
			"node_id", ne.NodeID(),
			"status", ne.Status,
		)
	}
	return ne, changed, nil
}

// Start moves a QUEUED attempt to RUNNING. started is false if the attempt
// was already started, which makes dispatch at-most-once per attempt.
func (s *Service) Start(ctx context.Context, id string, at time.Time) (ir.NodeExecution, bool, error) {
	return s.Transition(ctx, id, store.StatusUpdate{
		From: []ir.Status{ir.StatusQueued},
		To:   ir.StatusRunning,
		At:   at,
	})
}

// RecordAdviseType stores the outcome of the latest advisory cycle.
func (s *Service) RecordAdviseType(ctx context.Context, id string, t ir.AdviseType) error {
	return s.repo.SetAdviseType(ctx, id, t)
}

// Fork retires attempt id and creates its successor newID.
func (s *Service) Fork(ctx context.Context, id, newID string) (store.ForkResult, error) {
	res, err := s.repo.ForkNodeExecution(ctx, id, newID)
	if err != nil {
		return store.ForkResult{}, err
	}
	if res.Forked {
		slog.Info("node execution forked for retry",
			"node_id", res.Live.NodeID(),
			"retired", res.Historical.UUID,
			"live", res.Live.UUID,
			"attempt", res.Live.Attempt(),
		)
	}
	return res, nil
}

// ListByPlan returns every attempt of a plan execution in creation order.
func (s *Service) ListByPlan(ctx context.Context, planExecutionID string) ([]ir.NodeExecution, error) {
	return s.repo.ListNodeExecutions(ctx, planExecutionID)
}

// Lineage returns the live attempt for id followed by its retired attempts,
// newest first.
func (s *Service) Lineage(ctx context.Context, id string) ([]ir.NodeExecution, error) {
	live, err := s.repo.GetLiveNodeExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]ir.NodeExecution, 0, len(live.RetryIDs)+1)
	out = append(out, live)
	for _, rid := range live.RetryIDs {
		ne, err := s.repo.GetNodeExecution(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("lineage of %s: %w", id, err)
		}
		out = append(out, ne)
	}
	return out, nil
}
