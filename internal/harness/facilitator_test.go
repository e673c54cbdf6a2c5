package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchestra/internal/ir"
)

func approvalNode(inputs map[string]any) ir.PlanNode {
	return ir.PlanNode{
		UUID:     "gate",
		StepType: StepTypeApproval,
		StepParameters: map[string]any{
			"approval": map[string]any{
				"type": "KEY_VALUES",
				"key_values": map[string]any{
					"conditions": []any{
						map[string]any{"key": "env", "operator": "EQ", "value": "staging"},
					},
				},
			},
			"rejection": map[string]any{
				"type": "KEY_VALUES",
				"key_values": map[string]any{
					"conditions": []any{
						map[string]any{"key": "env", "operator": "EQ", "value": "prod"},
					},
				},
			},
			"inputs": inputs,
		},
	}
}

func TestScriptedFacilitator_QueuedOutcomes(t *testing.T) {
	f := NewScriptedFacilitator(map[string][]Outcome{
		"a": {{Status: ir.StatusFailed, Message: "first"}, {Error: "down"}},
	})
	ctx := context.Background()
	a := ir.PlanNode{UUID: "a", StepType: "Shell"}

	resp, err := f.Execute(ctx, ir.Ambiance{}, a)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusFailed, resp.Status)
	assert.Equal(t, "first", resp.FailureInfo.Message)

	_, err = f.Execute(ctx, ir.Ambiance{}, a)
	require.EqualError(t, err, "down")

	resp, err = f.Execute(ctx, ir.Ambiance{}, a)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusSucceeded, resp.Status, "nothing queued succeeds")

	assert.Equal(t, []string{"a", "a", "a"}, f.Calls())
}

func TestScriptedFacilitator_CopiesOutcomes(t *testing.T) {
	outcomes := map[string][]Outcome{"a": {{Status: ir.StatusFailed}}}
	f := NewScriptedFacilitator(outcomes)

	_, err := f.Execute(context.Background(), ir.Ambiance{}, ir.PlanNode{UUID: "a"})
	require.NoError(t, err)
	assert.Len(t, outcomes["a"], 1)
}

func TestScriptedFacilitator_Approval(t *testing.T) {
	f := NewScriptedFacilitator(nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		inputs map[string]any
		want   ir.Status
	}{
		{"approved", map[string]any{"env": "staging"}, ir.StatusSucceeded},
		{"rejected", map[string]any{"env": "prod"}, ir.StatusFailed},
		{"undecided", map[string]any{"env": "qa"}, ir.StatusInterventionWaiting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.Execute(ctx, ir.Ambiance{}, approvalNode(tt.inputs))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)
			if tt.want == ir.StatusFailed {
				assert.Equal(t, []ir.FailureType{ir.FailureApprovalRejection}, resp.FailureInfo.Types)
			}
		})
	}
}

func TestScriptedFacilitator_ApprovalCriticalError(t *testing.T) {
	f := NewScriptedFacilitator(nil)

	_, err := f.Execute(context.Background(), ir.Ambiance{}, approvalNode(map[string]any{"env": 3}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval gate")
	assert.Contains(t, err.Error(), "not a string")
}

func TestOutcomesFromPlan(t *testing.T) {
	p := ir.Plan{Nodes: []ir.PlanNode{
		{UUID: "a", StepParameters: map[string]any{"outcomes": []any{"FAILED", "SUCCEEDED"}}},
		{UUID: "b"},
	}}

	out, err := OutcomesFromPlan(p)
	require.NoError(t, err)
	assert.Equal(t, map[string][]Outcome{
		"a": {{Status: ir.StatusFailed}, {Status: ir.StatusSucceeded}},
	}, out)

	p.Nodes[1].StepParameters = map[string]any{"outcomes": "FAILED"}
	_, err = OutcomesFromPlan(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node b: outcomes must be a list")

	p.Nodes[1].StepParameters = map[string]any{"outcomes": []any{"MAYBE"}}
	_, err = OutcomesFromPlan(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `node b: outcomes[0]: unknown status "MAYBE"`)
}
