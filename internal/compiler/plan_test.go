package compiler

import (
	"encoding/json"
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/ir"
)

func compileCUE(t *testing.T, src, path string) (*ir.Plan, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src, cue.Filename("plan.cue"))
	require.NoError(t, v.Err())
	return CompilePlan(v.LookupPath(cue.ParsePath(path)))
}

func TestCompilePlan(t *testing.T) {
	p, err := compileCUE(t, `
		plan: deploy: {
			start: "build"
			nodes: {
				build: {
					name:      "Build image"
					step_type: "Http"
					step_parameters: url: "https://ci.example/build"
					advisers: [
						{type: "RETRY", parameters: {retry_count: 2, wait_interval_list: [1, 5], repair_action_code_after_retry: "END_EXECUTION"}},
						{type: "ON_SUCCESS", parameters: next_node_id: "approve"},
					]
				}
				approve: {
					step_type:   "Approval"
					facilitator: "TASK"
					advisers: [{type: "END_PLAN"}]
				}
			}
		}
	`, "plan.deploy")
	require.NoError(t, err)

	assert.Equal(t, "deploy", p.UUID)
	assert.Equal(t, "build", p.StartingNodeID)
	require.Len(t, p.Nodes, 2)

	build := p.Nodes[0]
	assert.Equal(t, "build", build.UUID)
	assert.Equal(t, "Build image", build.Name)
	assert.Equal(t, ir.StepType("Http"), build.StepType)
	assert.Equal(t, ir.FacilitatorSync, build.Facilitator.Type, "SYNC by default")
	assert.Equal(t, "https://ci.example/build", build.StepParameters["url"])
	require.Len(t, build.Advisers, 2)

	var rp advise.RetryParameters
	require.NoError(t, json.Unmarshal(build.Advisers[0].Parameters, &rp))
	assert.Equal(t, 2, rp.RetryCount)
	assert.Equal(t, []int{1, 5}, rp.WaitIntervalList)
	assert.Equal(t, ir.RepairEndExecution, rp.RepairActionCodeAfterRetry)

	approve := p.Nodes[1]
	assert.Equal(t, "approve", approve.Name, "name defaults to the id")
	assert.Equal(t, ir.FacilitatorTask, approve.Facilitator.Type)
	assert.Empty(t, approve.Advisers[0].Parameters)

	assert.NoError(t, p.Validate())
	assert.Empty(t, ValidatePlan(*p, advise.NewDefaultRegistry(nil)))
}

func TestCompilePlan_Errors(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		wantField string
	}{
		{
			name:      "missing start",
			src:       `plan: p: nodes: a: step_type: "Http"`,
			wantField: "start",
		},
		{
			name:      "missing nodes",
			src:       `plan: p: start: "a"`,
			wantField: "nodes",
		},
		{
			name:      "unknown start",
			src:       `plan: p: { start: "x", nodes: a: step_type: "Http" }`,
			wantField: "start",
		},
		{
			name:      "missing step type",
			src:       `plan: p: { start: "a", nodes: a: name: "A" }`,
			wantField: "step_type",
		},
		{
			name:      "unknown facilitator",
			src:       `plan: p: { start: "a", nodes: a: { step_type: "Http", facilitator: "LATER" } }`,
			wantField: "facilitator",
		},
		{
			name:      "adviser without type",
			src:       `plan: p: { start: "a", nodes: a: { step_type: "Http", advisers: [{parameters: {}}] } }`,
			wantField: "type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileCUE(t, tt.src, "plan.p")
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.wantField, ce.Field)
		})
	}
}

func TestCompilePlan_IncompleteParameters(t *testing.T) {
	_, err := compileCUE(t, `
		plan: p: {
			start: "a"
			nodes: a: {
				step_type: "Http"
				advisers: [{type: "RETRY", parameters: retry_count: int}]
			}
		}
	`, "plan.p")
	require.Error(t, err)
}

func TestCompileError_Error(t *testing.T) {
	err := &CompileError{Field: "start", Message: "start is required"}
	assert.Equal(t, "start: start is required", err.Error())
}

func TestFormatCUEError(t *testing.T) {
	assert.Nil(t, formatCUEError(nil))

	v := cuecontext.New().CompileString(`a: 1 & 2`, cue.Filename("bad.cue"))
	err := formatCUEError(v.Err())
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cue", ce.Field)
	assert.Equal(t, "bad.cue", ce.Pos.Filename())
}
