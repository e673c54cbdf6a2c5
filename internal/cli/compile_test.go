package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchestra/internal/ir"
)

func TestCompile_CUEPlan(t *testing.T) {
	out, err := execute(t, NewCompileCommand(textOpts(t)), planDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled plan deploy: 4 node(s), starting at build")
	assert.Contains(t, out, "test (Shell, SYNC): 3 adviser(s)")
	assert.NotContains(t, out, "⚠")
}

func TestCompile_JSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand(jsonOpts(t)), planDir)
	require.NoError(t, err)

	var result CompilationResult
	decodeData(t, out, &result)
	require.NotNil(t, result.Plan)
	assert.Equal(t, "deploy", result.Plan.UUID)
	assert.NotEmpty(t, result.PlanHash)
	assert.Empty(t, result.Warnings)
}

func TestCompile_WritesCanonicalPlan(t *testing.T) {
	output := filepath.Join(t.TempDir(), "deploy.json")

	out, err := execute(t, NewCompileCommand(textOpts(t)), planDir, "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote canonical plan to "+output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var p ir.Plan
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "deploy", p.UUID)
	assert.Len(t, p.Nodes, 4)
}

func TestCompile_RoutingLoopWarns(t *testing.T) {
	path := writeFile(t, "loop.yaml", `
id: loop
start: a
nodes:
  - id: a
    step_type: Shell
    advisers:
      - type: ON_SUCCESS
        parameters: { next_node_id: b }
  - id: b
    step_type: Shell
    advisers:
      - type: ON_FAIL
        parameters: { next_node_id: a }
`)

	out, err := execute(t, NewCompileCommand(textOpts(t)), path)
	require.NoError(t, err)
	assert.Contains(t, out, "⚠")
}

func TestCompile_InvalidPlan(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
id: bad
start: a
nodes:
  - id: a
    step_type: Shell
    advisers:
      - type: ON_SUCCESS
        parameters: { next_node_id: nowhere }
`)

	out, err := execute(t, NewCompileCommand(textOpts(t)), path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Plan bad is invalid")
	assert.Contains(t, out, "[E103]")
	assert.Contains(t, out, `routes to unknown node "nowhere"`)
}

func TestCompile_MissingPath(t *testing.T) {
	out, err := execute(t, NewCompileCommand(jsonOpts(t)), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}
