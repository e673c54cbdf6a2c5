package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// planDir holds the shared plan fixtures at the module root.
const planDir = "../../testdata/plans"

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeFile writes content to name under a fresh temp dir and returns the
// path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// decodeData decodes the data of an ok JSON envelope into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func textOpts(t *testing.T) *RootOptions {
	return &RootOptions{Format: "text", Database: filepath.Join(t.TempDir(), "orchestra.db")}
}

func jsonOpts(t *testing.T) *RootOptions {
	return &RootOptions{Format: "json", Database: filepath.Join(t.TempDir(), "orchestra.db")}
}

const linearYAML = `
id: linear
start: a
nodes:
  - id: a
    step_type: Shell
    advisers:
      - type: ON_SUCCESS
        parameters: { next_node_id: b }
  - id: b
    step_type: Shell
`
