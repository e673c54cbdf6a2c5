package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/orchestra/internal/engine"
	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// AbortResult is the output of the abort command.
type AbortResult struct {
	PlanExecutionID string    `json:"plan_execution_id"`
	Status          ir.Status `json:"status"`
}

// NewAbortCommand creates the abort command.
func NewAbortCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort <plan-execution-id>",
		Short: "Abort a running plan execution",
		Long: `Abort a running plan execution.

Unfinished node executions are marked ABORTED, pending waits are
cancelled, and queued or delayed retries are dropped when they come up.

Example:
  orchestra abort --db ./orchestra.db 0190a6f2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAbort(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runAbort(opts *RootOptions, planExecutionID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Errorf("open database: %w", err))
	}
	defer st.Close()

	// Abort never dispatches a step, so no facilitator is needed.
	eng := engine.New(st, nil)
	if err := eng.Abort(commandContext(cmd), planExecutionID); err != nil {
		var re *engine.RuntimeError
		switch {
		case errors.Is(err, store.ErrNotFound):
			return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("plan execution %s not found", planExecutionID))
		case errors.As(err, &re):
			return formatter.fail(ExitFailure, ErrCodeEngine, err)
		default:
			return formatter.fail(ExitCommandError, ErrCodeDatabase, err)
		}
	}

	result := AbortResult{PlanExecutionID: planExecutionID, Status: ir.StatusAborted}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Aborted plan execution %s\n", planExecutionID)
	return nil
}
