package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/compiler"
	"github.com/roach88/orchestra/internal/engine"
	"github.com/roach88/orchestra/internal/harness"
	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Plan         string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxSteps     int

	// IDGenerator overrides the node execution id generator (for testing).
	IDGenerator engine.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan with scripted step outcomes",
		Long: `Execute a plan to completion in this process.

Steps are answered by the scripted facilitator: a node's
step_parameters.outcomes lists the statuses of its successive attempts,
and attempts past the end of the list succeed. Approval steps decide
from their criteria. Delayed retries and intervention timeouts are
fired by the poller.

Exit codes:
  0 - Plan succeeded
  1 - Plan finished unsuccessfully or did not finish in time
  2 - Command error

Example:
  orchestra run --db ./orchestra.db ./plans --plan deploy --timeout 1m`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Plan, "plan", "", "plan name when the source declares several")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "give up when the plan has not finished after this long")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 200*time.Millisecond, "how often delayed work is polled")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "advisory cycles allowed per plan execution")

	return cmd
}

func runPlan(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := LoadPlan(path, opts.Plan)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), err)
	}
	if errs := compiler.ValidatePlan(*p, advise.NewDefaultRegistry(slog.Default())); len(errs) > 0 {
		outputValidationErrors(formatter, p.UUID, errs)
		return NewExitError(ExitCommandError, fmt.Sprintf("plan %s is invalid", p.UUID))
	}
	outcomes, err := harness.OutcomesFromPlan(*p)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNodes, err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Errorf("open database: %w", err))
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	engineOpts := []engine.EngineOption{engine.WithSyncDispatch(), engine.WithMaxSteps(opts.MaxSteps)}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	eng := engine.New(st, harness.NewScriptedFacilitator(outcomes), engineOpts...)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	pe, err := eng.Start(ctx, *p)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeEngine, fmt.Errorf("start plan: %w", err))
	}
	formatter.VerboseLog("Started plan execution %s", pe.ID)

	waitErr := awaitPlan(ctx, st, eng.Poller(opts.PollInterval), pe.ID, opts.PollInterval)

	// The trace is read with a fresh context so it is still shown after a
	// timeout.
	result, err := loadTrace(context.Background(), st, pe.ID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, err)
	}
	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		writeTraceText(formatter.Writer, result, opts.Verbose)
	}

	switch {
	case waitErr != nil:
		return WrapExitError(ExitFailure, fmt.Sprintf("plan execution %s did not finish", pe.ID), waitErr)
	case result.Status != ir.StatusSucceeded:
		return NewExitError(ExitFailure, fmt.Sprintf("plan execution %s finished %s", pe.ID, result.Status))
	}
	return nil
}

// ticker is the part of the poller awaitPlan drives.
type ticker interface {
	Tick(ctx context.Context) (int, error)
}

// awaitPlan polls until the plan execution reaches a final status or ctx
// ends.
func awaitPlan(ctx context.Context, st *store.Store, poller ticker, planExecutionID string, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		pe, err := st.GetPlanExecution(ctx, planExecutionID)
		if err != nil {
			return fmt.Errorf("read plan execution: %w", err)
		}
		if pe.Status.IsFinal() {
			return nil
		}
		if _, err := poller.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
