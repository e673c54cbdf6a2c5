package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/roach88/orchestra/internal/ir"
	"github.com/roach88/orchestra/internal/store"
)

// TraceNode is one attempt of a node, retired retries included.
type TraceNode struct {
	ID         string        `json:"id"`
	Node       string        `json:"node"`
	Attempt    int           `json:"attempt"`
	Status     ir.Status     `json:"status"`
	AdviseType ir.AdviseType `json:"advise_type,omitempty"`
	OldRetry   bool          `json:"old_retry"`
	RetryIDs   []string      `json:"retry_ids,omitempty"`
	Failure    string        `json:"failure,omitempty"`
	StartTs    *time.Time    `json:"start_ts,omitempty"`
	EndTs      *time.Time    `json:"end_ts,omitempty"`
}

// TraceSummary counts what a plan execution has run and what is still
// outstanding.
type TraceSummary struct {
	Live            int `json:"live"`
	Retried         int `json:"retried"`
	Pending         int `json:"pending"`
	Waiting         int `json:"waiting"`
	UnhandledAdvise int `json:"unhandled_advise"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	PlanExecutionID string       `json:"plan_execution_id"`
	Plan            string       `json:"plan"`
	Status          ir.Status    `json:"status"`
	Summary         TraceSummary `json:"summary"`
	Nodes           []TraceNode  `json:"nodes"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <plan-execution-id>",
		Short: "Show the node executions of a plan execution",
		Long: `Show every node execution of a plan execution in dispatch order,
including the retired attempts a retry replaced.

Examples:
  orchestra trace --db ./orchestra.db 0190a6f2-...
  orchestra trace --db ./orchestra.db 0190a6f2-... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runTrace(opts *RootOptions, planExecutionID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Errorf("open database: %w", err))
	}
	defer st.Close()

	result, err := loadTrace(ctx, st, planExecutionID)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("plan execution %s not found", planExecutionID))
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// loadTrace reads a plan execution and all of its node executions.
func loadTrace(ctx context.Context, st *store.Store, planExecutionID string) (TraceResult, error) {
	state, err := st.GetPlanState(ctx, planExecutionID)
	if err != nil {
		return TraceResult{}, err
	}

	result := TraceResult{
		PlanExecutionID: state.Plan.ID,
		Plan:            state.Plan.Plan.UUID,
		Status:          state.Plan.Status,
		Summary: TraceSummary{
			Live:            state.LiveCount,
			Retried:         state.RetryCount,
			Pending:         state.PendingCount,
			Waiting:         state.WaitingCount,
			UnhandledAdvise: state.UnhandledAdvise,
		},
		Nodes: make([]TraceNode, 0, len(state.NodeExecutions)),
	}
	for _, ne := range state.NodeExecutions {
		tn := TraceNode{
			ID:         ne.UUID,
			Node:       ne.NodeID(),
			Attempt:    ne.Attempt(),
			Status:     ne.Status,
			AdviseType: ne.AdviseType,
			OldRetry:   ne.OldRetry,
			RetryIDs:   ne.RetryIDs,
			StartTs:    ne.StartTs,
			EndTs:      ne.EndTs,
		}
		if ne.FailureInfo != nil {
			tn.Failure = ne.FailureInfo.Message
		}
		result.Nodes = append(result.Nodes, tn)
	}
	return result, nil
}

// traceStyles are bound to the output writer so colour is only emitted on
// a terminal.
type traceStyles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	node    lipgloss.Style
	muted   lipgloss.Style
	running lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	advise  lipgloss.Style
	skipped lipgloss.Style
}

func newTraceStyles(w io.Writer) traceStyles {
	r := lipgloss.NewRenderer(w)
	return traceStyles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		label:   r.NewStyle().Foreground(lipgloss.Color("241")).Width(10),
		node:    r.NewStyle().Width(20),
		muted:   r.NewStyle().Foreground(lipgloss.Color("241")),
		running: r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("42")),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		advise:  r.NewStyle().Foreground(lipgloss.Color("75")),
		skipped: r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// status returns the style for s.
func (s traceStyles) status(st ir.Status) lipgloss.Style {
	switch {
	case st == ir.StatusSucceeded:
		return s.success
	case st.IsBroken() || st == ir.StatusAborted:
		return s.failure
	case st == ir.StatusSkipped || st == ir.StatusIgnoreFailed:
		return s.skipped
	case st.IsFinal():
		return s.muted
	default:
		return s.running
	}
}

func writeTraceText(w io.Writer, result TraceResult, verbose bool) {
	s := newTraceStyles(w)

	fmt.Fprintln(w, s.title.Render("Plan execution "+result.PlanExecutionID))
	fmt.Fprintf(w, "%s%s\n", s.label.Render("Plan"), result.Plan)
	fmt.Fprintf(w, "%s%s\n", s.label.Render("Status"), s.status(result.Status).Render(string(result.Status)))
	sum := result.Summary
	counts := fmt.Sprintf("%d live, %d retried", sum.Live, sum.Retried)
	if sum.Pending > 0 {
		counts += fmt.Sprintf(", %d pending", sum.Pending)
	}
	if sum.Waiting > 0 {
		counts += fmt.Sprintf(", %d waiting", sum.Waiting)
	}
	if sum.UnhandledAdvise > 0 {
		counts += fmt.Sprintf(", %d unhandled advise", sum.UnhandledAdvise)
	}
	fmt.Fprintf(w, "%s%s\n\n", s.label.Render("Attempts"), counts)

	if len(result.Nodes) == 0 {
		fmt.Fprintln(w, s.muted.Render("  (no node executions)"))
		return
	}
	for _, n := range result.Nodes {
		line := fmt.Sprintf("  %s %s",
			s.node.Render(fmt.Sprintf("%s#%d", n.Node, n.Attempt)),
			s.status(n.Status).Render(string(n.Status)))
		if n.AdviseType != "" {
			line += " " + s.advise.Render("-> "+string(n.AdviseType))
		}
		if n.OldRetry {
			line += " " + s.muted.Render("(retried)")
		}
		fmt.Fprintln(w, line)
		if n.Failure != "" {
			fmt.Fprintf(w, "      %s\n", s.muted.Render(n.Failure))
		}
		if verbose {
			fmt.Fprintf(w, "      %s\n", s.muted.Render("id "+n.ID))
		}
	}
}

// commandContext returns the command's context, or a background context
// when the command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
