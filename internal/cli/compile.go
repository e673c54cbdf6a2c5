package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/compiler"
	"github.com/roach88/orchestra/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Plan   string // plan name within a CUE source
	Output string // output file path
}

// CompilationResult is a compiled plan with its routing warnings.
type CompilationResult struct {
	Plan     *ir.Plan                `json:"plan"`
	PlanHash string                  `json:"plan_hash"`
	Warnings []compiler.CycleWarning `json:"warnings"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <plan>",
		Short: "Compile and validate a plan",
		Long: `Compile a CUE or YAML plan to its canonical form.

The plan is checked for unknown advisers, invalid adviser parameters and
routes to nodes that do not exist. Routing loops are reported as warnings.

Examples:
  orchestra compile ./plans
  orchestra compile ./plans --plan deploy -o deploy.json
  orchestra compile ./deploy.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Plan, "plan", "", "plan name when the source declares several")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the canonical plan JSON to this file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := LoadPlan(path, opts.Plan)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), err)
	}
	formatter.VerboseLog("Loaded plan %s with %d node(s)", p.UUID, len(p.Nodes))

	if errs := compiler.ValidatePlan(*p, advise.NewDefaultRegistry(slog.Default())); len(errs) > 0 {
		outputValidationErrors(formatter, p.UUID, errs)
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	hash, err := ir.PlanHash(*p)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err)
	}
	result := CompilationResult{Plan: p, PlanHash: hash, Warnings: compiler.AnalyzeCycles(*p)}

	if opts.Output != "" {
		if err := writePlanToFile(p, opts.Output); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeWriteFailed, err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled plan %s: %d node(s), starting at %s\n\n", p.UUID, len(p.Nodes), p.StartingNodeID)
	for _, n := range p.Nodes {
		fmt.Fprintf(w, "  %s (%s, %s): %d adviser(s)\n", n.UUID, n.StepType, n.Facilitator.Type, len(n.Advisers))
	}
	outputWarnings(formatter, result.Warnings)
	if opts.Output != "" {
		fmt.Fprintf(w, "\nWrote canonical plan to %s\n", opts.Output)
	}
	return nil
}

// writePlanToFile writes the plan in canonical JSON, the form hashed into
// plan executions.
func writePlanToFile(p *ir.Plan, filename string) error {
	data, err := ir.MarshalCanonical(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return nil
}

func outputWarnings(formatter *OutputFormatter, warnings []compiler.CycleWarning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(formatter.Writer)
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "⚠ %s\n", w.Message)
	}
}
