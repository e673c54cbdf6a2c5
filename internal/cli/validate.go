package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/orchestra/internal/advise"
	"github.com/roach88/orchestra/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Plan     string                     `json:"plan"`
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var planName string

	cmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Validate a plan without writing output",
		Long: `Validate a CUE or YAML plan and report every problem found.

Unlike compile, validation does not stop at the first invalid adviser.

Exit codes:
  0 - Plan is valid
  1 - Plan has validation errors
  2 - Plan could not be loaded`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], planName, cmd)
		},
	}

	cmd.Flags().StringVar(&planName, "plan", "", "plan name when the source declares several")

	return cmd
}

func runValidate(opts *RootOptions, path, planName string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := LoadPlan(path, planName)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), err)
	}

	errs := compiler.ValidatePlan(*p, advise.NewDefaultRegistry(slog.Default()))
	if len(errs) > 0 {
		outputValidationErrors(formatter, p.UUID, errs)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	warnings := compiler.AnalyzeCycles(*p)
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Plan: p.UUID, Valid: true, Warnings: warnings})
	}
	fmt.Fprintf(formatter.Writer, "✓ Plan %s is valid\n", p.UUID)
	outputWarnings(formatter, warnings)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, plan string, errs []compiler.ValidationError) {
	if formatter.JSON() {
		_ = formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Plan: plan, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: fmt.Sprintf("%d validation error(s)", len(errs)),
			},
		})
		return
	}

	fmt.Fprintf(formatter.Writer, "✗ Plan %s is invalid\n\n", plan)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
	}
}
