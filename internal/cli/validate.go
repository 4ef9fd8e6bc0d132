package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/agenda/internal/ir"
	"github.com/roach88/agenda/internal/rulebase"
)

// ValidationError is one rulebase problem with its source position.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Resolver string            `json:"resolver,omitempty"`
	Rules    []ir.Rule         `json:"rules,omitempty"`
	Groups   []string          `json:"groups,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rulebase>",
		Short: "Validate a CUE rulebase",
		Long: `Validate a CUE rulebase without running it.

The argument is a single .cue file or a directory holding one CUE package.
Checks CUE syntax, the rule and config schemas, and rule name uniqueness
after Unicode normalization.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	formatter.VerboseLog("Loading rulebase %s", path)
	rb, err := rulebase.Load(path)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	for _, r := range rb.Rules() {
		formatter.VerboseLog("rule %s: salience=%d group=%s auto_focus=%t",
			r.Name, r.Salience, groupLabel(r.AgendaGroup), r.AutoFocus)
	}

	result := ValidationResult{
		Valid:    true,
		Resolver: rb.Config().Resolver.String(),
		Rules:    rb.Rules(),
		Groups:   rb.Groups(),
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Rulebase valid: %d rule(s), %d group(s), resolver %s\n",
		len(result.Rules), len(result.Groups), result.Resolver)
	return nil
}

// outputLoadError reports a rulebase load failure. Missing paths are command
// errors (exit 2); anything wrong with the rulebase content is a validation
// failure (exit 1).
func outputLoadError(formatter *OutputFormatter, err error) error {
	switch {
	case errors.Is(err, rulebase.ErrNotFound):
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	case errors.Is(err, rulebase.ErrNoFiles):
		return formatter.Fail(ExitCommandError, ErrCodeNoFiles, err.Error(), nil)
	}

	verr := toValidationError(err)
	if formatter.Format == "json" {
		if encErr := formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: []ValidationError{verr}},
			Error:  &CLIError{Code: verr.Code, Message: verr.Message},
		}); encErr != nil {
			return encErr
		}
		return NewExitError(ExitFailure, "validation failed with 1 error(s)")
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	if verr.Line > 0 {
		fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", verr.File, verr.Line, verr.Column)
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", verr.Code, verr.Message)
	return NewExitError(ExitFailure, "validation failed with 1 error(s)")
}

// toValidationError flattens a load error into its reported form.
func toValidationError(err error) ValidationError {
	var cerr *rulebase.CompileError
	if !errors.As(err, &cerr) {
		return ValidationError{Message: err.Error(), Code: ErrCodeGeneric}
	}

	verr := ValidationError{
		Field:   cerr.Field,
		Message: cerr.Message,
		Code:    mapCompileErrorToCode(cerr),
	}
	if cerr.Pos.IsValid() {
		verr.File = cerr.Pos.Filename()
		verr.Line = cerr.Pos.Line()
		verr.Column = cerr.Pos.Column()
	}
	return verr
}

// mapCompileErrorToCode maps a compile error to its CLI error code.
func mapCompileErrorToCode(cerr *rulebase.CompileError) string {
	switch {
	case cerr.Field == "cue":
		return ErrCodeCUE
	case cerr.Field == "rule":
		return ErrCodeNoRules
	case strings.HasPrefix(cerr.Field, "config"):
		return ErrCodeConfigInvalid
	case strings.HasPrefix(cerr.Field, "rule") && strings.HasPrefix(cerr.Message, "duplicate rule name"):
		return ErrCodeRuleDuplicate
	case strings.HasPrefix(cerr.Field, "rule"):
		return ErrCodeRuleInvalid
	default:
		return ErrCodeGeneric
	}
}

func groupLabel(group string) string {
	if group == "" {
		return "(main)"
	}
	return group
}
