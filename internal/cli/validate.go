package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hookledger/internal/compiler"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Strict bool // treat unused tables as errors
}

// ValidationResult holds the result of validation.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Writers  []WriterSummary            `json:"writers,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.ValidationError `json:"warnings,omitempty"`
}

// WriterSummary describes one declared writer.
type WriterSummary struct {
	Name        string `json:"name"`
	Table       string `json:"table"`
	RequestType string `json:"request_type"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config-dir>",
		Short: "Validate writer configuration",
		Long: `Validate the CUE writer configuration in a directory.

Checks the documents against the configuration schema, then checks that
every writer references declared status tables and enum domains and that
its definition is accepted. All errors are reported, not just the first.

Tables no writer uses are warnings unless --strict is set.

Examples:
  hookledger validate ./config
  hookledger validate ./config --strict
  hookledger validate ./config --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat unused status tables and enum domains as errors")

	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	loaded, loadErrs := LoadConfig(dir)
	if loaded != nil {
		formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)
	}
	if len(loadErrs) > 0 {
		var schemaErrs []compiler.ValidationError
		for _, err := range loadErrs {
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				return outputValidateError(formatter, ErrCodeGeneric, err.Error())
			}
			if loadErr.Code != ErrCodeSchema && loadErr.Code != ErrCodeNoWriters {
				return outputValidateError(formatter, loadErr.Code, loadErr.Message)
			}
			schemaErrs = append(schemaErrs, compiler.ValidationError{
				Field:   loadErr.Field,
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    loadErr.Line(),
			})
		}
		return outputValidationErrors(formatter, ValidationResult{Errors: schemaErrs})
	}

	result := ValidationResult{Valid: true}
	for _, w := range loaded.Config.Writers {
		formatter.VerboseLog("Validating writer: %s", w.Name)
		result.Writers = append(result.Writers, WriterSummary{Name: w.Name, Table: w.Table, RequestType: w.RequestType})
	}
	for _, ve := range compiler.Validate(loaded.Config) {
		if ve.Code == compiler.ErrUnusedTable && !opts.Strict {
			result.Warnings = append(result.Warnings, ve)
			continue
		}
		result.Errors = append(result.Errors, ve)
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		result.Writers = nil
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	for _, w := range result.Warnings {
		formatter.Printf("warning %s\n", w.Error())
	}
	formatter.Printf("✓ Configuration valid (%d writer(s))\n", len(result.Writers))
	return nil
}

// outputValidateError outputs a single load error and maps it to a
// command error exit code.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		_ = formatter.Error("E_VALIDATION", fmt.Sprintf("%d validation error(s)", len(result.Errors)), result.Errors)
	} else {
		formatter.Printf("✗ Validation failed:\n")
		for _, e := range result.Errors {
			formatter.Printf("  %s\n", e.Error())
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
