// Package cli implements the procengine command line interface: validating
// process definitions, running them to completion and resuming interrupted
// instances from a SQLite instance log.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plusxp/process-engine-core/expression"
	"github.com/plusxp/process-engine-core/loader"
	"github.com/plusxp/process-engine-core/model"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a process definition without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(filePath) // #nosec G304 -- path from user CLI arg
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}

	process, err := loader.DecodeProcess(data, loader.DetectFormat(filePath))
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	evaluator := expression.NewExprEvaluator()
	diags := process.ValidateWithEvaluator(evaluator.Validate)

	printDiagnostics(out, diags, format)

	hasWarns := false
	for _, d := range diags {
		if d.Severity == model.SeverityWarning {
			hasWarns = true
		}
	}
	if model.HasErrors(diags) || (strict && hasWarns) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

func printDiagnostics(w io.Writer, diags []model.Diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary. Used by both the validate and run commands.
func printDiagnosticsText(w io.Writer, diags []model.Diagnostic) {
	var errCount, warnCount int
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
		switch d.Severity {
		case model.SeverityError:
			errCount++
		case model.SeverityWarning:
			warnCount++
		}
	}

	switch {
	case errCount == 0 && warnCount == 0:
		fmt.Fprintln(w, "Valid!")
	case errCount == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", warnCount, pluralize("warning", warnCount))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			errCount, pluralize("error", errCount),
			warnCount, pluralize("warning", warnCount))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []model.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []model.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
