package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	processengine "github.com/plusxp/process-engine-core"
	"github.com/plusxp/process-engine-core/engine"
	"github.com/plusxp/process-engine-core/expression"
	"github.com/plusxp/process-engine-core/loader"
	"github.com/plusxp/process-engine-core/model"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a process definition to completion",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("input", "i", "", "Initial payload as inline JSON")
	cmd.Flags().StringP("input-file", "f", "", "Initial payload from a JSON file")
	cmd.Flags().String("start-event", "", "Start event id (required when the model has several start events)")
	cmd.Flags().String("end-event", "", "Await this specific end event; reaching only others is an error")
	cmd.Flags().String("correlation-id", "", "Correlation id for the instance (default: generated)")
	cmd.Flags().String("store-path", "", "SQLite database for the instance log (default: in-memory)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().String("format", "json", "Output format: json | text")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	process, err := loadProcessForRun(cmd, args[0])
	if err != nil {
		return err
	}

	payload, err := buildPayload(cmd)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := eng.Deploy(process); err != nil {
		return exitError(exitValidation, "deploying process: %v", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	startEventID, _ := cmd.Flags().GetString("start-event")
	correlationID, _ := cmd.Flags().GetString("correlation-id")
	endEventID, _ := cmd.Flags().GetString("end-event")

	req := engine.StartRequest{
		ProcessModelID: process.ID,
		StartEventID:   startEventID,
		CorrelationID:  correlationID,
		Payload:        payload,
	}

	var result *engine.EndResult
	if endEventID != "" {
		result, err = eng.Execute.StartAndAwaitSpecificEndEvent(ctx, req, endEventID)
	} else {
		result, err = eng.StartAndAwaitEndEvent(ctx, req)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return exitError(exitTimeout, "execution timed out after %s", timeout)
		}
		return exitError(exitRuntime, "execution failed: %v", err)
	}

	return writeEndResult(cmd, result)
}

func loadProcessForRun(cmd *cobra.Command, filePath string) (*model.Process, error) {
	evaluator := expression.NewExprEvaluator()
	process, err := loader.LoadProcessWithValidator(filePath, evaluator.Validate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			printDiagnosticsText(cmd.ErrOrStderr(), diagErr.Diagnostics)
			return nil, exitError(exitValidation, "validation failed")
		}
		return nil, exitError(exitValidation, "%v", err)
	}
	return process, nil
}

// buildEngine assembles an engine for the run and resume commands.
func buildEngine(cmd *cobra.Command) (*processengine.Engine, error) {
	storePath, _ := cmd.Flags().GetString("store-path")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	eng, err := processengine.New(processengine.Config{
		StorePath: storePath,
		Logger:    logger,
	})
	if err != nil {
		return nil, exitError(exitRuntime, "assembling engine: %v", err)
	}
	return eng, nil
}

// buildPayload creates the initial payload from --input or --input-file.
func buildPayload(cmd *cobra.Command) (any, error) {
	inputStr, _ := cmd.Flags().GetString("input")
	inputFile, _ := cmd.Flags().GetString("input-file")

	if inputStr != "" && inputFile != "" {
		return nil, exitError(exitInputParse, "cannot specify both --input and --input-file")
	}
	if inputStr == "" && inputFile == "" {
		return nil, nil
	}

	data := []byte(inputStr)
	if inputFile != "" {
		var err error
		data, err = os.ReadFile(inputFile) // #nosec G304 -- path from user CLI flag
		if err != nil {
			return nil, exitError(exitFileNotFound, "reading input file: %v", err)
		}
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, exitError(exitInputParse, "parsing input JSON: %v", err)
	}
	return payload, nil
}

// writeEndResult formats and writes the final state of the instance.
func writeEndResult(cmd *cobra.Command, result *engine.EndResult) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"processInstanceId": result.ProcessInstanceID,
			"correlationId":     result.CorrelationID,
			"endEventId":        result.EndEventID,
			"payload":           result.Payload,
			"terminated":        result.Terminated,
		})
	case "text":
		fmt.Fprintf(out, "Process instance: %s\n", result.ProcessInstanceID)
		fmt.Fprintf(out, "End event: %s\n", result.EndEventID)
		if result.Terminated {
			fmt.Fprintln(out, "Terminated: true")
		}
		fmt.Fprintf(out, "Payload: %v\n", result.Payload)
		return nil
	default:
		return exitError(exitInputParse, "unknown format %q (use json or text)", format)
	}
}
