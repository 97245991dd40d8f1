package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/plusxp/process-engine-core/engine"
)

// NewResumeCmd creates the "resume" subcommand.
func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [process-instance-id]",
		Short: "Resume interrupted process instances from the instance log",
		Long: "Resume replays running and suspended flow node instances from the " +
			"SQLite instance log. Without an argument every interrupted instance " +
			"is resumed; with one, only the named instance.",
		Args: cobra.MaximumNArgs(1),
		RunE: runResume,
	}

	cmd.Flags().String("store-path", "", "SQLite database for the instance log (required)")
	cmd.Flags().StringArrayP("model", "m", nil, "Process definition file to deploy before resuming (repeatable)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().String("format", "json", "Output format: json | text")

	_ = cmd.MarkFlagRequired("store-path")

	return cmd
}

func runResume(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	// The instance log stores ids, not definitions; the models an interrupted
	// instance needs must be deployed again before resuming.
	modelPaths, _ := cmd.Flags().GetStringArray("model")
	for _, path := range modelPaths {
		process, err := loadProcessForRun(cmd, path)
		if err != nil {
			return err
		}
		if err := eng.Deploy(process); err != nil {
			return exitError(exitValidation, "deploying process %s: %v", path, err)
		}
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var results []*engine.EndResult
	if len(args) == 1 {
		result, err := eng.Resume.ResumeProcessInstanceByID(ctx, args[0])
		if err != nil {
			return resumeError(ctx, timeout, err)
		}
		results = append(results, result)
	} else {
		results, err = eng.ResumeInterrupted(ctx)
		if err != nil {
			return resumeError(ctx, timeout, err)
		}
	}

	return writeResumeResults(cmd, results)
}

func resumeError(ctx context.Context, timeout time.Duration, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return exitError(exitTimeout, "resume timed out after %s", timeout)
	}
	return exitError(exitRuntime, "resume failed: %v", err)
}

func writeResumeResults(cmd *cobra.Command, results []*engine.EndResult) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	if format == "text" {
		if len(results) == 0 {
			cmd.Println("No interrupted process instances found.")
			return nil
		}
		for _, r := range results {
			cmd.Printf("Resumed %s -> end event %s\n", r.ProcessInstanceID, r.EndEventID)
		}
		return nil
	}

	entries := make([]map[string]any, 0, len(results))
	for _, r := range results {
		entries = append(entries, map[string]any{
			"processInstanceId": r.ProcessInstanceID,
			"correlationId":     r.CorrelationID,
			"endEventId":        r.EndEventID,
			"payload":           r.Payload,
			"terminated":        r.Terminated,
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
