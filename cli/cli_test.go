package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validProcess = `id: approval
nodes:
  - id: start
    type: startEvent
  - id: compute
    type: scriptTask
    expression: "1 + 2"
  - id: done
    type: endEvent
flows:
  - source: start
    target: compute
  - source: compute
    target: done
`

const brokenProcess = `id: broken
nodes:
  - id: start
    type: startEvent
flows:
  - source: start
    target: missing
`

func writeTempProcess(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateCmdValidFile(t *testing.T) {
	path := writeTempProcess(t, "process.yaml", validProcess)

	cmd := NewValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "Valid!") {
		t.Errorf("output = %q, want it to contain %q", out.String(), "Valid!")
	}
}

func TestValidateCmdBrokenFile(t *testing.T) {
	path := writeTempProcess(t, "process.yaml", brokenProcess)

	cmd := NewValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != exitValidation {
		t.Errorf("exit code = %d, want %d", exitErr.Code, exitValidation)
	}
	if !strings.Contains(out.String(), "PM-001") {
		t.Errorf("output = %q, want it to contain PM-001", out.String())
	}
}

func TestValidateCmdMissingFile(t *testing.T) {
	cmd := NewValidateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/process.yaml"})

	err := cmd.Execute()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != exitFileNotFound {
		t.Errorf("exit code = %d, want %d", exitErr.Code, exitFileNotFound)
	}
}

func TestValidateCmdJSONFormat(t *testing.T) {
	path := writeTempProcess(t, "process.yaml", validProcess)

	cmd := NewValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path, "--format", "json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var diags []map[string]any
	if err := json.Unmarshal(out.Bytes(), &diags); err != nil {
		t.Fatalf("output is not a JSON array: %v\n%s", err, out.String())
	}
}

func TestRunCmdExecutesProcess(t *testing.T) {
	path := writeTempProcess(t, "process.yaml", validProcess)

	cmd := NewRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if result["endEventId"] != "done" {
		t.Errorf("endEventId = %v, want %q", result["endEventId"], "done")
	}
	if result["payload"] != float64(3) {
		t.Errorf("payload = %v, want 3", result["payload"])
	}
}

func TestRunCmdWithInlineInput(t *testing.T) {
	process := `id: passthrough
nodes:
  - id: start
    type: startEvent
  - id: done
    type: endEvent
flows:
  - source: start
    target: done
`
	path := writeTempProcess(t, "process.yaml", process)

	cmd := NewRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--input", `{"orderId": "o-7"}`})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	payload, ok := result["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload = %v, want a map", result["payload"])
	}
	if payload["orderId"] != "o-7" {
		t.Errorf("payload.orderId = %v, want %q", payload["orderId"], "o-7")
	}
}

func TestRunCmdConflictingInputFlags(t *testing.T) {
	path := writeTempProcess(t, "process.yaml", validProcess)

	cmd := NewRunCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--input", "{}", "--input-file", "input.json"})

	err := cmd.Execute()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != exitInputParse {
		t.Errorf("exit code = %d, want %d", exitErr.Code, exitInputParse)
	}
}
