package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/plusxp/process-engine-core/model"
)

const jsonProcess = `{
	"id": "order-fulfillment",
	"nodes": [
		{"id": "start", "type": "startEvent"},
		{"id": "check", "type": "scriptTask", "expression": "current.amount > 10"},
		{"id": "done", "type": "endEvent"}
	],
	"flows": [
		{"source": "start", "target": "check"},
		{"source": "check", "target": "done"}
	]
}`

const yamlProcess = `id: order-fulfillment
nodes:
  - id: start
    type: startEvent
  - id: done
    type: endEvent
flows:
  - source: start
    target: done
`

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		path string
		want Format
	}{
		{"process.json", FormatJSON},
		{"process.yaml", FormatYAML},
		{"process.yml", FormatYAML},
		{"process.YAML", FormatYAML},
		{"process", FormatJSON},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.path); got != tc.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestParseProcessJSON(t *testing.T) {
	process, err := ParseProcess([]byte(jsonProcess), FormatJSON, nil)
	if err != nil {
		t.Fatalf("ParseProcess: %v", err)
	}
	if process.ID != "order-fulfillment" {
		t.Errorf("ID = %q, want %q", process.ID, "order-fulfillment")
	}
	if len(process.FlowNodes) != 3 {
		t.Errorf("len(FlowNodes) = %d, want 3", len(process.FlowNodes))
	}
	if process.FlowNodes[1].Type != model.NodeTypeScriptTask {
		t.Errorf("node type = %q, want scriptTask", process.FlowNodes[1].Type)
	}
}

func TestParseProcessYAML(t *testing.T) {
	process, err := ParseProcess([]byte(yamlProcess), FormatYAML, nil)
	if err != nil {
		t.Fatalf("ParseProcess: %v", err)
	}
	if len(process.SequenceFlows) != 1 {
		t.Fatalf("len(SequenceFlows) = %d, want 1", len(process.SequenceFlows))
	}
	if process.SequenceFlows[0].Target != "done" {
		t.Errorf("flow target = %q, want %q", process.SequenceFlows[0].Target, "done")
	}
}

func TestParseProcessMissingID(t *testing.T) {
	_, err := ParseProcess([]byte(`{"nodes": [], "flows": []}`), FormatJSON, nil)
	if err == nil {
		t.Fatal("expected error for process without id")
	}
}

func TestParseProcessValidationError(t *testing.T) {
	broken := `{
		"id": "broken",
		"nodes": [{"id": "start", "type": "startEvent"}],
		"flows": [{"source": "start", "target": "missing"}]
	}`
	_, err := ParseProcess([]byte(broken), FormatJSON, nil)
	var diagErr *DiagnosticError
	if !errors.As(err, &diagErr) {
		t.Fatalf("expected DiagnosticError, got %v", err)
	}
	if !model.HasErrors(diagErr.Diagnostics) {
		t.Error("DiagnosticError carries no error diagnostics")
	}
}

func TestParseProcessWithValidator(t *testing.T) {
	calls := 0
	v := func(expression string) error {
		calls++
		return nil
	}
	if _, err := ParseProcess([]byte(jsonProcess), FormatJSON, v); err != nil {
		t.Fatalf("ParseProcess: %v", err)
	}
	if calls != 1 {
		t.Errorf("validator calls = %d, want 1", calls)
	}
}

func TestLoadProcessFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "process.yaml")
	if err := os.WriteFile(path, []byte(yamlProcess), 0o600); err != nil {
		t.Fatal(err)
	}

	process, err := LoadProcess(path)
	if err != nil {
		t.Fatalf("LoadProcess: %v", err)
	}
	if process.ID != "order-fulfillment" {
		t.Errorf("ID = %q, want %q", process.ID, "order-fulfillment")
	}
}
