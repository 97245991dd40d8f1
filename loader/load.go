package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/plusxp/process-engine-core/model"
)

// LoadProcess reads a process definition file, detects its format from the
// extension, and returns the validated process.
func LoadProcess(path string) (*model.Process, error) {
	return LoadProcessWithValidator(path, nil)
}

// LoadProcessWithValidator is LoadProcess plus expression syntax checks on
// sequence flow conditions and script task expressions.
func LoadProcessWithValidator(path string, v model.ExprValidator) (*model.Process, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return ParseProcess(data, DetectFormat(path), v)
}

// ParseProcess parses raw bytes in the given format and validates the
// resulting process. Validation errors are returned as a DiagnosticError;
// warnings alone do not fail the load.
func ParseProcess(data []byte, format Format, v model.ExprValidator) (*model.Process, error) {
	process, err := DecodeProcess(data, format)
	if err != nil {
		return nil, err
	}

	var diags []model.Diagnostic
	if v != nil {
		diags = process.ValidateWithEvaluator(v)
	} else {
		diags = process.Validate()
	}
	if model.HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}

	return process, nil
}

// DecodeProcess unmarshals raw bytes into a process without validating it.
// Callers that want the full diagnostic list run Validate themselves.
func DecodeProcess(data []byte, format Format) (*model.Process, error) {
	jsonData := data
	if format == FormatYAML {
		var err error
		jsonData, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	}

	var process model.Process
	if err := json.Unmarshal(jsonData, &process); err != nil {
		return nil, fmt.Errorf("parsing process definition: %w", err)
	}
	if process.ID == "" {
		return nil, fmt.Errorf("process definition has no id")
	}
	return &process, nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []model.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := make([]model.Diagnostic, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		if d.Severity == model.SeverityError {
			errs = append(errs, d)
		}
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s: %s", errs[0].Code, errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s: %s)", len(errs), errs[0].Code, errs[0].Message)
}
