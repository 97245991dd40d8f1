// Package loader reads process definition files in JSON or YAML format and
// turns them into validated model.Process values ready for deployment.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the serialization format of a process definition file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat determines the parse format from the file extension.
// .yaml and .yml parse as YAML, everything else as JSON.
func DetectFormat(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return FormatYAML
	}
	return FormatJSON
}

// yamlToJSON converts raw YAML bytes to JSON bytes. Parsing always goes
// through JSON so both formats hit the same struct tags and number handling.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}
