package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadStudyFile reads a study definition and returns it as JSON bytes, ready
// for schema validation and decoding. YAML is a superset of JSON, so both
// formats go through the same decoder.
func LoadStudyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read study file: %w", err)
	}
	return StudyDocumentToJSON(raw)
}

// StudyDocumentToJSON converts a YAML or JSON document to canonical JSON.
func StudyDocumentToJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("study file is empty")
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse study file: %w", err)
	}

	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("study file must contain a mapping at the top level, got %T", doc)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert study file to JSON: %w", err)
	}
	return out, nil
}
