package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

// LoadAndValidate loads and validates the configuration.
func LoadAndValidate(path, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	// The validator expects JSON values, so the YAML document is re-read through
	// its JSON decoder (numbers become json.Number).
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: failed to convert YAML to JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: failed to decode JSON document: %w", err)
	}

	schema, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}

	ApplyDefaults(&config)

	if err := checkArtifactNames(&config); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &config, nil
}

// artifactExtensions lists the file extensions each backend can open.
var artifactExtensions = map[string][]string{
	"onnxruntime": {".onnx", ".ort"},
}

// checkArtifactNames rejects url sources whose cached filename the model's
// backend cannot open. A mislabelled file would be treated as cached and fail
// on every start.
func checkArtifactNames(cfg *Config) error {
	for id, m := range cfg.Models {
		if m.Source.URL == nil {
			continue
		}
		exts, ok := artifactExtensions[m.Backend]
		if !ok {
			continue
		}
		ext := strings.ToLower(filepath.Ext(m.Source.URL.Filename))
		if !slices.Contains(exts, ext) {
			return fmt.Errorf("model %q: backend %s cannot open %q (want one of %v)", id, m.Backend, m.Source.URL.Filename, exts)
		}
	}
	return nil
}
