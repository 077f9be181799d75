package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaPath = "../../configs/retinascope.v1.schema.json"

const validConfig = `
version: "1"
storage:
  models_dir: /tmp/retinascope/models
models:
  dr-model:
    source:
      url:
        url: https://example.com/dr_model.onnx
        filename: dr_model.onnx
    options:
      intra_op_threads: 2
services:
  grading:
    models: [dr-model]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAndValidate_AppliesDefaults(t *testing.T) {
	cfg, err := LoadAndValidate(writeConfig(t, validConfig), schemaPath)
	require.NoError(t, err)

	m, ok := cfg.Models["dr-model"]
	require.True(t, ok)

	assert.Equal(t, "onnxruntime", m.Backend)
	assert.Equal(t, "vision", m.Type)
	assert.Equal(t, 224, m.Input.Width)
	assert.Equal(t, 224, m.Input.Height)
	assert.Equal(t, LayoutNHWC, m.Input.Layout)
	assert.Equal(t, []string{"No_DR", "Mild", "Moderate", "Severe", "Proliferate_DR"}, m.Classes)
	assert.Equal(t, 2, m.Options["intra_op_threads"])

	assert.Equal(t, "dr-model", cfg.Services.Grading.Default)
	assert.Equal(t, "uploads", cfg.Storage.UploadsDir)
	assert.Equal(t, int64(16<<20), cfg.Server.MaxUploadBytes)

	src, err := m.GetSource()
	require.NoError(t, err)
	assert.Equal(t, SourceTypeURL, src.Type())
}

func TestLoadAndValidate_ShippedConfig(t *testing.T) {
	cfg, err := LoadAndValidate("../../configs/config.yaml", schemaPath)
	require.NoError(t, err)

	assert.Equal(t, "dr-model", cfg.Services.Grading.Default)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)

	for id, m := range cfg.Models {
		require.NotNil(t, m.Source.URL, id)
		exts, ok := artifactExtensions[m.Backend]
		require.True(t, ok, "model %s backend %s", id, m.Backend)
		assert.Contains(t, exts, strings.ToLower(filepath.Ext(m.Source.URL.Filename)), id)
	}
}

func TestLoadAndValidate_NumericConstraints(t *testing.T) {
	content := strings.Replace(validConfig, "intra_op_threads: 2", "intra_op_threads: 4", 1)
	content = strings.Replace(content, "services:", `    input:
      width: 299
      height: 299
      max_pixels: 50000000
services:`, 1)

	cfg, err := LoadAndValidate(writeConfig(t, content), schemaPath)
	require.NoError(t, err)

	m := cfg.Models["dr-model"]
	assert.Equal(t, 299, m.Input.Width)
	assert.Equal(t, 50_000_000, m.Input.MaxPixels)
	assert.Equal(t, 4, m.Options["intra_op_threads"])
}

func TestLoadAndValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "invalid yaml",
			content: "version: [",
		},
		{
			name: "missing services",
			content: `
version: "1"
models:
  dr-model:
    source:
      url: {url: "https://example.com/m.onnx", filename: m.onnx}
`,
		},
		{
			name: "unknown backend",
			content: `
version: "1"
models:
  dr-model:
    backend: tensorflow
    source:
      url: {url: "https://example.com/m.onnx", filename: m.onnx}
services:
  grading:
    models: [dr-model]
`,
		},
		{
			name: "two sources",
			content: `
version: "1"
models:
  dr-model:
    source:
      url: {url: "https://example.com/m.onnx", filename: m.onnx}
      huggingface: {repo: "acme/dr"}
services:
  grading:
    models: [dr-model]
`,
		},
		{
			name: "filename with separator",
			content: `
version: "1"
models:
  dr-model:
    source:
      url: {url: "https://example.com/m.onnx", filename: ../m.onnx}
services:
  grading:
    models: [dr-model]
`,
		},
		{
			name: "bad layout",
			content: `
version: "1"
models:
  dr-model:
    input: {layout: chwn}
    source:
      url: {url: "https://example.com/m.onnx", filename: m.onnx}
services:
  grading:
    models: [dr-model]
`,
		},
		{
			name: "negative threads",
			content: strings.Replace(validConfig, "intra_op_threads: 2", "intra_op_threads: -1", 1),
		},
		{
			name: "fractional width",
			content: `
version: "1"
models:
  dr-model:
    input: {width: 224.5}
    source:
      url: {url: "https://example.com/m.onnx", filename: m.onnx}
services:
  grading:
    models: [dr-model]
`,
		},
		{
			name: "keras artifact for onnxruntime",
			content: `
version: "1"
models:
  dr-model:
    backend: onnxruntime
    source:
      url: {url: "https://example.com/dr_model.h5", filename: dr_model.onnx.h5}
services:
  grading:
    models: [dr-model]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadAndValidate(writeConfig(t, tt.content), schemaPath)
			assert.Error(t, err)
		})
	}
}

func TestLoadAndValidate_MissingFile(t *testing.T) {
	_, err := LoadAndValidate(filepath.Join(t.TempDir(), "nope.yaml"), schemaPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestModelConfig_GetSource(t *testing.T) {
	var m ModelConfig

	_, err := m.GetSource()
	assert.Error(t, err)

	m.SetHuggingFaceSource(HuggingFaceSource{Repo: "acme/dr-onnx"})
	src, err := m.GetSource()
	require.NoError(t, err)
	assert.Equal(t, SourceTypeHuggingFace, src.Type())

	m.SetURLSource(URLSource{URL: "https://example.com/m.onnx", Filename: "m.onnx"})
	src, err = m.GetSource()
	require.NoError(t, err)
	assert.Equal(t, SourceTypeURL, src.Type())
	assert.Nil(t, m.Source.HuggingFace)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, d)

	d, err = ParseDuration("90s", 0)
	require.NoError(t, err)
	assert.Equal(t, "1m30s", d.String())

	_, err = ParseDuration("soon", 0)
	assert.Error(t, err)
}
