package config

import (
	"errors"
	"fmt"
	"time"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"

	// SourceTypeURL represents a single artifact served over HTTP(S).
	SourceTypeURL SourceType = "url"
)

// TensorLayout is the memory layout of the model input tensor.
type TensorLayout string

const (
	// LayoutNHWC is batch, height, width, channels (Keras/TensorFlow exports).
	LayoutNHWC TensorLayout = "nhwc"

	// LayoutNCHW is batch, channels, height, width (PyTorch exports).
	LayoutNCHW TensorLayout = "nchw"
)

// Config holds the main configuration for the application.
type Config struct {
	Version  string                 `json:"version"            yaml:"version"`
	Storage  StorageConfig          `json:"storage,omitempty"  yaml:"storage,omitempty"`
	Server   ServerConfig           `json:"server,omitempty"   yaml:"server,omitempty"`
	Backends BackendsConfig         `json:"backends,omitempty" yaml:"backends,omitempty"`
	Models   map[string]ModelConfig `json:"models"             yaml:"models"`
	Services ServicesConfig         `json:"services"           yaml:"services"`
}

// StorageConfig holds configuration for the model cache and stored uploads.
type StorageConfig struct {
	ModelsDir  string `json:"models_dir,omitempty"  yaml:"models_dir,omitempty"`
	UploadsDir string `json:"uploads_dir,omitempty" yaml:"uploads_dir,omitempty"`
}

// ServerConfig holds the listener settings. Changes require a restart.
type ServerConfig struct {
	HTTPPort       int    `json:"http_port,omitempty"        yaml:"http_port,omitempty"`
	GRPCPort       int    `json:"grpc_port,omitempty"        yaml:"grpc_port,omitempty"`
	MaxUploadBytes int64  `json:"max_upload_bytes,omitempty" yaml:"max_upload_bytes,omitempty"`
	ReadTimeout    string `json:"read_timeout,omitempty"     yaml:"read_timeout,omitempty"`
	WriteTimeout   string `json:"write_timeout,omitempty"    yaml:"write_timeout,omitempty"`
}

// BackendsConfig holds per-backend settings.
type BackendsConfig struct {
	ONNXRuntime ONNXRuntimeConfig `json:"onnxruntime,omitempty" yaml:"onnxruntime,omitempty"`
}

// ONNXRuntimeConfig holds settings for the onnxruntime backend.
type ONNXRuntimeConfig struct {
	LibraryPath string `json:"library_path,omitempty" yaml:"library_path,omitempty"`
}

// ModelConfig holds configuration for a specific model.
type ModelConfig struct {
	Source  SourceConfig   `json:"source"            yaml:"source"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	Type    string         `json:"type"              yaml:"type"`
	Backend string         `json:"backend"           yaml:"backend"`
	Input   InputConfig    `json:"input,omitempty"   yaml:"input,omitempty"`
	Tags    []string       `json:"tags"              yaml:"tags"`
	Classes []string       `json:"classes,omitempty" yaml:"classes,omitempty"`
	Order   int            `json:"order"             yaml:"order"`
}

// InputConfig describes the tensor a model expects.
type InputConfig struct {
	Width      int          `json:"width,omitempty"       yaml:"width,omitempty"`
	Height     int          `json:"height,omitempty"      yaml:"height,omitempty"`
	Layout     TensorLayout `json:"layout,omitempty"      yaml:"layout,omitempty"`
	InputName  string       `json:"input_name,omitempty"  yaml:"input_name,omitempty"`
	OutputName string       `json:"output_name,omitempty" yaml:"output_name,omitempty"`
	MaxPixels  int          `json:"max_pixels,omitempty"  yaml:"max_pixels,omitempty"` // Decoded image size limit; 0 uses the built-in default
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
	URL         *URLSource         `json:"url,omitempty"         yaml:"url,omitempty"`
}

// ServicesConfig holds configuration for all services.
type ServicesConfig struct {
	Grading ServicesConfigAssignment `json:"grading" yaml:"grading"`
}

// ServicesConfigAssignment holds model assignments for a service.
type ServicesConfigAssignment struct {
	Models  []string `json:"models"            yaml:"models"` // List of model IDs
	Default string   `json:"default,omitempty" yaml:"default,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// URLSource is a single artifact fetched with an HTTP GET and cached under Filename.
type URLSource struct {
	URL        string `json:"url"                   yaml:"url"`
	Filename   string `json:"filename"              yaml:"filename"`
	SHA256     string `json:"sha256,omitempty"      yaml:"sha256,omitempty"`
	Timeout    string `json:"timeout,omitempty"     yaml:"timeout,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Type returns the URL source type.
func (u URLSource) Type() SourceType {
	return SourceTypeURL
}

// GetSource returns the active source for the model.
func (m *ModelConfig) GetSource() (ModelSource, error) {
	if m.Source.HuggingFace != nil && m.Source.URL != nil {
		return nil, errors.New("more than one source configured for model")
	}
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}
	if m.Source.URL != nil {
		return *m.Source.URL, nil
	}

	return nil, errors.New("no source configured for model")
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
	m.Source.URL = nil
}

// SetURLSource sets the URL source.
func (m *ModelConfig) SetURLSource(source URLSource) {
	m.Source.URL = &source
	m.Source.HuggingFace = nil
}

// ParseDuration parses a duration field, returning fallback when the field is empty.
func ParseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}
