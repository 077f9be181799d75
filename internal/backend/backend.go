package backend

import (
	"context"
	"time"
)

// BackendProvider is a string identifier for a backend provider.
type BackendProvider string

const (
	BackendProviderONNXRuntime BackendProvider = "onnxruntime"
)

// Backend defines the core interface for all inference backends.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() BackendProvider

	// Open loads a model artifact and returns a handle that serves inference.
	Open(ctx context.Context, req *OpenRequest) (Handle, error)

	// Close cleans up resources.
	Close() error
}

// Handle is a loaded model. It is created once and shared by all requests.
type Handle interface {
	// Infer executes inference and returns complete result.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// InputShape returns the shape every request tensor must have.
	InputShape() []int64

	// Close releases the model. Infer fails with ErrClosed afterwards.
	Close() error
}

// OpenRequest describes the model to load.
type OpenRequest struct {
	// Options contains backend-specific load options.
	Options map[string]any

	// ModelPath is the path to the model file.
	ModelPath string

	// InputName and OutputName select the graph tensors. Empty means the first one.
	InputName  string
	OutputName string

	// InputShape is the tensor shape requests will use, batch dimension included.
	InputShape []int64
}

// Request encapsulates all parameters for an inference call.
type Request struct {
	// Input is the flattened input tensor.
	Input []float32

	// Shape is the shape of Input.
	Shape []int64
}

// Response contains the result of an inference operation.
type Response struct {
	// Output is the flattened output tensor.
	Output []float32

	// Metadata contains backend-specific information.
	Metadata *ResponseMetadata
}

// ResponseMetadata contains metadata about the response.
type ResponseMetadata struct {
	Provider        BackendProvider `json:"provider"`
	Model           string          `json:"model"`
	Timestamp       time.Time       `json:"timestamp"`
	DurationSeconds float64         `json:"inference_time_seconds"`
	BackendSpecific map[string]any  `json:"backend_specific,omitempty"`
}
