package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ekisa-team/retinascope/internal/backend"
)

// Handle is a loaded ONNX session with preallocated input and output tensors.
// Runs are serialized because the tensors are shared between calls.
type Handle struct {
	owner        *Backend
	model        string
	inputName    string
	outputName   string
	inputShape   []int64
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
	closed       bool
}

// InputShape returns the shape every request tensor must have.
func (h *Handle) InputShape() []int64 {
	return append([]int64(nil), h.inputShape...)
}

// Infer copies the request into the input tensor and runs the session.
func (h *Handle) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	if err := backend.CheckRequest(req, h.inputShape); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copy(h.inputTensor.GetData(), req.Input)

	start := time.Now()
	if err := h.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	elapsed := time.Since(start)

	output := append([]float32(nil), h.outputTensor.GetData()...)

	return &backend.Response{
		Output: output,
		Metadata: &backend.ResponseMetadata{
			Provider:        BackendName,
			Model:           h.model,
			Timestamp:       time.Now(),
			DurationSeconds: elapsed.Seconds(),
			BackendSpecific: map[string]any{
				"input_name":  h.inputName,
				"output_name": h.outputName,
			},
		},
	}, nil
}

// Close destroys the session and its tensors.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.session != nil {
		errs = append(errs, h.session.Destroy())
	}
	if h.inputTensor != nil {
		errs = append(errs, h.inputTensor.Destroy())
	}
	if h.outputTensor != nil {
		errs = append(errs, h.outputTensor.Destroy())
	}

	if h.owner != nil {
		h.owner.forget(h)
	}

	return errors.Join(errs...)
}
