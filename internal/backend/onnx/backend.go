package onnx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ekisa-team/retinascope/internal/backend"
	"github.com/ekisa-team/retinascope/internal/mapsafe"
)

// BackendName is the provider identifier of the onnxruntime backend.
const BackendName = backend.BackendProviderONNXRuntime

// hdf5Signature is the first 8 bytes of every HDF5 file (Keras .h5 models).
var hdf5Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// Backend implements backend.Backend on top of the onnxruntime C library.
type Backend struct {
	libraryPath string
	initOnce    sync.Once
	initErr     error
	initialized bool

	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// NewBackend creates a new onnxruntime backend. The shared library is loaded
// lazily on the first Open; an empty libraryPath uses the platform default.
func NewBackend(libraryPath string) *Backend {
	return &Backend{
		libraryPath: libraryPath,
		handles:     make(map[*Handle]struct{}),
	}
}

// Provider returns the backend provider.
func (b *Backend) Provider() backend.BackendProvider {
	return BackendName
}

// initEnvironment loads the shared library and creates the onnxruntime environment once.
func (b *Backend) initEnvironment() error {
	b.initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if b.libraryPath != "" {
			ort.SetSharedLibraryPath(b.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			b.initErr = fmt.Errorf("failed to initialize onnxruntime environment: %w", err)
			return
		}
		b.initialized = true
		slog.Info("onnxruntime environment initialized", "library", b.libraryPath)
	})

	return b.initErr
}

// Open loads the model at req.ModelPath into a new session.
func (b *Backend) Open(ctx context.Context, req *backend.OpenRequest) (backend.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkArtifact(req.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrLoad, err)
	}

	if err := b.initEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrLoad, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(req.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read model graph: %w", backend.ErrLoad, err)
	}

	input, err := selectTensor(inputs, req.InputName, "input")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrLoad, err)
	}
	output, err := selectTensor(outputs, req.OutputName, "output")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrLoad, err)
	}

	if err := matchShape(input.Dimensions, req.InputShape); err != nil {
		return nil, fmt.Errorf("%w: input %q: %w", backend.ErrLoad, input.Name, err)
	}
	outputShape := resolveDynamic(output.Dimensions)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(req.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %w", backend.ErrLoad, err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create output tensor: %w", backend.ErrLoad, err)
	}

	options, err := sessionOptions(req.Options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: %w", backend.ErrLoad, err)
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(req.ModelPath,
		[]string{input.Name}, []string{output.Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create ONNX session: %w", backend.ErrLoad, err)
	}

	h := &Handle{
		owner:        b,
		model:        req.ModelPath,
		inputName:    input.Name,
		outputName:   output.Name,
		inputShape:   append([]int64(nil), req.InputShape...),
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}

	b.mu.Lock()
	b.handles[h] = struct{}{}
	b.mu.Unlock()

	slog.Info("ONNX model loaded",
		"path", req.ModelPath,
		"input", input.Name,
		"input_shape", req.InputShape,
		"output", output.Name,
		"output_shape", outputShape)

	return h, nil
}

// Close closes every open handle and tears down the onnxruntime environment.
func (b *Backend) Close() error {
	b.mu.Lock()
	handles := make([]*Handle, 0, len(b.handles))
	for h := range b.handles {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if b.initialized {
		if err := ort.DestroyEnvironment(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy onnxruntime environment: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (b *Backend) forget(h *Handle) {
	b.mu.Lock()
	delete(b.handles, h)
	b.mu.Unlock()
}

// sessionOptions builds onnxruntime session options from the model options.
func sessionOptions(opts map[string]any) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if n := mapsafe.Get(opts, "intra_op_threads", 0); n > 0 {
		if err := options.SetIntraOpNumThreads(n); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set intra_op_threads: %w", err)
		}
	}

	if n := mapsafe.Get(opts, "inter_op_threads", 0); n > 0 {
		if err := options.SetInterOpNumThreads(n); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set inter_op_threads: %w", err)
		}
	}

	return options, nil
}

// checkArtifact rejects files that can never be an ONNX model before the
// runtime gets to see them.
func checkArtifact(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, len(hdf5Signature))
	n, err := io.ReadFull(f, header)
	if n == 0 {
		return fmt.Errorf("artifact %s is empty", path)
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	if bytes.Equal(header[:n], hdf5Signature) {
		return fmt.Errorf("artifact %s is a Keras HDF5 model; export it to ONNX first", path)
	}

	return nil
}

func selectTensor(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model has no %s tensors", kind)
	}
	if name == "" {
		return infos[0], nil
	}

	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}

	return ort.InputOutputInfo{}, fmt.Errorf("model has no %s tensor named %q", kind, name)
}

// matchShape checks a requested shape against the declared one. Negative
// declared dimensions are dynamic and accept any size.
func matchShape(declared ort.Shape, requested []int64) error {
	if len(declared) != len(requested) {
		return fmt.Errorf("%w: model declares %v, requests use %v", backend.ErrShapeMismatch, declared, requested)
	}
	for i, d := range declared {
		if d > 0 && d != requested[i] {
			return fmt.Errorf("%w: model declares %v, requests use %v", backend.ErrShapeMismatch, declared, requested)
		}
	}
	return nil
}

// resolveDynamic replaces dynamic dimensions with 1 (batch size one).
func resolveDynamic(shape ort.Shape) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}
