package model

import (
	"sync"
	"time"

	"github.com/ekisa-team/retinascope/internal/backend"
	"github.com/ekisa-team/retinascope/internal/config"
	"github.com/ekisa-team/retinascope/internal/preprocess"
)

// ModelType is the type of a model.
type ModelType string

const (
	// ModelTypeVision is the type of an image classification model.
	ModelTypeVision ModelType = "vision"
)

// ModelStatus is the current loading status of a model.
type ModelStatus string

const (
	// ModelStatusUnloaded indicates that the model is not loaded.
	ModelStatusUnloaded ModelStatus = "unloaded"

	// ModelStatusLoading indicates that the model is being loaded.
	ModelStatusLoading ModelStatus = "loading"

	// ModelStatusLoaded indicates that the model is loaded.
	ModelStatusLoaded ModelStatus = "loaded"

	// ModelStatusFailed indicates that the model failed to load.
	ModelStatusFailed ModelStatus = "failed"
)

// ModelInstance is a configured model and, once loaded, its inference handle.
type ModelInstance struct {
	ID     string
	Config config.ModelConfig
	Path   string

	mu       sync.RWMutex
	status   ModelStatus
	err      string
	loadedAt *time.Time
	handle   backend.Handle
}

// Info is a point-in-time view of a model instance.
type Info struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Backend  string      `json:"backend"`
	Status   ModelStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
	LoadedAt *time.Time  `json:"loaded_at,omitempty"`
	Classes  []string    `json:"classes"`
	Input    []int64     `json:"input_shape"`
	Tags     []string    `json:"tags,omitempty"`
	Default  bool        `json:"default"`
}

// NewModelInstance creates a new model instance.
func NewModelInstance(cfg config.ModelConfig, id, path string) *ModelInstance {
	return &ModelInstance{
		ID:     id,
		Path:   path,
		Config: cfg,
		status: ModelStatusUnloaded,
	}
}

// SetStatus sets the status of the model instance.
func (mi *ModelInstance) SetStatus(status ModelStatus) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.status = status
	if status == ModelStatusLoaded {
		now := time.Now()
		mi.loadedAt = &now
		mi.err = ""
	}
}

// SetError marks the instance as failed with err.
func (mi *ModelInstance) SetError(err error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.status = ModelStatusFailed
	mi.err = err.Error()
}

// Status returns the current status.
func (mi *ModelInstance) Status() ModelStatus {
	mi.mu.RLock()
	defer mi.mu.RUnlock()

	return mi.status
}

// Handle returns the inference handle, or ErrNotReady when the model is not loaded.
func (mi *ModelInstance) Handle() (backend.Handle, error) {
	mi.mu.RLock()
	defer mi.mu.RUnlock()

	if mi.status != ModelStatusLoaded || mi.handle == nil {
		return nil, ErrNotReady
	}
	return mi.handle, nil
}

// attach stores a freshly opened handle and marks the instance as loaded.
func (mi *ModelInstance) attach(h backend.Handle) {
	mi.mu.Lock()
	mi.handle = h
	mi.mu.Unlock()

	mi.SetStatus(ModelStatusLoaded)
}

// close releases the handle, if any.
func (mi *ModelInstance) close() error {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	h := mi.handle
	mi.handle = nil
	mi.status = ModelStatusUnloaded
	if h == nil {
		return nil
	}
	return h.Close()
}

// InputSpec returns the preprocessing spec of the model input.
func (mi *ModelInstance) InputSpec() preprocess.Spec {
	return preprocess.Spec{
		Width:  mi.Config.Input.Width,
		Height: mi.Config.Input.Height,
		Layout: preprocess.Layout(mi.Config.Input.Layout),

		MaxPixels: mi.Config.Input.MaxPixels,
	}
}

// Classes returns the output labels in index order.
func (mi *ModelInstance) Classes() []string {
	return mi.Config.Classes
}

// Info returns a snapshot of the instance.
func (mi *ModelInstance) Info() Info {
	mi.mu.RLock()
	defer mi.mu.RUnlock()

	return Info{
		ID:       mi.ID,
		Type:     mi.Config.Type,
		Backend:  mi.Config.Backend,
		Status:   mi.status,
		Error:    mi.err,
		LoadedAt: mi.loadedAt,
		Classes:  append([]string(nil), mi.Config.Classes...),
		Input:    mi.InputSpec().Shape(),
		Tags:     mi.Config.Tags,
	}
}
