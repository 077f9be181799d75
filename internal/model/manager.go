package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"

	"github.com/ekisa-team/retinascope/internal/backend"
	"github.com/ekisa-team/retinascope/internal/config"
	"github.com/ekisa-team/retinascope/internal/config/source"
	"github.com/ekisa-team/retinascope/internal/envvar"
	"github.com/ekisa-team/retinascope/internal/xfs"
)

// DownloaderFactory returns the downloader for a source type.
type DownloaderFactory func(ctx context.Context, sourceType config.SourceType) (source.Downloader, error)

// Option configures a Manager.
type Option func(*Manager)

// WithDownloaderFactory replaces the default source.GetDownloader lookup.
func WithDownloaderFactory(f DownloaderFactory) Option {
	return func(m *Manager) {
		m.downloaders = f
	}
}

// Manager provisions configured models, opens their handles and keeps the
// registry that services read from.
type Manager struct {
	backends    *backend.Registry
	downloaders DownloaderFactory
	registry    *Registry
	loadMu      sync.Mutex
	mu          sync.RWMutex
}

// NewManager creates a new Manager that opens models with the given backends.
func NewManager(backends *backend.Registry, opts ...Option) *Manager {
	m := &Manager{
		backends:    backends,
		downloaders: source.GetDownloader,
		registry:    NewRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Registry returns the current model registry.
func (m *Manager) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.registry
}

// LoadModelsFromConfig provisions and opens every model assigned to the
// grading service, then swaps the new registry in.
//
// Models whose configuration did not change keep their open handle. A model
// that fails to load is registered as failed, unless an earlier version of it
// is loaded, in which case that version keeps serving. Models no longer
// configured are closed after the swap. All load failures are returned.
func (m *Manager) LoadModelsFromConfig(ctx context.Context, cfg *config.Config) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	modelsPath := resolveModelsPath(cfg)
	if err := source.EnsureModelsDirectory(modelsPath); err != nil {
		return fmt.Errorf("failed to prepare models directory %s: %w", modelsPath, err)
	}

	previous := m.Registry()
	next := NewRegistry()
	next.SetDefault(cfg.Services.Grading.Default)

	kept := make(map[*ModelInstance]bool)
	var errs []error

	for _, modelID := range cfg.Services.Grading.Models {
		if _, dup := next.Get(modelID); dup {
			continue
		}

		modelConfig, ok := cfg.Models[modelID]
		if !ok {
			err := fmt.Errorf("%w: %s is assigned to grading but not configured", ErrNotFound, modelID)
			slog.Warn("Model not found in config", "model_id", modelID)
			errs = append(errs, err)
			continue
		}

		old, hadOld := previous.Get(modelID)
		if hadOld && old.Status() == ModelStatusLoaded && reflect.DeepEqual(old.Config, modelConfig) {
			next.Set(old)
			kept[old] = true
			slog.Debug("Model unchanged, keeping loaded handle", "model_id", modelID)
			continue
		}

		instance, err := m.load(ctx, modelID, modelConfig, modelsPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load model %s: %w", modelID, err))

			if hadOld && old.Status() == ModelStatusLoaded {
				slog.Warn("Keeping previous version of model", "model_id", modelID, "error", err)
				next.Set(old)
				kept[old] = true
				continue
			}

			instance.SetError(err)
		}

		next.Set(instance)
	}

	if _, ok := next.Default(); !ok && cfg.Services.Grading.Default != "" {
		slog.Warn("Default model is not assigned to grading", "model_id", cfg.Services.Grading.Default)
	}

	m.mu.Lock()
	m.registry = next
	m.mu.Unlock()

	for _, instance := range previous.List() {
		if kept[instance] {
			continue
		}
		if err := instance.close(); err != nil {
			slog.Warn("Failed to close model", "model_id", instance.ID, "error", err)
		} else {
			slog.Info("Model unloaded successfully", "model_id", instance.ID)
		}
	}

	return errors.Join(errs...)
}

// load provisions the artifact and opens it. The returned instance is never
// nil so failures can be recorded on it.
func (m *Manager) load(ctx context.Context, modelID string, modelConfig config.ModelConfig, modelsPath string) (*ModelInstance, error) {
	instance := NewModelInstance(modelConfig, modelID, "")
	instance.SetStatus(ModelStatusLoading)

	modelSource, err := modelConfig.GetSource()
	if err != nil {
		return instance, fmt.Errorf("failed to get model source: %w", err)
	}

	downloader, err := m.downloaders(ctx, modelSource.Type())
	if err != nil {
		return instance, fmt.Errorf("failed to get downloader: %w", err)
	}

	downloadPath, cached, err := downloader.Download(ctx, &modelConfig, modelsPath)
	if err != nil {
		return instance, fmt.Errorf("failed to download model into %s: %w", modelsPath, err)
	}
	instance.Path = downloadPath

	b, ok := m.backends.Get(backend.BackendProvider(modelConfig.Backend))
	if !ok {
		return instance, fmt.Errorf("%w: %s", backend.ErrNotFound, modelConfig.Backend)
	}

	handle, err := b.Open(ctx, &backend.OpenRequest{
		Options:    modelConfig.Options,
		ModelPath:  downloadPath,
		InputName:  modelConfig.Input.InputName,
		OutputName: modelConfig.Input.OutputName,
		InputShape: instance.InputSpec().Shape(),
	})
	if err != nil {
		return instance, err
	}

	instance.attach(handle)
	slog.Info("Model loaded into registry", "model_id", modelID, "path", downloadPath, "cached", cached, "backend", modelConfig.Backend)

	return instance, nil
}

// Close releases every loaded model.
func (m *Manager) Close() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	var errs []error
	for _, instance := range m.Registry().List() {
		if err := instance.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close model %s: %w", instance.ID, err))
		}
	}

	return errors.Join(errs...)
}

// resolveModelsPath returns the path to the models directory.
// Precedence:
// 1. RETINASCOPE_MODELS_PATH environment variable.
// 2. ModelsDir field in the config.
// 3. Default models path.
func resolveModelsPath(cfg *config.Config) string {
	if p := os.Getenv(envvar.RetinascopeModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(config.DefaultModelsPath())
}
