package service

import (
	"context"
	"fmt"

	"github.com/ekisa-team/retinascope/internal/backend"
	"github.com/ekisa-team/retinascope/internal/mapsafe"
	"github.com/ekisa-team/retinascope/internal/model"
	"github.com/ekisa-team/retinascope/internal/preprocess"
	"github.com/ekisa-team/retinascope/internal/severity"
)

// RegistryProvider returns the current model registry. *model.Manager implements it.
type RegistryProvider interface {
	Registry() *model.Registry
}

// Grading is a service abstraction for retinopathy grading.
type Grading struct {
	models RegistryProvider
}

// Result is the outcome of grading one image.
type Result struct {
	ModelID    string
	Prediction severity.Prediction
	Labels     []string
	Metadata   *backend.ResponseMetadata
}

// NewGrading creates a new grading service.
func NewGrading(models RegistryProvider) *Grading {
	return &Grading{models: models}
}

// Grade classifies image with the model modelID, or the default model when
// modelID is empty.
func (s *Grading) Grade(ctx context.Context, modelID string, image []byte) (*Result, error) {
	m, ok := s.models.Registry().Resolve(modelID)
	if !ok {
		if modelID == "" {
			return nil, fmt.Errorf("%w: no default model", model.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, modelID)
	}

	handle, err := m.Handle()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.ID, err)
	}

	tensor, err := preprocess.Normalize(image, m.InputSpec())
	if err != nil {
		return nil, err
	}

	resp, err := handle.Infer(ctx, &backend.Request{Input: tensor.Data, Shape: tensor.Shape})
	if err != nil {
		return nil, fmt.Errorf("inference with %s failed: %w", m.ID, err)
	}

	probs := resp.Output
	if mapsafe.Get(m.Config.Options, "softmax", false) {
		probs = severity.Softmax(probs)
	}

	prediction, err := severity.FromProbabilities(probs, m.Classes())
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.ID, err)
	}

	return &Result{
		ModelID:    m.ID,
		Prediction: prediction,
		Labels:     m.Classes(),
		Metadata:   resp.Metadata,
	}, nil
}

// Models returns a snapshot of every configured model.
func (s *Grading) Models() []model.Info {
	reg := s.models.Registry()
	defaultID := reg.DefaultID()

	instances := reg.List()
	infos := make([]model.Info, 0, len(instances))
	for _, m := range instances {
		info := m.Info()
		info.Default = m.ID == defaultID
		infos = append(infos, info)
	}

	return infos
}

// Classes returns the class table of modelID, or of the default model when
// modelID is empty.
func (s *Grading) Classes(modelID string) ([]severity.Class, error) {
	m, ok := s.models.Registry().Resolve(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrNotFound, modelID)
	}
	return severity.Table(m.Classes()), nil
}

// Ready reports whether the default model can serve requests.
func (s *Grading) Ready() bool {
	m, ok := s.models.Registry().Default()
	return ok && m.Status() == model.ModelStatusLoaded
}
