package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/retinascope/internal/config"
	"github.com/ekisa-team/retinascope/internal/preprocess"
)

func TestRegistry_SetGetDelete(t *testing.T) {
	r := NewRegistry()
	r.Set(NewModelInstance(config.ModelConfig{}, "a", "/m/a.onnx"))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "/m/a.onnx", got.Path)
	assert.Equal(t, ModelStatusUnloaded, got.Status())

	r.Delete("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry()
	r.Set(NewModelInstance(config.ModelConfig{Order: 2}, "b", ""))
	r.Set(NewModelInstance(config.ModelConfig{Order: 1}, "z", ""))
	r.Set(NewModelInstance(config.ModelConfig{Order: 2}, "a", ""))

	var ids []string
	for _, i := range r.List() {
		ids = append(ids, i.ID)
	}
	assert.Equal(t, []string{"z", "a", "b"}, ids)
}

func TestRegistry_DefaultAndResolve(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("")
	assert.False(t, ok)

	r.Set(NewModelInstance(config.ModelConfig{}, "a", ""))
	r.Set(NewModelInstance(config.ModelConfig{}, "b", ""))
	r.SetDefault("b")

	got, ok := r.Resolve("")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	got, ok = r.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	r.Delete("b")
	assert.Empty(t, r.DefaultID())
	_, ok = r.Default()
	assert.False(t, ok)
}

func TestModelInstance_StatusTransitions(t *testing.T) {
	mi := NewModelInstance(config.ModelConfig{}, "a", "")
	mi.SetStatus(ModelStatusLoading)
	assert.Equal(t, ModelStatusLoading, mi.Status())

	mi.SetError(assert.AnError)
	info := mi.Info()
	assert.Equal(t, ModelStatusFailed, info.Status)
	assert.Equal(t, assert.AnError.Error(), info.Error)
	assert.Nil(t, info.LoadedAt)

	mi.SetStatus(ModelStatusLoaded)
	info = mi.Info()
	assert.Empty(t, info.Error)
	assert.NotNil(t, info.LoadedAt)
}

func TestModelInstance_InputSpec(t *testing.T) {
	mc := config.ModelConfig{Input: config.InputConfig{
		Width:     299,
		Height:    299,
		Layout:    config.LayoutNCHW,
		MaxPixels: 4_000_000,
	}}

	spec := NewModelInstance(mc, "a", "").InputSpec()
	assert.Equal(t, preprocess.Spec{Width: 299, Height: 299, Layout: preprocess.NCHW, MaxPixels: 4_000_000}, spec)
	assert.Equal(t, []int64{1, 3, 299, 299}, spec.Shape())
}
