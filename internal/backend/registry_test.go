package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock types ---

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Provider() BackendProvider {
	args := m.Called()
	return args.Get(0).(BackendProvider)
}

func (m *MockBackend) Open(ctx context.Context, req *OpenRequest) (Handle, error) {
	args := m.Called(ctx, req)
	if h, ok := args.Get(0).(Handle); ok {
		return h, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Tests ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	mockBackend := new(MockBackend)
	mockBackend.On("Provider").Return(BackendProviderONNXRuntime)

	require.NoError(t, reg.Register(mockBackend))

	got, ok := reg.Get(BackendProviderONNXRuntime)
	assert.True(t, ok)
	assert.Equal(t, mockBackend, got)

	// Ensure a missing backend returns false
	_, ok = reg.Get("tensorrt")
	assert.False(t, ok)

	mockBackend.AssertExpectations(t)
}

func TestRegistry_RegisterTwice(t *testing.T) {
	reg := NewRegistry()

	b1 := new(MockBackend)
	b2 := new(MockBackend)
	b1.On("Provider").Return(BackendProviderONNXRuntime)
	b2.On("Provider").Return(BackendProviderONNXRuntime)

	require.NoError(t, reg.Register(b1))
	assert.ErrorIs(t, reg.Register(b2), ErrAlreadyRegistered)

	got, _ := reg.Get(BackendProviderONNXRuntime)
	assert.Same(t, b1, got)
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()

	b1 := new(MockBackend)
	b2 := new(MockBackend)
	b1.On("Provider").Return(BackendProvider("b1"))
	b2.On("Provider").Return(BackendProvider("b2"))

	// Normal close
	b1.On("Close").Return(nil).Once()
	b2.On("Close").Return(nil).Once()

	require.NoError(t, reg.Register(b1))
	require.NoError(t, reg.Register(b2))

	err := reg.Close()
	assert.NoError(t, err)

	b1.AssertExpectations(t)
	b2.AssertExpectations(t)
}

func TestRegistry_CloseErrorPropagation(t *testing.T) {
	reg := NewRegistry()

	b1 := new(MockBackend)
	b2 := new(MockBackend)

	b1.On("Provider").Return(BackendProvider("b1"))
	b2.On("Provider").Return(BackendProvider("b2"))

	b1.On("Close").Return(errors.New("close failed")).Once()
	b2.On("Close").Return(nil).Once()

	require.NoError(t, reg.Register(b1))
	require.NoError(t, reg.Register(b2))

	err := reg.Close()
	assert.EqualError(t, err, "close failed")

	b1.AssertExpectations(t)
	b2.AssertExpectations(t)
}

func TestCheckRequest(t *testing.T) {
	shape := []int64{1, 2, 2, 3}

	assert.NoError(t, CheckRequest(&Request{Input: make([]float32, 12), Shape: []int64{1, 2, 2, 3}}, shape))
	assert.ErrorIs(t, CheckRequest(&Request{Input: make([]float32, 12), Shape: []int64{1, 3, 2, 2}}, shape), ErrShapeMismatch)
	assert.ErrorIs(t, CheckRequest(&Request{Input: make([]float32, 11), Shape: shape}, shape), ErrShapeMismatch)
	assert.Equal(t, 150528, Elements([]int64{1, 224, 224, 3}))
	assert.Zero(t, Elements(nil))
}
