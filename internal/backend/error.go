package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrNotFound          = errors.New("backend not found in registry")
	ErrAlreadyRegistered = errors.New("backend is already registered in the registry")
	ErrLoad              = errors.New("model artifact could not be loaded")
	ErrClosed            = errors.New("model handle is closed")
	ErrShapeMismatch     = errors.New("input tensor shape does not match the model")
)
