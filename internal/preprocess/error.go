package preprocess

import "errors"

// Error definitions for the preprocess package.
var (
	// ErrDecode is returned when the uploaded bytes are not a supported image.
	ErrDecode = errors.New("invalid image")

	// ErrTooLarge is returned when an image declares more pixels than allowed.
	ErrTooLarge = errors.New("image too large")

	// ErrInvalidSpec is returned for a non-positive target size or unknown layout.
	ErrInvalidSpec = errors.New("invalid preprocessing spec")
)
