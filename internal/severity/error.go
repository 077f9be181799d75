package severity

import "errors"

// Error definitions for the severity package.
var (
	// ErrClassMismatch is returned when the model output length differs from the class table.
	ErrClassMismatch = errors.New("output does not match class table")

	// ErrInvalidOutput is returned when the model output contains NaN or infinite values.
	ErrInvalidOutput = errors.New("invalid model output")
)
