package backend

import (
	"fmt"
	"slices"
)

// Elements returns the number of values a tensor of the given shape holds.
func Elements(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}

	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return int(n)
}

// CheckRequest verifies that req carries a tensor of the expected shape.
func CheckRequest(req *Request, want []int64) error {
	if !slices.Equal(req.Shape, want) {
		return fmt.Errorf("%w: expected %v, got %v", ErrShapeMismatch, want, req.Shape)
	}
	if len(req.Input) != Elements(want) {
		return fmt.Errorf("%w: expected %d values, got %d", ErrShapeMismatch, Elements(want), len(req.Input))
	}
	return nil
}
