package matrix

import "errors"

var (
	// ErrSingular is returned when factorization finds no usable pivot or the solution is not finite.
	ErrSingular = errors.New("matrix: singular system")

	// ErrDimension is returned when operand sizes disagree.
	ErrDimension = errors.New("matrix: dimension mismatch")

	// ErrOutOfRange is returned for an index outside the matrix.
	ErrOutOfRange = errors.New("matrix: index out of range")
)
