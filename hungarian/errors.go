package hungarian

import "errors"

var (
	// ErrEmpty indicates a cost matrix with zero rows or zero columns.
	ErrEmpty = errors.New("hungarian: cost matrix must have at least one row and one column")
	// ErrShape indicates more rows than columns; pad with a sentinel cost first.
	ErrShape = errors.New("hungarian: cost matrix must have rows <= columns")
	// ErrNotFinite indicates a NaN or infinite cost entry.
	ErrNotFinite = errors.New("hungarian: cost matrix entries must be finite")
)
