package models

import "errors"

// Error kinds shared by every processing stage. Stages wrap them with
// fmt.Errorf("%w: ...") so callers can match with errors.Is.
var (
	// ErrInvalidParameter marks a non-positive scale, radius or voxel size,
	// or a threshold that is not a number.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrShapeMismatch marks volumes, masks or spot coordinates whose
	// dimensions or bounds do not agree.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrOutOfBoundsCoordinate marks a spot that projects outside a cell mask.
	ErrOutOfBoundsCoordinate = errors.New("coordinate out of bounds")
)
