package detection

import (
	"fmt"

	"flofish/internal/models"
)

// CandidateMask marks the local maxima of a filtered volume. Besides the
// boolean volume it keeps the flat indices of the marked voxels in raster
// order, so thresholding costs O(candidates).
type CandidateMask struct {
	shape      models.Shape
	data       []bool
	candidates []int
}

// NewCandidateMask builds a mask from a boolean volume, e.g. one reloaded
// from disk. The data slice is copied.
func NewCandidateMask(shape models.Shape, data []bool) (*CandidateMask, error) {
	if shape.Depth <= 0 || shape.Height <= 0 || shape.Width <= 0 {
		return nil, fmt.Errorf("%w: mask dimensions must be positive, got %s", models.ErrShapeMismatch, shape)
	}
	if len(data) != shape.Len() {
		return nil, fmt.Errorf("%w: mask holds %d values, shape %s needs %d",
			models.ErrShapeMismatch, len(data), shape, shape.Len())
	}

	m := &CandidateMask{shape: shape, data: make([]bool, len(data))}
	copy(m.data, data)
	for idx, marked := range data {
		if marked {
			m.candidates = append(m.candidates, idx)
		}
	}
	return m, nil
}

// Shape returns the mask extent.
func (m *CandidateMask) Shape() models.Shape {
	return m.shape
}

// At reports whether (z, y, x) is a candidate.
func (m *CandidateMask) At(z, y, x int) bool {
	return m.data[m.shape.Index(z, y, x)]
}

// Count returns the number of candidates.
func (m *CandidateMask) Count() int {
	return len(m.candidates)
}

// Coords returns the candidate coordinates in raster order.
func (m *CandidateMask) Coords() []models.Coord {
	coords := make([]models.Coord, len(m.candidates))
	for i, idx := range m.candidates {
		coords[i] = m.shape.CoordOf(idx)
	}
	return coords
}

// Data returns a copy of the boolean volume.
func (m *CandidateMask) Data() []bool {
	out := make([]bool, len(m.data))
	copy(out, m.data)
	return out
}
