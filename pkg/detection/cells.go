package detection

import (
	"fmt"

	"flofish/internal/models"
)

// AssociateCells looks up the cell label under the (y, x) projection of every
// coordinate; z is ignored because the segmentation is 2D. The outputs align
// 1:1 with coords. A coordinate outside the mask is an
// ErrOutOfBoundsCoordinate: nothing is clamped or wrapped.
func AssociateCells(mask *models.CellMask, coords []models.Coord) ([]int, []bool, error) {
	if mask == nil {
		return nil, nil, fmt.Errorf("%w: nil cell mask", models.ErrInvalidParameter)
	}
	if err := mask.Validate(); err != nil {
		return nil, nil, err
	}

	labels := make([]int, len(coords))
	inCell := make([]bool, len(coords))
	for i, c := range coords {
		if !mask.Contains(c.Y, c.X) {
			return nil, nil, fmt.Errorf("%w: spot %d at (y=%d, x=%d) outside %dx%d cell mask",
				models.ErrOutOfBoundsCoordinate, i, c.Y, c.X, mask.Height, mask.Width)
		}
		a := AssignmentFor(mask.At(c.Y, c.X))
		labels[i] = a.Label
		inCell[i] = a.InCell
	}
	return labels, inCell, nil
}

// WithCells returns a copy of the table with cell assignments taken from
// mask. A nil mask returns an unchanged copy.
func (t SpotTable) WithCells(mask *models.CellMask) (SpotTable, error) {
	out := t.Clone()
	if mask == nil {
		return out, nil
	}

	labels, inCell, err := AssociateCells(mask, t.Coords())
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Cell = CellAssignment{Label: labels[i], InCell: inCell[i]}
	}
	return out, nil
}
