// Package detection finds diffraction-limited spots in a LoG-filtered volume.
//
// Detection is split in two so that thresholding can be repeated cheaply:
// LocalMaxima scans every voxel once and returns a CandidateMask, and
// ThresholdSpots only walks the candidates recorded in that mask. Callers
// keep the filtered volume and the mask between calls; the package holds no
// state of its own.
package detection

import (
	"fmt"

	"flofish/internal/models"
)

// CellAssignment is the cell label of a spot together with the derived
// in-cell flag. The two values always travel together.
type CellAssignment struct {
	// Label is -1 when unassigned, 0 for background, >0 for a cell id
	Label int

	// InCell is false only for background (label 0)
	InCell bool
}

// Unassigned is the assignment of a spot no cell mask has been applied to.
var Unassigned = CellAssignment{Label: -1, InCell: true}

// AssignmentFor derives the in-cell flag for a label.
func AssignmentFor(label int) CellAssignment {
	return CellAssignment{Label: label, InCell: label != 0}
}

// Spot is one accepted local maximum.
type Spot struct {
	models.Coord

	// IntensityLoG is the filter response at the spot
	IntensityLoG float64

	Cell CellAssignment
}

// SpotTable is an ordered set of spots, in the order thresholding produced
// them (raster order of the candidates).
type SpotTable []Spot

// Coords returns the spot coordinates in table order.
func (t SpotTable) Coords() []models.Coord {
	coords := make([]models.Coord, len(t))
	for i, s := range t {
		coords[i] = s.Coord
	}
	return coords
}

// Clone returns a copy the caller can modify freely.
func (t SpotTable) Clone() SpotTable {
	out := make(SpotTable, len(t))
	copy(out, t)
	return out
}

// Intensities returns the LoG intensity column.
func (t SpotTable) Intensities() []float64 {
	values := make([]float64, len(t))
	for i, s := range t {
		values[i] = s.IntensityLoG
	}
	return values
}

// CheckBounds verifies every spot lies inside shape.
func (t SpotTable) CheckBounds(shape models.Shape) error {
	for i, s := range t {
		if !shape.Contains(s.Coord) {
			return fmt.Errorf("%w: spot %d at %+v lies outside volume %s",
				models.ErrShapeMismatch, i, s.Coord, shape)
		}
	}
	return nil
}

// CountsPerCell tallies spots by cell label. Spots with label -1 or 0 are
// counted under those keys as well.
func (t SpotTable) CountsPerCell() map[int]int {
	counts := make(map[int]int)
	for _, s := range t {
		counts[s.Cell.Label]++
	}
	return counts
}
