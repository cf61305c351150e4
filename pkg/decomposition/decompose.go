// Package decomposition resolves dense regions of a detected spot set, where
// several emitters overlap and detection reports fewer spots than are present.
//
// A reference spot is built from isolated detections and modelled by a
// Backend. Connected regions brighter than beta times the reference peak are
// handed to the backend, which places emitters inside them. Spots outside
// such regions pass through unchanged; the output never holds fewer spots
// than the input.
package decomposition

import (
	"fmt"
	"math"

	"flofish/internal/models"
	"flofish/pkg/detection"
	"flofish/pkg/filter"
)

// Spot is one decomposed spot. Cell carries the input spot's assignment for
// pass-through spots and detection.Unassigned for spots placed in a region.
type Spot struct {
	models.Coord
	Cell detection.CellAssignment
}

// Region describes one dense region that was decomposed.
type Region struct {
	// Centroid is the rounded mean position of the region voxels
	Centroid models.Coord

	// Voxels is the number of voxels in the region
	Voxels int

	// IntensitySum is the summed denoised intensity over the region
	IntensitySum float64

	// InputSpots is the number of detected spots that fell in the region
	InputSpots int

	// NumSpots is the number of spots placed in the region
	NumSpots int
}

// Result holds the decomposed spot list and the intermediate products.
type Result struct {
	Spots     []Spot
	Regions   []Region
	Reference *models.Volume
	Profile   Profile
}

// Coords returns the spot positions in output order.
func (r *Result) Coords() []models.Coord {
	out := make([]models.Coord, len(r.Spots))
	for i, s := range r.Spots {
		out[i] = s.Coord
	}
	return out
}

// AssignCells returns a copy of the result spots with assignments taken from
// mask. A nil mask returns an unchanged copy.
func (r *Result) AssignCells(mask *models.CellMask) ([]Spot, error) {
	out := make([]Spot, len(r.Spots))
	copy(out, r.Spots)
	if mask == nil {
		return out, nil
	}
	labels, inCell, err := detection.AssociateCells(mask, r.Coords())
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Cell = detection.CellAssignment{Label: labels[i], InCell: inCell[i]}
	}
	return out, nil
}

// Decompose splits dense regions of spots in volume into individual spots.
// A nil backend selects NewGaussianBackend. Every spot must lie inside the
// volume.
func Decompose(volume *models.Volume, spots detection.SpotTable, params Params, backend Backend) (*Result, error) {
	if err := volume.Validate(); err != nil {
		return nil, err
	}
	radiusPx, err := params.Validate()
	if err != nil {
		return nil, err
	}
	shape := volume.Shape()
	if err := spots.CheckBounds(shape); err != nil {
		return nil, err
	}
	if backend == nil {
		backend = NewGaussianBackend()
	}

	half := referenceHalfSize(radiusPx)
	if len(spots) == 0 {
		return &Result{
			Spots:     []Spot{},
			Regions:   []Region{},
			Reference: buildReference(volume, nil, half, params.Alpha),
		}, nil
	}

	denoised := volume
	if params.Gamma > 0 {
		denoised, err = filter.SubtractBackground(volume, radiusPx.Scale(params.Gamma))
		if err != nil {
			return nil, fmt.Errorf("denoising before decomposition: %w", err)
		}
	}

	coords := spots.Coords()
	isolated := isolatedSpots(coords, radiusPx)
	centers := make([]models.Coord, 0, len(coords))
	if len(isolated) == 0 {
		centers = append(centers, coords...)
	} else {
		for _, i := range isolated {
			centers = append(centers, coords[i])
		}
	}

	reference := buildReference(denoised, centers, half, params.Alpha)
	profile, err := backend.FitProfile(reference, radiusPx)
	if err != nil {
		return nil, err
	}

	result := &Result{Spots: []Spot{}, Regions: []Region{}, Reference: reference, Profile: profile}

	_, peak := reference.MinMax()
	threshold := params.Beta * peak
	var components [][]int
	if threshold > 0 {
		components = denseComponents(denoised, threshold)
	}

	// voxel index -> component, only for voxels in some component
	owner := make(map[int]int)
	for k, comp := range components {
		for _, i := range comp {
			owner[i] = k
		}
	}
	members := make([][]int, len(components))
	inRegion := make([]bool, len(spots))
	for i, c := range coords {
		if k, ok := owner[shape.Index(c.Z, c.Y, c.X)]; ok {
			members[k] = append(members[k], i)
			inRegion[i] = true
		}
	}

	// decomposed spots start unassigned; AssignCells re-derives the labels
	for i, s := range spots {
		if !inRegion[i] {
			result.Spots = append(result.Spots, Spot{Coord: s.Coord, Cell: detection.Unassigned})
		}
	}

	mz := int(math.Ceil(3 * profile.SigmaZ))
	myx := int(math.Ceil(3 * profile.SigmaYX))
	for k, comp := range components {
		if len(members[k]) == 0 {
			continue
		}
		box := boundsOf(shape, comp).grow(shape, mz, myx)
		patch := extractPatch(denoised, box, comp, profile.Background)

		var placed []models.Coord
		for _, c := range backend.Decompose(patch, profile) {
			if shape.Contains(c) {
				placed = append(placed, c)
			}
		}
		// never fewer spots than were detected in the region
		for _, i := range members[k][min(len(placed), len(members[k])):] {
			placed = append(placed, coords[i])
		}

		for _, c := range placed {
			result.Spots = append(result.Spots, Spot{Coord: c, Cell: detection.Unassigned})
		}
		result.Regions = append(result.Regions, describeRegion(denoised, comp, len(members[k]), len(placed)))
	}
	return result, nil
}

func describeRegion(v *models.Volume, voxels []int, inputs, placed int) Region {
	shape := v.Shape()
	var sz, sy, sx, sum float64
	for _, i := range voxels {
		c := shape.CoordOf(i)
		sz += float64(c.Z)
		sy += float64(c.Y)
		sx += float64(c.X)
		sum += v.Data[i]
	}
	n := float64(len(voxels))
	return Region{
		Centroid: models.Coord{
			Z: int(math.Round(sz / n)),
			Y: int(math.Round(sy / n)),
			X: int(math.Round(sx / n)),
		},
		Voxels:       len(voxels),
		IntensitySum: sum,
		InputSpots:   inputs,
		NumSpots:     placed,
	}
}
