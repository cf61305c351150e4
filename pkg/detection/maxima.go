package detection

import (
	"fmt"
	"math"

	"flofish/internal/models"
	"flofish/pkg/calibration"
)

// DetectLocalMaxima calibrates the object radius against the voxel size (nm)
// and runs LocalMaxima with the resulting pixel-space distance.
func DetectLocalMaxima(logVolume *models.Volume, voxelSize, objectRadius models.Triple) (*CandidateMask, error) {
	minDistance, err := calibration.ObjectRadiusPixel(voxelSize, objectRadius)
	if err != nil {
		return nil, err
	}
	return LocalMaxima(logVolume, minDistance)
}

// LocalMaxima marks the local maxima of a filtered volume.
//
// The neighborhood is a box of half-size ceil(minDistance) along each axis.
// A voxel is a candidate when its value is positive and equals the maximum
// of its neighborhood. Candidates are then visited in raster order (z, y, x)
// and a candidate is dropped if one already accepted lies inside its box,
// which resolves plateaus and equal-valued peaks to the first voxel scanned.
// Identical input therefore always yields the identical mask.
func LocalMaxima(logVolume *models.Volume, minDistance models.Triple) (*CandidateMask, error) {
	if err := logVolume.Validate(); err != nil {
		return nil, err
	}
	if !minDistance.Positive() {
		return nil, fmt.Errorf("%w: minimum distance must be positive on every axis, got %s",
			models.ErrInvalidParameter, minDistance)
	}

	shape := logVolume.Shape()
	half := [3]int{
		int(math.Ceil(minDistance.Z)),
		int(math.Ceil(minDistance.Y)),
		int(math.Ceil(minDistance.X)),
	}

	maxed := logVolume.Data
	for axis := 0; axis < 3; axis++ {
		maxed = maxFilter1D(maxed, shape, half[axis], axis)
	}

	accepted := make([]bool, shape.Len())
	for idx, val := range logVolume.Data {
		if math.IsNaN(val) || val <= 0 || val < maxed[idx] {
			continue
		}
		c := shape.CoordOf(idx)
		if acceptedNear(accepted, shape, c, half) {
			continue
		}
		accepted[idx] = true
	}

	return NewCandidateMask(shape, accepted)
}

// maxFilter1D replaces every sample by the maximum of the window of the given
// half-size along one axis. Windows are clipped at the volume boundary.
func maxFilter1D(src []float64, shape models.Shape, half, axis int) []float64 {
	dst := make([]float64, len(src))
	n := shape.Extent(axis)
	strides := [3]int{shape.Height * shape.Width, shape.Width, 1}
	stride := strides[axis]

	for idx := range src {
		c := shape.CoordOf(idx)
		pos := [3]int{c.Z, c.Y, c.X}[axis]
		base := idx - pos*stride

		lo, hi := pos-half, pos+half
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}

		best := math.Inf(-1)
		for j := lo; j <= hi; j++ {
			if v := src[base+j*stride]; v > best {
				best = v
			}
		}
		dst[idx] = best
	}
	return dst
}

// acceptedNear reports whether an accepted voxel lies within the box of
// half-size half around c.
func acceptedNear(accepted []bool, shape models.Shape, c models.Coord, half [3]int) bool {
	z0, z1 := clampRange(c.Z, half[0], shape.Depth)
	y0, y1 := clampRange(c.Y, half[1], shape.Height)
	x0, x1 := clampRange(c.X, half[2], shape.Width)

	for z := z0; z <= z1; z++ {
		for y := y0; y <= y1; y++ {
			row := shape.Index(z, y, 0)
			for x := x0; x <= x1; x++ {
				if accepted[row+x] {
					return true
				}
			}
		}
	}
	return false
}

func clampRange(center, half, n int) (int, int) {
	lo, hi := center-half, center+half
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}
