// Package calibration converts physical spot and voxel dimensions into the
// pixel-space sigmas used by the LoG filter and the local maximum detector.
package calibration

import (
	"fmt"
	"math"

	"flofish/internal/models"
)

// SigmaPerRadius relates an object radius expressed in pixels to the sigma of
// the Gaussian used to build the LoG kernel. The object radius is read as the
// standard deviation of the spot's intensity profile, so the constant is 1.
const SigmaPerRadius = 1.0

// ObjectRadiusPixel divides the object radius by the voxel size, axis by axis,
// and applies SigmaPerRadius.
//
// Both arguments are (z, y, x) triples in nanometers. Any non-positive or
// non-finite component is an ErrInvalidParameter.
func ObjectRadiusPixel(voxelSize, objectRadius models.Triple) (models.Triple, error) {
	if err := checkPositive("voxel size", voxelSize); err != nil {
		return models.Triple{}, err
	}
	if err := checkPositive("object radius", objectRadius); err != nil {
		return models.Triple{}, err
	}
	return models.Triple{
		Z: objectRadius.Z / voxelSize.Z * SigmaPerRadius,
		Y: objectRadius.Y / voxelSize.Y * SigmaPerRadius,
		X: objectRadius.X / voxelSize.X * SigmaPerRadius,
	}, nil
}

func checkPositive(name string, t models.Triple) error {
	for axis := 0; axis < 3; axis++ {
		v := t.Axis(axis)
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive and finite on every axis, got %s",
				models.ErrInvalidParameter, name, t)
		}
	}
	return nil
}
