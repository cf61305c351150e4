package decomposition

import (
	"fmt"
	"math"

	"flofish/internal/models"
	"flofish/pkg/calibration"
)

// Params controls dense-region decomposition.
type Params struct {
	// VoxelSize is the physical voxel size in nm (z, y, x)
	VoxelSize models.Triple

	// ObjectRadius is the physical spot radius in nm (z, y, x)
	ObjectRadius models.Triple

	// Alpha is the voxel-wise quantile (0..1) of the isolated spot crops used
	// as the reference spot. A brighter reference means fewer spots per region.
	Alpha float64

	// Beta multiplies the reference peak to give the intensity above which
	// voxels form candidate dense regions. Larger values select fewer regions.
	Beta float64

	// Gamma scales the background-removal sigma (gamma * spot radius) applied
	// before decomposition. Zero disables the denoising step.
	Gamma float64
}

// DefaultParams returns the settings used by the interactive workflow.
func DefaultParams(voxelSize, objectRadius models.Triple) Params {
	return Params{
		VoxelSize:    voxelSize,
		ObjectRadius: objectRadius,
		Alpha:        0.5,
		Beta:         2,
		Gamma:        1,
	}
}

// Validate checks the shape parameters and returns the pixel-space radius.
func (p Params) Validate() (models.Triple, error) {
	radiusPx, err := calibration.ObjectRadiusPixel(p.VoxelSize, p.ObjectRadius)
	if err != nil {
		return models.Triple{}, err
	}
	if math.IsNaN(p.Alpha) || p.Alpha < 0 || p.Alpha > 1 {
		return models.Triple{}, fmt.Errorf("%w: alpha must lie in [0, 1], got %g", models.ErrInvalidParameter, p.Alpha)
	}
	if !(p.Beta > 0) || math.IsInf(p.Beta, 0) {
		return models.Triple{}, fmt.Errorf("%w: beta must be positive, got %g", models.ErrInvalidParameter, p.Beta)
	}
	if !(p.Gamma >= 0) || math.IsInf(p.Gamma, 0) {
		return models.Triple{}, fmt.Errorf("%w: gamma must be non-negative, got %g", models.ErrInvalidParameter, p.Gamma)
	}
	return radiusPx, nil
}
