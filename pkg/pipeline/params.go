package pipeline

import (
	"fmt"
	"math"

	"flofish/internal/models"
	"flofish/pkg/calibration"
	"flofish/pkg/decomposition"
)

// Params holds the pipeline parameters for one run.
// These control which stages run and the physical calibration they use.
type Params struct {
	// VoxelSize is the physical voxel size in nm (z, y, x).
	VoxelSize models.Triple

	// ObjectRadius is the expected spot radius in nm (z, y, x). It sets both
	// the LoG sigma and the minimum distance between local maxima.
	ObjectRadius models.Triple

	// Threshold is the minimum LoG response for a candidate to become a spot.
	Threshold float64

	// RemoveBackground enables the Gaussian background subtraction stage.
	// When disabled the LoG filter runs on the input volume directly.
	RemoveBackground bool

	// BackgroundSigmaZ and BackgroundSigmaYX are the background blur sigmas
	// in pixels.
	BackgroundSigmaZ  float64
	BackgroundSigmaYX float64

	// Decompose enables dense-region decomposition of the thresholded spots.
	Decompose bool

	// Alpha, Beta and Gamma are the decomposition shape parameters.
	// See decomposition.Params.
	Alpha float64
	Beta  float64
	Gamma float64

	// NumCores bounds how many channels are processed at once.
	// Zero or less uses one worker per CPU.
	NumCores int
}

// DefaultParams returns the parameters of a typical widefield smFISH
// acquisition: 200 nm z-steps, 65 nm pixels and 800x120x120 nm spots.
func DefaultParams() *Params {
	return &Params{
		VoxelSize:         models.Triple{Z: 200, Y: 65, X: 65},
		ObjectRadius:      models.Triple{Z: 800, Y: 120, X: 120},
		Threshold:         50,
		RemoveBackground:  true,
		BackgroundSigmaZ:  0.75,
		BackgroundSigmaYX: 2.3,
		Decompose:         false,
		Alpha:             0.5,
		Beta:              2,
		Gamma:             1,
	}
}

// Validate checks every parameter the enabled stages depend on.
func (p *Params) Validate() error {
	if _, err := calibration.ObjectRadiusPixel(p.VoxelSize, p.ObjectRadius); err != nil {
		return err
	}
	if math.IsNaN(p.Threshold) {
		return fmt.Errorf("%w: threshold is NaN", models.ErrInvalidParameter)
	}
	if p.RemoveBackground && !(p.BackgroundSigmaZ > 0 && p.BackgroundSigmaYX > 0) {
		return fmt.Errorf("%w: background sigmas must be positive, got z=%g yx=%g",
			models.ErrInvalidParameter, p.BackgroundSigmaZ, p.BackgroundSigmaYX)
	}
	if p.Decompose {
		if _, err := p.decompositionParams().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Params) decompositionParams() decomposition.Params {
	return decomposition.Params{
		VoxelSize:    p.VoxelSize,
		ObjectRadius: p.ObjectRadius,
		Alpha:        p.Alpha,
		Beta:         p.Beta,
		Gamma:        p.Gamma,
	}
}

// Record is the parameter set a result was produced with.
type Record struct {
	Threshold    float64
	VoxelSize    models.Triple
	ObjectRadius models.Triple
	Decomposed   bool
}
