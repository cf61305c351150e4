package filter

import (
	"flofish/internal/models"
	"flofish/pkg/calibration"
)

// LoG computes the negated Laplacian-of-Gaussian response of a volume, so
// bright blobs of the scale set by sigma appear as positive peaks. The
// response is clipped at zero.
//
// The Laplacian is the sum over axes of the second-derivative kernel along
// that axis combined with plain Gaussian smoothing along the other two.
//
// Sigmas that are large relative to the volume extent produce boundary
// artifacts from the mirrored padding; they are not corrected.
func LoG(v *models.Volume, sigma models.Triple) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := checkSigma(sigma); err != nil {
		return nil, err
	}

	sum := make([]float64, len(v.Data))
	for deriv := 0; deriv < 3; deriv++ {
		term := v
		for axis := 0; axis < 3; axis++ {
			order := 0
			if axis == deriv {
				order = 2
			}
			term = correlate1D(term, gaussianKernel(sigma.Axis(axis), order), axis)
		}
		for i, val := range term.Data {
			sum[i] += val
		}
	}

	out := models.NewVolume(v.Depth, v.Height, v.Width)
	out.VoxelSize = v.VoxelSize
	for i, val := range sum {
		if val < 0 {
			out.Data[i] = -val
		}
	}
	return out, nil
}

// LogFilter calibrates the object radius against the voxel size (both in nm)
// and applies LoG with the resulting pixel sigma.
func LogFilter(v *models.Volume, voxelSize, objectRadius models.Triple) (*models.Volume, error) {
	sigma, err := calibration.ObjectRadiusPixel(voxelSize, objectRadius)
	if err != nil {
		return nil, err
	}
	return LoG(v, sigma)
}
