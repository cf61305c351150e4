package filter

import (
	"flofish/internal/models"
)

// RemoveBackground subtracts a smooth background estimated by a Gaussian blur
// with sigma (sigmaZ, sigmaYX, sigmaYX). Negative differences are clipped to
// zero. A zero sigma is rejected with ErrInvalidParameter.
func RemoveBackground(v *models.Volume, sigmaZ, sigmaYX float64) (*models.Volume, error) {
	return SubtractBackground(v, models.Triple{Z: sigmaZ, Y: sigmaYX, X: sigmaYX})
}

// SubtractBackground is RemoveBackground with an arbitrary per-axis sigma.
func SubtractBackground(v *models.Volume, sigma models.Triple) (*models.Volume, error) {
	background, err := GaussianBlur(v, sigma)
	if err != nil {
		return nil, err
	}

	out := models.NewVolume(v.Depth, v.Height, v.Width)
	out.VoxelSize = v.VoxelSize
	for i, val := range v.Data {
		if d := val - background.Data[i]; d > 0 {
			out.Data[i] = d
		}
	}
	return out, nil
}
