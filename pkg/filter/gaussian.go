// Package filter implements the volume filters of the spot pipeline:
// Gaussian smoothing, background suppression and the Laplacian-of-Gaussian
// bandpass. Filters are separable 1D correlations applied axis by axis with
// mirror ("reflect") boundaries; every call returns a new volume.
package filter

import (
	"fmt"
	"math"

	"flofish/internal/models"
)

// truncate is the kernel half-width in units of sigma.
const truncate = 4.0

// kernelRadius returns the half-width of a kernel for sigma.
func kernelRadius(sigma float64) int {
	r := int(truncate*sigma + 0.5)
	if r < 1 {
		r = 1
	}
	return r
}

// gaussianKernel samples a normalized Gaussian (order 0) or its second
// derivative (order 2) on integer offsets.
//
// The second-derivative kernel is shifted to sum to exactly zero, so a
// constant region has no LoG response.
func gaussianKernel(sigma float64, order int) []float64 {
	radius := kernelRadius(sigma)
	kernel := make([]float64, 2*radius+1)
	s2 := sigma * sigma

	sum := 0.0
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * s2))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	if order == 2 {
		mean := 0.0
		for i := range kernel {
			x := float64(i - radius)
			kernel[i] *= (x*x - s2) / (s2 * s2)
			mean += kernel[i]
		}
		mean /= float64(len(kernel))
		for i := range kernel {
			kernel[i] -= mean
		}
	}
	return kernel
}

// reflectIndex maps i into [0, n) using the (d c b a | a b c d | d c b a)
// boundary convention.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// correlate1D correlates src with a centered kernel along one axis
// (0 = z, 1 = y, 2 = x).
func correlate1D(src *models.Volume, kernel []float64, axis int) *models.Volume {
	dst := models.NewVolume(src.Depth, src.Height, src.Width)
	dst.VoxelSize = src.VoxelSize

	shape := src.Shape()
	n := shape.Extent(axis)
	radius := len(kernel) / 2
	strides := [3]int{src.Height * src.Width, src.Width, 1}
	stride := strides[axis]

	for idx := range src.Data {
		c := shape.CoordOf(idx)
		pos := [3]int{c.Z, c.Y, c.X}[axis]
		base := idx - pos*stride

		acc := 0.0
		for k, w := range kernel {
			j := reflectIndex(pos+k-radius, n)
			acc += w * src.Data[base+j*stride]
		}
		dst.Data[idx] = acc
	}
	return dst
}

// GaussianBlur smooths a volume with an anisotropic Gaussian.
//
// Parameters:
//   - v: Input volume, left untouched
//   - sigma: Per-axis (z, y, x) standard deviation in pixels, all > 0
//
// Returns:
//   - A new smoothed volume of the same shape
func GaussianBlur(v *models.Volume, sigma models.Triple) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := checkSigma(sigma); err != nil {
		return nil, err
	}

	out := v
	for axis := 0; axis < 3; axis++ {
		out = correlate1D(out, gaussianKernel(sigma.Axis(axis), 0), axis)
	}
	return out, nil
}

func checkSigma(sigma models.Triple) error {
	for axis := 0; axis < 3; axis++ {
		s := sigma.Axis(axis)
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: sigma must be positive and finite on every axis, got %s",
				models.ErrInvalidParameter, sigma)
		}
	}
	return nil
}
