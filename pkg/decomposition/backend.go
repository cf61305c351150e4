package decomposition

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"flofish/internal/models"
)

// Profile is a Gaussian model of a single emitter in pixel units.
type Profile struct {
	Amplitude  float64
	Background float64
	SigmaZ     float64
	SigmaYX    float64
}

// Value returns the background-free intensity at an offset from the center.
func (p Profile) Value(dz, dy, dx float64) float64 {
	e := dz*dz/(2*p.SigmaZ*p.SigmaZ) + (dy*dy+dx*dx)/(2*p.SigmaYX*p.SigmaYX)
	return p.Amplitude * math.Exp(-e)
}

// Valid reports whether the profile can be used for matching.
func (p Profile) Valid() bool {
	return p.Amplitude > 0 && p.SigmaZ > 0 && p.SigmaYX > 0 &&
		!math.IsInf(p.Amplitude, 0) && !math.IsNaN(p.SigmaZ) && !math.IsNaN(p.SigmaYX)
}

// RegionPatch is the part of the denoised volume around one dense region.
type RegionPatch struct {
	// Origin is the global coordinate of the patch voxel (0, 0, 0)
	Origin models.Coord

	// Residual holds intensity above the fitted background, clipped at zero
	Residual *models.Volume

	// Member marks the patch voxels that belong to the dense region
	Member []bool
}

// Backend is the fitting capability decomposition depends on: a model fit of
// the reference spot and the placement of emitters inside one region.
// Alternative fitting strategies plug in here without touching region
// selection or the output bookkeeping.
type Backend interface {
	// FitProfile models the reference spot. radiusPx seeds the fit.
	FitProfile(reference *models.Volume, radiusPx models.Triple) (Profile, error)

	// Decompose returns the global coordinates of the emitters it places in
	// the region. The same coordinate may appear more than once.
	Decompose(patch *RegionPatch, profile Profile) []models.Coord
}

// GaussianBackend fits a Gaussian with Nelder-Mead and places emitters by
// greedy least-squares matching of scaled profile copies against the residual.
type GaussianBackend struct {
	// StopFraction ends matching once the largest residual inside the region
	// drops below StopFraction * profile amplitude
	StopFraction float64

	// MaxIterations bounds the Nelder-Mead fit
	MaxIterations int
}

// NewGaussianBackend returns a backend with default settings.
func NewGaussianBackend() *GaussianBackend {
	return &GaussianBackend{StopFraction: 0.5, MaxIterations: 2000}
}

// FitProfile fits amplitude, background and the two sigmas to a reference
// spot centered in its patch.
func (b *GaussianBackend) FitProfile(reference *models.Volume, radiusPx models.Triple) (Profile, error) {
	if err := reference.Validate(); err != nil {
		return Profile{}, err
	}

	cz, cy, cx := reference.Depth/2, reference.Height/2, reference.Width/2
	lo, hi := reference.MinMax()
	initial := Profile{
		Amplitude:  hi - lo,
		Background: lo,
		SigmaZ:     radiusPx.Z,
		SigmaYX:    (radiusPx.Y + radiusPx.X) / 2,
	}
	if initial.Amplitude <= 0 {
		// flat reference, nothing to fit
		return initial, nil
	}

	toProfile := func(x []float64) Profile {
		return Profile{
			Amplitude:  x[0],
			Background: x[1],
			SigmaZ:     math.Abs(x[2]) + 1e-6,
			SigmaYX:    math.Abs(x[3]) + 1e-6,
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p := toProfile(x)
			sse := 0.0
			for z := 0; z < reference.Depth; z++ {
				for y := 0; y < reference.Height; y++ {
					for xx := 0; xx < reference.Width; xx++ {
						model := p.Background + p.Value(float64(z-cz), float64(y-cy), float64(xx-cx))
						d := model - reference.At(z, y, xx)
						sse += d * d
					}
				}
			}
			return sse
		},
	}

	x0 := []float64{initial.Amplitude, initial.Background, initial.SigmaZ, initial.SigmaYX}
	settings := &optimize.Settings{MajorIterations: b.MaxIterations}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil && result == nil {
		return initial, fmt.Errorf("reference profile fit failed: %w", err)
	}

	fitted := toProfile(result.X)
	if !fitted.Valid() {
		return initial, nil
	}
	return fitted, nil
}

// Decompose places emitters at the residual maximum one location at a time.
// At each location the least-squares amplitude of the unit profile gives the
// number of emitters stacked there; their contribution is subtracted before
// the next step.
func (b *GaussianBackend) Decompose(patch *RegionPatch, profile Profile) []models.Coord {
	if !profile.Valid() || patch == nil || patch.Residual == nil {
		return nil
	}

	res := patch.Residual.Clone()
	shape := res.Shape()
	hz := int(math.Ceil(3 * profile.SigmaZ))
	hyx := int(math.Ceil(3 * profile.SigmaYX))
	stop := b.StopFraction * profile.Amplitude

	limit := 0
	for _, m := range patch.Member {
		if m {
			limit++
		}
	}

	var placed []models.Coord
	var idx []int
	var r, g []float64
	for len(placed) < limit {
		best, bestVal := -1, math.Inf(-1)
		for i, m := range patch.Member {
			if m && res.Data[i] > bestVal {
				best, bestVal = i, res.Data[i]
			}
		}
		if best < 0 || bestVal < stop {
			break
		}
		c := shape.CoordOf(best)

		idx, r, g = idx[:0], r[:0], g[:0]
		for z := max(0, c.Z-hz); z <= min(shape.Depth-1, c.Z+hz); z++ {
			for y := max(0, c.Y-hyx); y <= min(shape.Height-1, c.Y+hyx); y++ {
				for x := max(0, c.X-hyx); x <= min(shape.Width-1, c.X+hyx); x++ {
					i := shape.Index(z, y, x)
					idx = append(idx, i)
					r = append(r, res.Data[i])
					g = append(g, profile.Value(float64(z-c.Z), float64(y-c.Y), float64(x-c.X)))
				}
			}
		}

		amplitude := floats.Dot(r, g) / floats.Dot(g, g) * profile.Amplitude
		n := int(math.Round(amplitude / profile.Amplitude))
		if n < 1 {
			n = 1
		}
		if room := limit - len(placed); n > room {
			n = room
		}

		global := models.Coord{Z: patch.Origin.Z + c.Z, Y: patch.Origin.Y + c.Y, X: patch.Origin.X + c.X}
		for k := 0; k < n; k++ {
			placed = append(placed, global)
		}

		floats.AddScaled(r, -float64(n), g)
		for k, i := range idx {
			res.Data[i] = r[k]
		}
	}
	return placed
}
