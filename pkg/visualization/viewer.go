// Package visualization renders volumes and detected spots as 2-D previews.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"flofish/internal/models"
	"flofish/pkg/decomposition"
	"flofish/pkg/detection"
)

// Marker colours: in-cell spots are cyan, spots on background red.
var (
	inCellColor  = colorful.Color{R: 0, G: 1, B: 1}
	outCellColor = colorful.Color{R: 1, G: 0, B: 0}
)

const (
	// markerOpacity is the blend factor of marker rings over the image
	markerOpacity = 0.5

	// markerRadius is the ring radius in output pixels
	markerRadius = 5
)

// Marker is a spot position projected onto the (y, x) plane.
type Marker struct {
	Y, X   int
	InCell bool
}

// MarkersFromSpots projects a spot table.
func MarkersFromSpots(spots detection.SpotTable) []Marker {
	markers := make([]Marker, len(spots))
	for i, s := range spots {
		markers[i] = Marker{Y: s.Y, X: s.X, InCell: s.Cell.InCell}
	}
	return markers
}

// MarkersFromDecomposed projects decomposed spots.
func MarkersFromDecomposed(spots []decomposition.Spot) []Marker {
	markers := make([]Marker, len(spots))
	for i, s := range spots {
		markers[i] = Marker{Y: s.Y, X: s.X, InCell: s.Cell.InCell}
	}
	return markers
}

// Viewer renders 2-D views of a volume. Intensities are stretched linearly
// from the volume minimum to its maximum.
type Viewer struct {
	volume *models.Volume
	lo, hi float64
}

// NewViewer creates a viewer for v
func NewViewer(v *models.Volume) (*Viewer, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	lo, hi := v.MinMax()
	return &Viewer{volume: v, lo: lo, hi: hi}, nil
}

// gray maps a sample to the 16-bit display range.
func (v *Viewer) gray(val float64) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	t := (val - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// axisLength is the number of slices across axis.
func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x":
		return v.volume.Width, nil
	case "y":
		return v.volume.Height, nil
	case "z":
		return v.volume.Depth, nil
	}
	return 0, fmt.Errorf("%w: axis must be x, y or z, got %q", models.ErrInvalidParameter, axis)
}

// ExtractSlice renders the plane at pos across axis. An x slice is laid out
// with z horizontal and y vertical, a y slice with x and z, a z slice with
// x and y.
func (v *Viewer) ExtractSlice(axis string, pos int) (*image.Gray16, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return nil, err
	}
	if pos < 0 || pos >= n {
		return nil, fmt.Errorf("%w: %s slice %d outside [0, %d)", models.ErrOutOfBoundsCoordinate, axis, pos, n)
	}

	vol := v.volume
	var w, h int
	var sample func(i, j int) float64
	switch axis {
	case "x":
		w, h = vol.Depth, vol.Height
		sample = func(i, j int) float64 { return vol.At(i, j, pos) }
	case "y":
		w, h = vol.Width, vol.Depth
		sample = func(i, j int) float64 { return vol.At(j, pos, i) }
	default:
		w, h = vol.Width, vol.Height
		sample = func(i, j int) float64 { return vol.At(pos, j, i) }
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			img.SetGray16(i, j, v.gray(sample(i, j)))
		}
	}
	return img, nil
}

// MaxProjection returns the maximum-intensity projection along z.
func (v *Viewer) MaxProjection() *image.Gray16 {
	vol := v.volume
	img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
	for y := 0; y < vol.Height; y++ {
		for x := 0; x < vol.Width; x++ {
			m := vol.At(0, y, x)
			for z := 1; z < vol.Depth; z++ {
				m = math.Max(m, vol.At(z, y, x))
			}
			img.SetGray16(x, y, v.gray(m))
		}
	}
	return img
}

// Overlay draws markers over the max projection, resized by scale.
// Rings are blended at half opacity, cyan for in-cell spots and red otherwise.
func (v *Viewer) Overlay(markers []Marker, scale float64) (*image.NRGBA, error) {
	if !(scale > 0) {
		return nil, fmt.Errorf("%w: scale must be positive, got %g", models.ErrInvalidParameter, scale)
	}

	base := imaging.Clone(v.MaxProjection())
	if scale != 1 {
		w := max(1, int(math.Round(float64(v.volume.Width)*scale)))
		h := max(1, int(math.Round(float64(v.volume.Height)*scale)))
		base = imaging.Resize(base, w, h, imaging.Lanczos)
	}

	for _, m := range markers {
		cx := int(math.Floor((float64(m.X) + 0.5) * scale))
		cy := int(math.Floor((float64(m.Y) + 0.5) * scale))
		ring := outCellColor
		if m.InCell {
			ring = inCellColor
		}
		drawRing(base, cx, cy, markerRadius, ring)
	}
	return base, nil
}

// drawRing blends a one-pixel circle of radius r centred on (cx, cy).
func drawRing(img *image.NRGBA, cx, cy, r int, ring colorful.Color) {
	b := img.Bounds()
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d2 := dx*dx + dy*dy
			if d2 > r*r || d2 < (r-1)*(r-1) {
				continue
			}
			p := image.Pt(cx+dx, cy+dy)
			if !p.In(b) {
				continue
			}
			under, _ := colorful.MakeColor(img.NRGBAAt(p.X, p.Y))
			blended := under.BlendRgb(ring, markerOpacity).Clamped()
			r8, g8, b8 := blended.RGB255()
			img.SetNRGBA(p.X, p.Y, color.NRGBA{R: r8, G: g8, B: b8, A: 255})
		}
	}
}

// SaveImage writes img; the format follows the file extension.
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return imaging.Save(img, filename)
}

// SaveSlices writes every slice across axis to dir as
// <prefix>_<axis><pos>.png and returns how many were written.
func (v *Viewer) SaveSlices(axis, dir, prefix string) (int, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}
		name := filepath.Join(dir, fmt.Sprintf("%s_%s%03d.png", prefix, axis, pos))
		if err := imaging.Save(img, name); err != nil {
			return pos, fmt.Errorf("failed to save %s: %w", name, err)
		}
	}
	return n, nil
}
