package models

import (
	"fmt"
	"image"
)

// Triple is an ordered (z, y, x) triple of scale values. It is used both for
// physical sizes in nanometers (voxel size, object radius) and for pixel-space
// sigmas; the two are never mixed without going through calibration.
type Triple struct {
	Z float64 `yaml:"z"`
	Y float64 `yaml:"y"`
	X float64 `yaml:"x"`
}

// Positive reports whether every component is strictly positive.
func (t Triple) Positive() bool {
	return t.Z > 0 && t.Y > 0 && t.X > 0
}

// Scale multiplies every component by f.
func (t Triple) Scale(f float64) Triple {
	return Triple{Z: t.Z * f, Y: t.Y * f, X: t.X * f}
}

// Axis returns the component for axis 0 (z), 1 (y) or 2 (x).
func (t Triple) Axis(axis int) float64 {
	switch axis {
	case 0:
		return t.Z
	case 1:
		return t.Y
	case 2:
		return t.X
	default:
		panic("illegal axis")
	}
}

func (t Triple) String() string {
	return fmt.Sprintf("(%g, %g, %g)", t.Z, t.Y, t.X)
}

// Coord is an integer voxel index in (z, y, x) order.
type Coord struct {
	Z, Y, X int
}

// Shape holds the extent of a volume along each axis.
type Shape struct {
	Depth, Height, Width int
}

// Len returns the number of voxels.
func (s Shape) Len() int {
	return s.Depth * s.Height * s.Width
}

// Index returns the flat index of (z, y, x) in z-major order.
func (s Shape) Index(z, y, x int) int {
	return z*s.Height*s.Width + y*s.Width + x
}

// CoordOf is the inverse of Index.
func (s Shape) CoordOf(idx int) Coord {
	plane := s.Height * s.Width
	z := idx / plane
	rem := idx - z*plane
	return Coord{Z: z, Y: rem / s.Width, X: rem % s.Width}
}

// Contains reports whether c lies inside the shape.
func (s Shape) Contains(c Coord) bool {
	return c.Z >= 0 && c.Z < s.Depth &&
		c.Y >= 0 && c.Y < s.Height &&
		c.X >= 0 && c.X < s.Width
}

// Extent returns the size along axis 0 (z), 1 (y) or 2 (x).
func (s Shape) Extent(axis int) int {
	switch axis {
	case 0:
		return s.Depth
	case 1:
		return s.Height
	case 2:
		return s.Width
	default:
		panic("illegal axis")
	}
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Depth, s.Height, s.Width)
}

// Plane is a single z-plane of a microscope stack as read from disk
type Plane struct {
	// Image is the decoded plane
	Image image.Image

	// Index is the position of this plane along z
	Index int

	// Filename is the original filename of the plane
	Filename string
}

// Volume represents a 3D intensity volume (one acquisition channel).
// Stages never mutate a Volume they receive; each returns a new one.
type Volume struct {
	// Data is the 3D volume data as a 1D array in z-major order
	Data []float64

	// Width is the width of the volume in voxels (x)
	Width int

	// Height is the height of the volume in voxels (y)
	Height int

	// Depth is the number of z-planes
	Depth int

	// VoxelSize is the physical size of each voxel in nm, zero when unknown
	VoxelSize Triple
}

// NewVolume allocates a zero-filled volume.
func NewVolume(depth, height, width int) *Volume {
	return &Volume{
		Data:   make([]float64, depth*height*width),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// VolumeFromData wraps data with the given shape, checking its length.
func VolumeFromData(data []float64, depth, height, width int) (*Volume, error) {
	if depth <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: volume dimensions must be positive, got (%d, %d, %d)",
			ErrShapeMismatch, depth, height, width)
	}
	if len(data) != depth*height*width {
		return nil, fmt.Errorf("%w: %d samples cannot fill a (%d, %d, %d) volume",
			ErrShapeMismatch, len(data), depth, height, width)
	}
	return &Volume{Data: data, Width: width, Height: height, Depth: depth}, nil
}

// Shape returns the volume extent.
func (v *Volume) Shape() Shape {
	return Shape{Depth: v.Depth, Height: v.Height, Width: v.Width}
}

// Index returns the flat index of (z, y, x).
func (v *Volume) Index(z, y, x int) int {
	return z*v.Height*v.Width + y*v.Width + x
}

// At returns the sample at (z, y, x).
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[v.Index(z, y, x)]
}

// Set stores val at (z, y, x).
func (v *Volume) Set(z, y, x int, val float64) {
	v.Data[v.Index(z, y, x)] = val
}

// Contains reports whether c is a valid voxel index.
func (v *Volume) Contains(c Coord) bool {
	return v.Shape().Contains(c)
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{
		Data:      data,
		Width:     v.Width,
		Height:    v.Height,
		Depth:     v.Depth,
		VoxelSize: v.VoxelSize,
	}
}

// Validate checks that the volume is non-empty and its data matches its shape.
func (v *Volume) Validate() error {
	if v == nil {
		return fmt.Errorf("%w: nil volume", ErrShapeMismatch)
	}
	if v.Depth <= 0 || v.Height <= 0 || v.Width <= 0 {
		return fmt.Errorf("%w: volume dimensions must be positive, got %s", ErrShapeMismatch, v.Shape())
	}
	if len(v.Data) != v.Shape().Len() {
		return fmt.Errorf("%w: volume holds %d samples, shape %s needs %d",
			ErrShapeMismatch, len(v.Data), v.Shape(), v.Shape().Len())
	}
	return nil
}

// MinMax returns the smallest and largest sample.
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = v.Data[0], v.Data[0]
	for _, val := range v.Data[1:] {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// CellMask is a 2D integer label image (y, x) produced by an external
// segmentation: 0 is background, >0 identifies a cell.
type CellMask struct {
	// Labels holds one label per pixel in row-major order
	Labels []int

	Width  int
	Height int
}

// NewCellMask allocates an all-background mask.
func NewCellMask(height, width int) *CellMask {
	return &CellMask{
		Labels: make([]int, height*width),
		Width:  width,
		Height: height,
	}
}

// At returns the label at (y, x).
func (m *CellMask) At(y, x int) int {
	return m.Labels[y*m.Width+x]
}

// Set stores a label at (y, x).
func (m *CellMask) Set(y, x, label int) {
	m.Labels[y*m.Width+x] = label
}

// Contains reports whether (y, x) lies inside the mask.
func (m *CellMask) Contains(y, x int) bool {
	return y >= 0 && y < m.Height && x >= 0 && x < m.Width
}

// Validate checks that the label slice matches the mask dimensions.
func (m *CellMask) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil cell mask", ErrShapeMismatch)
	}
	if m.Height <= 0 || m.Width <= 0 || len(m.Labels) != m.Height*m.Width {
		return fmt.Errorf("%w: cell mask %dx%d holds %d labels",
			ErrShapeMismatch, m.Height, m.Width, len(m.Labels))
	}
	return nil
}
