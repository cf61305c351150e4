package visualization

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"flofish/internal/models"
	"flofish/pkg/decomposition"
	"flofish/pkg/detection"
)

// createLayeredVolume fills each z-plane with its own constant value z.
func createLayeredVolume(depth, height, width int) *models.Volume {
	v := models.NewVolume(depth, height, width)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(z, y, x, float64(z))
			}
		}
	}
	return v
}

func TestNewViewer(t *testing.T) {
	v := createLayeredVolume(5, 10, 8)
	viewer, err := NewViewer(v)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if viewer.lo != 0 || viewer.hi != 4 {
		t.Errorf("Expected display range 0..4, got %f..%f", viewer.lo, viewer.hi)
	}

	if _, err := NewViewer(&models.Volume{Depth: 1, Height: 1, Width: 1}); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for an empty volume, got %v", err)
	}
}

func TestExtractSlice(t *testing.T) {
	depth, height, width := 5, 10, 8
	viewer, err := NewViewer(createLayeredVolume(depth, height, width))
	if err != nil {
		t.Fatal(err)
	}

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", width, height, bounds.Dx(), bounds.Dy())
		}
		expected := uint16(float64(z) / float64(depth-1) * 65535)
		if got := img.Gray16At(width/2, height/2).Y; got != expected {
			t.Errorf("Expected Z slice value %d at center, got %d", expected, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if got := imgY.Gray16At(width/2, depth-1).Y; got != 65535 {
		t.Errorf("Expected the last z row of a Y slice at full intensity, got %d", got)
	}

	tests := []struct {
		axis     string
		position int
		want     error
	}{
		{"z", depth, models.ErrOutOfBoundsCoordinate},
		{"x", -1, models.ErrOutOfBoundsCoordinate},
		{"y", height, models.ErrOutOfBoundsCoordinate},
		{"w", 0, models.ErrInvalidParameter},
		{"Z", 0, models.ErrInvalidParameter},
	}
	for _, tt := range tests {
		if _, err := viewer.ExtractSlice(tt.axis, tt.position); !errors.Is(err, tt.want) {
			t.Errorf("Axis %s position %d: expected %v, got %v", tt.axis, tt.position, tt.want, err)
		}
	}
}

func TestMaxProjection(t *testing.T) {
	v := models.NewVolume(3, 4, 4)
	v.Set(2, 1, 1, 10)
	v.Set(0, 3, 2, 5)
	viewer, err := NewViewer(v)
	if err != nil {
		t.Fatal(err)
	}

	img := viewer.MaxProjection()
	if got := img.Gray16At(1, 1).Y; got != 65535 {
		t.Errorf("Expected brightest pixel at (1,1), got %d", got)
	}
	if got := img.Gray16At(2, 3).Y; got != 32767 {
		t.Errorf("Expected half intensity at (2,3), got %d", got)
	}
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected black background, got %d", got)
	}
}

func TestOverlay(t *testing.T) {
	v := models.NewVolume(2, 30, 30)
	viewer, err := NewViewer(v)
	if err != nil {
		t.Fatal(err)
	}

	markers := []Marker{{Y: 10, X: 10, InCell: true}, {Y: 20, X: 20, InCell: false}}
	img, err := viewer.Overlay(markers, 1)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}

	// ring pixel right of the in-cell marker: cyan at half opacity over black
	c := img.NRGBAAt(10+markerRadius, 10)
	if c.R != 0 || c.G < 100 || c.B < 100 {
		t.Errorf("Expected a cyan ring pixel, got %+v", c)
	}
	c = img.NRGBAAt(20+markerRadius, 20)
	if c.R < 100 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected a red ring pixel, got %+v", c)
	}
	if c := img.NRGBAAt(10, 10); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected the ring center untouched, got %+v", c)
	}

	scaled, err := viewer.Overlay(markers, 2)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if b := scaled.Bounds(); b.Dx() != 60 || b.Dy() != 60 {
		t.Errorf("Expected 60x60 preview, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := viewer.Overlay(markers, 0); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for zero scale, got %v", err)
	}
}

func TestMarkers(t *testing.T) {
	spots := detection.SpotTable{
		{Coord: models.Coord{Z: 1, Y: 2, X: 3}, Cell: detection.CellAssignment{Label: 0, InCell: false}},
	}
	m := MarkersFromSpots(spots)
	if len(m) != 1 || m[0] != (Marker{Y: 2, X: 3, InCell: false}) {
		t.Errorf("Unexpected markers %+v", m)
	}

	decomposed := []decomposition.Spot{{Coord: models.Coord{Z: 0, Y: 4, X: 5}, Cell: detection.Unassigned}}
	m = MarkersFromDecomposed(decomposed)
	if len(m) != 1 || m[0] != (Marker{Y: 4, X: 5, InCell: true}) {
		t.Errorf("Unexpected markers %+v", m)
	}
}

func TestSaveSlices(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file output test in short mode")
	}

	viewer, err := NewViewer(createLayeredVolume(3, 6, 6))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	n, err := viewer.SaveSlices("z", dir, "cy3")
	if err != nil {
		t.Fatalf("SaveSlices failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 slices written, got %d", n)
	}
	for z := 0; z < 3; z++ {
		path := filepath.Join(dir, fmt.Sprintf("cy3_z%03d.png", z))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected slice file %s: %v", path, err)
		}
	}

	if _, err := viewer.SaveSlices("q", dir, "cy3"); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for an invalid axis, got %v", err)
	}

	preview := filepath.Join(dir, "preview", "max.png")
	if err := SaveImage(viewer.MaxProjection(), preview); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if _, err := os.Stat(preview); err != nil {
		t.Errorf("Expected preview file: %v", err)
	}
}
