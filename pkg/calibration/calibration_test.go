package calibration

import (
	"errors"
	"math"
	"testing"

	"flofish/internal/models"
)

func TestObjectRadiusPixel(t *testing.T) {
	voxel := models.Triple{Z: 200, Y: 65, X: 65}
	radius := models.Triple{Z: 800, Y: 120, X: 120}

	px, err := ObjectRadiusPixel(voxel, radius)
	if err != nil {
		t.Fatalf("Failed to calibrate radius: %v", err)
	}

	want := models.Triple{Z: 4, Y: 120.0 / 65.0, X: 120.0 / 65.0}
	for axis := 0; axis < 3; axis++ {
		if math.Abs(px.Axis(axis)-want.Axis(axis)) > 1e-12 {
			t.Errorf("Expected axis %d sigma %f, got %f", axis, want.Axis(axis), px.Axis(axis))
		}
	}
}

func TestObjectRadiusPixelScalesLinearly(t *testing.T) {
	voxel := models.Triple{Z: 300, Y: 100, X: 90}
	radius := models.Triple{Z: 600, Y: 150, X: 170}

	single, err := ObjectRadiusPixel(voxel, radius)
	if err != nil {
		t.Fatalf("Failed to calibrate radius: %v", err)
	}
	double, err := ObjectRadiusPixel(voxel, radius.Scale(2))
	if err != nil {
		t.Fatalf("Failed to calibrate doubled radius: %v", err)
	}

	for axis := 0; axis < 3; axis++ {
		if math.Abs(double.Axis(axis)-2*single.Axis(axis)) > 1e-12 {
			t.Errorf("Expected doubled sigma on axis %d, got %f vs %f", axis, double.Axis(axis), single.Axis(axis))
		}
	}
}

func TestObjectRadiusPixelRejectsNonPositive(t *testing.T) {
	good := models.Triple{Z: 1, Y: 1, X: 1}
	cases := []struct {
		name          string
		voxel, radius models.Triple
	}{
		{"zero voxel z", models.Triple{Z: 0, Y: 1, X: 1}, good},
		{"negative voxel x", models.Triple{Z: 1, Y: 1, X: -2}, good},
		{"zero radius y", good, models.Triple{Z: 1, Y: 0, X: 1}},
		{"nan radius", good, models.Triple{Z: math.NaN(), Y: 1, X: 1}},
		{"infinite voxel", models.Triple{Z: math.Inf(1), Y: 1, X: 1}, good},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ObjectRadiusPixel(tc.voxel, tc.radius); !errors.Is(err, models.ErrInvalidParameter) {
				t.Errorf("Expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}
