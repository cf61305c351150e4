package detection

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"flofish/internal/models"
	"flofish/pkg/filter"
)

// createNoiseVolume creates a reproducible random volume
func createNoiseVolume(depth, height, width int, seed int64) *models.Volume {
	rng := rand.New(rand.NewSource(seed))
	v := models.NewVolume(depth, height, width)
	for i := range v.Data {
		v.Data[i] = rng.Float64() * 100
	}
	return v
}

func TestSingleSpotEndToEnd(t *testing.T) {
	center := models.Coord{Z: 5, Y: 5, X: 5}
	v := models.NewVolume(11, 11, 11)
	v.Set(center.Z, center.Y, center.X, 100)

	voxel := models.Triple{Z: 100, Y: 100, X: 100}
	radius := models.Triple{Z: 100, Y: 100, X: 100}

	logVol, err := filter.LogFilter(v, voxel, radius)
	if err != nil {
		t.Fatalf("LogFilter failed: %v", err)
	}
	mask, err := DetectLocalMaxima(logVol, voxel, radius)
	if err != nil {
		t.Fatalf("DetectLocalMaxima failed: %v", err)
	}
	spots, err := ThresholdSpots(logVol, mask, 1)
	if err != nil {
		t.Fatalf("ThresholdSpots failed: %v", err)
	}

	if len(spots) != 1 {
		t.Fatalf("Expected exactly 1 spot, got %d: %+v", len(spots), spots)
	}
	if spots[0].Coord != center {
		t.Errorf("Expected spot at %+v, got %+v", center, spots[0].Coord)
	}
	if spots[0].IntensityLoG <= 0 {
		t.Errorf("Expected positive LoG intensity, got %f", spots[0].IntensityLoG)
	}
	if spots[0].Cell != Unassigned {
		t.Errorf("Expected unassigned cell, got %+v", spots[0].Cell)
	}
}

func TestLocalMaximaExclusionNeighborhood(t *testing.T) {
	v := models.NewVolume(3, 15, 15)
	v.Set(1, 7, 4, 50)
	v.Set(1, 7, 7, 80)

	mask, err := LocalMaxima(v, models.Triple{Z: 5, Y: 5, X: 5})
	if err != nil {
		t.Fatalf("LocalMaxima failed: %v", err)
	}
	if mask.Count() != 1 {
		t.Fatalf("Expected exactly 1 maximum, got %d: %+v", mask.Count(), mask.Coords())
	}
	if got := mask.Coords()[0]; got != (models.Coord{Z: 1, Y: 7, X: 7}) {
		t.Errorf("Expected the brighter voxel to win, got %+v", got)
	}
	if !mask.At(1, 7, 7) || mask.At(1, 7, 4) {
		t.Error("Mask lookup disagrees with the candidate list")
	}
}

func TestLocalMaximaTieBreak(t *testing.T) {
	v := models.NewVolume(3, 15, 15)
	v.Set(1, 7, 4, 60)
	v.Set(1, 7, 7, 60)
	v.Set(2, 3, 9, 60)

	for run := 0; run < 3; run++ {
		mask, err := LocalMaxima(v, models.Triple{Z: 5, Y: 5, X: 5})
		if err != nil {
			t.Fatalf("LocalMaxima failed: %v", err)
		}
		coords := mask.Coords()
		if len(coords) != 1 {
			t.Fatalf("Expected one maximum among tied voxels, got %+v", coords)
		}
		// (1,7,4) comes first in z, y, x scan order
		if coords[0] != (models.Coord{Z: 1, Y: 7, X: 4}) {
			t.Errorf("Expected first voxel in scan order, got %+v", coords[0])
		}
	}
}

func TestLocalMaximaSeparatedPeaks(t *testing.T) {
	v := models.NewVolume(1, 5, 30)
	v.Set(0, 2, 5, 40)
	v.Set(0, 2, 20, 90)

	mask, err := LocalMaxima(v, models.Triple{Z: 1, Y: 2, X: 5})
	if err != nil {
		t.Fatalf("LocalMaxima failed: %v", err)
	}
	coords := mask.Coords()
	if len(coords) != 2 {
		t.Fatalf("Expected 2 maxima, got %+v", coords)
	}
	if coords[0].X != 5 || coords[1].X != 20 {
		t.Errorf("Expected maxima in raster order at x=5 and x=20, got %+v", coords)
	}
}

func TestLocalMaximaIgnoresFlatBackground(t *testing.T) {
	v := models.NewVolume(2, 4, 4)
	mask, err := LocalMaxima(v, models.Triple{Z: 1, Y: 1, X: 1})
	if err != nil {
		t.Fatalf("LocalMaxima failed: %v", err)
	}
	if mask.Count() != 0 {
		t.Errorf("Expected no maxima on a zero volume, got %d", mask.Count())
	}
}

func TestLocalMaximaRejectsBadDistance(t *testing.T) {
	v := models.NewVolume(2, 2, 2)
	if _, err := LocalMaxima(v, models.Triple{Z: 0, Y: 1, X: 1}); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
	if _, err := DetectLocalMaxima(v, models.Triple{Z: 1, Y: 1, X: 1}, models.Triple{Z: -1, Y: 1, X: 1}); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
}

func TestThresholdMonotonic(t *testing.T) {
	v := createNoiseVolume(4, 20, 20, 7)
	mask, err := LocalMaxima(v, models.Triple{Z: 1, Y: 1, X: 1})
	if err != nil {
		t.Fatalf("LocalMaxima failed: %v", err)
	}
	if mask.Count() == 0 {
		t.Fatal("Expected candidates in a noise volume")
	}

	thresholds := []float64{0, 25, 50, 75, 95}
	for i := 0; i+1 < len(thresholds); i++ {
		low, err := ThresholdSpots(v, mask, thresholds[i])
		if err != nil {
			t.Fatalf("ThresholdSpots failed: %v", err)
		}
		high, err := ThresholdSpots(v, mask, thresholds[i+1])
		if err != nil {
			t.Fatalf("ThresholdSpots failed: %v", err)
		}

		accepted := make(map[models.Coord]bool, len(low))
		for _, s := range low {
			accepted[s.Coord] = true
		}
		for _, s := range high {
			if !accepted[s.Coord] {
				t.Errorf("Spot %+v accepted at %f but not at %f", s.Coord, thresholds[i+1], thresholds[i])
			}
			if s.IntensityLoG < thresholds[i+1] {
				t.Errorf("Spot intensity %f below threshold %f", s.IntensityLoG, thresholds[i+1])
			}
		}
		if len(high) > len(low) {
			t.Errorf("Expected fewer spots at higher threshold: %d > %d", len(high), len(low))
		}
	}
}

func TestThresholdRepeatable(t *testing.T) {
	v := createNoiseVolume(3, 12, 12, 3)
	before := v.Clone()
	mask, err := LocalMaxima(v, models.Triple{Z: 1, Y: 2, X: 2})
	if err != nil {
		t.Fatalf("LocalMaxima failed: %v", err)
	}

	first, err := ThresholdSpots(v, mask, 40)
	if err != nil {
		t.Fatalf("ThresholdSpots failed: %v", err)
	}
	if _, err := ThresholdSpots(v, mask, 90); err != nil {
		t.Fatalf("ThresholdSpots failed: %v", err)
	}
	again, err := ThresholdSpots(v, mask, 40)
	if err != nil {
		t.Fatalf("ThresholdSpots failed: %v", err)
	}

	if len(first) != len(again) {
		t.Fatalf("Expected %d spots on repeat, got %d", len(first), len(again))
	}
	for i := range first {
		if first[i] != again[i] {
			t.Errorf("Row %d differs: %+v vs %+v", i, first[i], again[i])
		}
	}
	for i := range v.Data {
		if v.Data[i] != before.Data[i] {
			t.Fatal("Thresholding modified the filtered volume")
		}
	}
}

func TestThresholdEmptyAndErrors(t *testing.T) {
	v := createNoiseVolume(2, 6, 6, 11)
	mask, err := LocalMaxima(v, models.Triple{Z: 1, Y: 1, X: 1})
	if err != nil {
		t.Fatalf("LocalMaxima failed: %v", err)
	}

	spots, err := ThresholdSpots(v, mask, 1e9)
	if err != nil {
		t.Fatalf("Expected no error for an out-of-range threshold, got %v", err)
	}
	if spots == nil || len(spots) != 0 {
		t.Errorf("Expected an empty non-nil table, got %#v", spots)
	}

	if _, err := ThresholdSpots(v, mask, math.NaN()); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for NaN threshold, got %v", err)
	}

	other := models.NewVolume(2, 6, 7)
	if _, err := ThresholdSpots(other, mask, 1); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if _, err := ThresholdSpots(v, nil, 1); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for nil mask, got %v", err)
	}
}

func TestNewCandidateMask(t *testing.T) {
	shape := models.Shape{Depth: 1, Height: 2, Width: 3}
	data := []bool{false, true, false, false, false, true}

	mask, err := NewCandidateMask(shape, data)
	if err != nil {
		t.Fatalf("NewCandidateMask failed: %v", err)
	}
	data[1] = false
	if !mask.At(0, 0, 1) {
		t.Error("Expected mask to keep its own copy of the data")
	}
	want := []models.Coord{{Z: 0, Y: 0, X: 1}, {Z: 0, Y: 1, X: 2}}
	got := mask.Coords()
	if len(got) != len(want) {
		t.Fatalf("Expected %d candidates, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected candidate %+v, got %+v", want[i], got[i])
		}
	}

	if _, err := NewCandidateMask(shape, make([]bool, 5)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestAssociateCells(t *testing.T) {
	mask := models.NewCellMask(4, 4)
	mask.Set(1, 1, 3)
	mask.Set(2, 3, 7)

	coords := []models.Coord{
		{Z: 0, Y: 2, X: 3},
		{Z: 5, Y: 0, X: 0},
		{Z: 2, Y: 1, X: 1},
	}
	labels, inCell, err := AssociateCells(mask, coords)
	if err != nil {
		t.Fatalf("AssociateCells failed: %v", err)
	}

	wantLabels := []int{7, 0, 3}
	wantIn := []bool{true, false, true}
	if len(labels) != len(coords) || len(inCell) != len(coords) {
		t.Fatalf("Expected %d outputs, got %d and %d", len(coords), len(labels), len(inCell))
	}
	for i := range coords {
		if labels[i] != wantLabels[i] || inCell[i] != wantIn[i] {
			t.Errorf("Spot %d: expected (%d, %v), got (%d, %v)", i, wantLabels[i], wantIn[i], labels[i], inCell[i])
		}
	}
}

func TestAssociateCellsEmptyMask(t *testing.T) {
	mask := models.NewCellMask(8, 8)
	table := SpotTable{
		{Coord: models.Coord{Z: 0, Y: 0, X: 0}, Cell: Unassigned},
		{Coord: models.Coord{Z: 3, Y: 7, X: 7}, Cell: Unassigned},
		{Coord: models.Coord{Z: 1, Y: 4, X: 2}, Cell: Unassigned},
	}

	labelled, err := table.WithCells(mask)
	if err != nil {
		t.Fatalf("WithCells failed: %v", err)
	}
	for i, s := range labelled {
		if s.Cell.Label != 0 || s.Cell.InCell {
			t.Errorf("Spot %d: expected background assignment, got %+v", i, s.Cell)
		}
	}
	if table[0].Cell != Unassigned {
		t.Error("WithCells modified the input table")
	}
}

func TestAssociateCellsErrors(t *testing.T) {
	mask := models.NewCellMask(4, 4)
	_, _, err := AssociateCells(mask, []models.Coord{{Z: 0, Y: 4, X: 0}})
	if !errors.Is(err, models.ErrOutOfBoundsCoordinate) {
		t.Errorf("Expected ErrOutOfBoundsCoordinate, got %v", err)
	}
	_, _, err = AssociateCells(mask, []models.Coord{{Z: 0, Y: 0, X: -1}})
	if !errors.Is(err, models.ErrOutOfBoundsCoordinate) {
		t.Errorf("Expected ErrOutOfBoundsCoordinate, got %v", err)
	}
	if _, _, err := AssociateCells(nil, nil); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for nil mask, got %v", err)
	}

	table := SpotTable{{Coord: models.Coord{Y: 1, X: 1}, Cell: Unassigned}}
	same, err := table.WithCells(nil)
	if err != nil {
		t.Fatalf("WithCells(nil) failed: %v", err)
	}
	if len(same) != 1 || same[0] != table[0] {
		t.Errorf("Expected unchanged copy, got %+v", same)
	}
}

func TestSpotTableHelpers(t *testing.T) {
	table := SpotTable{
		{Coord: models.Coord{Z: 1, Y: 2, X: 3}, IntensityLoG: 10, Cell: AssignmentFor(4)},
		{Coord: models.Coord{Z: 0, Y: 0, X: 0}, IntensityLoG: 20, Cell: AssignmentFor(0)},
		{Coord: models.Coord{Z: 2, Y: 2, X: 2}, IntensityLoG: 30, Cell: AssignmentFor(4)},
	}

	counts := table.CountsPerCell()
	if counts[4] != 2 || counts[0] != 1 {
		t.Errorf("Unexpected per-cell counts: %v", counts)
	}
	if got := table.Intensities(); got[2] != 30 {
		t.Errorf("Expected third intensity 30, got %v", got)
	}
	if err := table.CheckBounds(models.Shape{Depth: 3, Height: 3, Width: 4}); err != nil {
		t.Errorf("Expected spots in bounds, got %v", err)
	}
	if err := table.CheckBounds(models.Shape{Depth: 2, Height: 3, Width: 4}); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if AssignmentFor(0).InCell || !AssignmentFor(-1).InCell || !AssignmentFor(2).InCell {
		t.Error("Unexpected in-cell derivation")
	}
}
