package detection

import (
	"fmt"
	"math"

	"flofish/internal/models"
)

// ThresholdSpots keeps the candidates whose LoG intensity is >= threshold.
//
// Only the candidates stored in mask are visited, so the call can be repeated
// with new thresholds on the same (logVolume, mask) pair without touching
// every voxel. Spots carry the Unassigned cell assignment; use
// SpotTable.WithCells to apply a segmentation.
//
// A threshold above every candidate yields an empty, non-nil table.
func ThresholdSpots(logVolume *models.Volume, mask *CandidateMask, threshold float64) (SpotTable, error) {
	if err := logVolume.Validate(); err != nil {
		return nil, err
	}
	if mask == nil {
		return nil, fmt.Errorf("%w: nil candidate mask", models.ErrShapeMismatch)
	}
	if mask.Shape() != logVolume.Shape() {
		return nil, fmt.Errorf("%w: candidate mask %s does not match volume %s",
			models.ErrShapeMismatch, mask.Shape(), logVolume.Shape())
	}
	if math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: threshold is NaN", models.ErrInvalidParameter)
	}

	spots := SpotTable{}
	for _, idx := range mask.candidates {
		val := logVolume.Data[idx]
		if val >= threshold {
			spots = append(spots, Spot{
				Coord:        mask.shape.CoordOf(idx),
				IntensityLoG: val,
				Cell:         Unassigned,
			})
		}
	}
	return spots, nil
}
