package filter

import (
	"flofish/internal/models"
)

// Stage identifies a filtering stage for cost estimation.
type Stage int

const (
	StageBackground Stage = iota
	StageLoG
)

func (s Stage) String() string {
	switch s {
	case StageBackground:
		return "background"
	case StageLoG:
		return "log"
	default:
		return "unknown"
	}
}

// EstimateCost returns the number of multiply-adds a stage performs on a
// volume of the given shape. Callers use it to warn about long runs; the
// filters themselves cannot be interrupted.
func EstimateCost(stage Stage, shape models.Shape, sigma models.Triple) int64 {
	var taps int64
	for axis := 0; axis < 3; axis++ {
		taps += int64(2*kernelRadius(sigma.Axis(axis)) + 1)
	}

	voxels := int64(shape.Len())
	switch stage {
	case StageLoG:
		// one pass per derivative axis
		return 3 * voxels * taps
	default:
		return voxels * taps
	}
}
