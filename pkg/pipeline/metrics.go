package pipeline

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"flofish/pkg/decomposition"
	"flofish/pkg/detection"
)

// Metrics summarises one channel's detection result.
type Metrics struct {
	// Candidates is the number of local maxima before thresholding.
	Candidates int

	// Spots is the number of thresholded spots.
	Spots int

	// InCell counts spots whose assignment is in a cell. Without a mask every
	// spot is unassigned and counted as in cell.
	InCell int

	// InCellFraction is InCell / Spots, zero for an empty table.
	InCellFraction float64

	// MeanIntensity, MedianIntensity and MaxIntensity describe the LoG
	// responses of the thresholded spots.
	MeanIntensity   float64
	MedianIntensity float64
	MaxIntensity    float64

	// SpotsPerCell tallies spots by cell label.
	SpotsPerCell map[int]int

	// DecomposedSpots and DenseRegions are zero unless decomposition ran.
	DecomposedSpots int
	DenseRegions    int

	// EstimatedCost is the filter cost estimate in multiply-adds.
	EstimatedCost int64

	// Elapsed is the wall-clock time of the run.
	Elapsed time.Duration
}

// computeMetrics fills the spot statistics. Candidate, cost and timing
// fields are left to the caller.
func computeMetrics(spots detection.SpotTable, decomposed *decomposition.Result) Metrics {
	m := Metrics{
		Spots:        len(spots),
		SpotsPerCell: spots.CountsPerCell(),
	}
	for _, s := range spots {
		if s.Cell.InCell {
			m.InCell++
		}
	}

	if len(spots) > 0 {
		m.InCellFraction = float64(m.InCell) / float64(len(spots))

		values := spots.Intensities()
		sort.Float64s(values)
		m.MeanIntensity = stat.Mean(values, nil)
		m.MedianIntensity = stat.Quantile(0.5, stat.Empirical, values, nil)
		m.MaxIntensity = values[len(values)-1]
	}

	if decomposed != nil {
		m.DecomposedSpots = len(decomposed.Spots)
		m.DenseRegions = len(decomposed.Regions)
	}
	return m
}
