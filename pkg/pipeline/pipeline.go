// Package pipeline runs spot detection on smFISH volumes stage by stage.
//
// The stages are:
// 1. Optional Gaussian background subtraction
// 2. LoG filtering at the calibrated spot sigma
// 3. Local maximum detection
// 4. Intensity thresholding
// 5. Cell association when a segmentation mask is supplied
// 6. Optional dense-region decomposition against the raw intensities
//
// Every intermediate product is kept on the Result so that the threshold can
// be changed later without repeating stages 1-3.
package pipeline

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"flofish/internal/models"
	"flofish/pkg/calibration"
	"flofish/pkg/decomposition"
	"flofish/pkg/detection"
	"flofish/pkg/filter"
)

// Result holds everything one channel's run produced.
type Result struct {
	// Channel is the name the volume was processed under.
	Channel string

	// Input is the raw intensity volume. Decomposition fits against it.
	Input *models.Volume

	// Filtered is the background-subtracted volume, or Input when background
	// removal is disabled.
	Filtered *models.Volume

	// LoG is the filter response the maxima and spots were taken from.
	LoG *models.Volume

	// Maxima holds the local-maximum candidates of LoG.
	Maxima *detection.CandidateMask

	// Spots is the thresholded spot table, with cell assignments applied.
	Spots detection.SpotTable

	// Decomposition is nil unless decomposition ran.
	Decomposition *decomposition.Result

	// DecomposedSpots are the decomposition spots with cell assignments
	// applied; nil unless decomposition ran.
	DecomposedSpots []decomposition.Spot

	// Params records the settings the result was produced with.
	Params Record

	// Metrics summarises the result.
	Metrics Metrics
}

// Channel is one named volume to process.
type Channel struct {
	Name   string
	Volume *models.Volume
}

// Pipeline runs the detection stages with a fixed set of parameters.
// A Pipeline holds no per-run state and may be used from several goroutines.
type Pipeline struct {
	params  *Params
	logger  *logrus.Logger
	backend decomposition.Backend
}

// New creates a pipeline. A nil logger discards log output.
//
// Parameters:
//   - params: stage parameters; they are validated on every run
//   - logger: destination for per-stage log entries
//
// Returns:
//   - A Pipeline using the default Gaussian decomposition backend
func New(params *Params, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Pipeline{
		params:  params,
		logger:  logger,
		backend: decomposition.NewGaussianBackend(),
	}
}

// WithBackend replaces the decomposition backend.
func (p *Pipeline) WithBackend(backend decomposition.Backend) *Pipeline {
	p.backend = backend
	return p
}

// Params returns the pipeline parameters.
func (p *Pipeline) Params() *Params {
	return p.params
}

// Process runs every enabled stage on one channel.
//
// Parameters:
//   - channel: name used in log entries and on the result
//   - volume: raw intensity volume; it is not modified
//   - cells: optional 2D segmentation matching the volume's (y, x) extent
//
// Returns:
//   - The result with every intermediate product, or the first stage error
func (p *Pipeline) Process(channel string, volume *models.Volume, cells *models.CellMask) (*Result, error) {
	start := time.Now()
	if err := p.params.Validate(); err != nil {
		return nil, err
	}
	if err := volume.Validate(); err != nil {
		return nil, err
	}
	if cells != nil && (cells.Height != volume.Height || cells.Width != volume.Width) {
		return nil, fmt.Errorf("%w: cell mask %dx%d does not match volume %dx%d",
			models.ErrShapeMismatch, cells.Height, cells.Width, volume.Height, volume.Width)
	}

	log := p.logger.WithField("channel", channel)
	result := &Result{Channel: channel, Input: volume, Filtered: volume}
	radiusPx, err := calibration.ObjectRadiusPixel(p.params.VoxelSize, p.params.ObjectRadius)
	if err != nil {
		return nil, err
	}
	cost := filter.EstimateCost(filter.StageLoG, volume.Shape(), radiusPx)

	// Step 1: background subtraction
	if p.params.RemoveBackground {
		sigma := models.Triple{Z: p.params.BackgroundSigmaZ, Y: p.params.BackgroundSigmaYX, X: p.params.BackgroundSigmaYX}
		stageCost := filter.EstimateCost(filter.StageBackground, volume.Shape(), sigma)
		cost += stageCost

		stageStart := time.Now()
		filtered, err := filter.SubtractBackground(volume, sigma)
		if err != nil {
			return nil, fmt.Errorf("background removal: %w", err)
		}
		result.Filtered = filtered
		log.WithFields(logrus.Fields{
			"stage":   filter.StageBackground.String(),
			"sigma":   sigma.String(),
			"cost":    stageCost,
			"elapsed": time.Since(stageStart),
		}).Info("background removed")
	}

	// Step 2: LoG filter
	stageStart := time.Now()
	logVolume, err := filter.LoG(result.Filtered, radiusPx)
	if err != nil {
		return nil, fmt.Errorf("LoG filter: %w", err)
	}
	result.LoG = logVolume
	log.WithFields(logrus.Fields{
		"stage":   filter.StageLoG.String(),
		"sigma":   radiusPx.String(),
		"cost":    filter.EstimateCost(filter.StageLoG, volume.Shape(), radiusPx),
		"elapsed": time.Since(stageStart),
	}).Info("LoG filtered")

	// Step 3: local maxima
	stageStart = time.Now()
	maxima, err := detection.LocalMaxima(logVolume, radiusPx)
	if err != nil {
		return nil, fmt.Errorf("local maximum detection: %w", err)
	}
	result.Maxima = maxima
	log.WithFields(logrus.Fields{
		"stage":      "maxima",
		"candidates": maxima.Count(),
		"elapsed":    time.Since(stageStart),
	}).Info("local maxima detected")

	// Steps 4-6 are shared with re-thresholding
	if err := p.threshold(result, p.params.Threshold, cells); err != nil {
		return nil, err
	}

	result.Metrics.EstimatedCost = cost
	result.Metrics.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{
		"spots":      result.Metrics.Spots,
		"inCell":     result.Metrics.InCell,
		"decomposed": result.Metrics.DecomposedSpots,
		"elapsed":    result.Metrics.Elapsed,
	}).Info("channel processed")
	return result, nil
}

// Rethreshold derives a new result from prev using another threshold. The
// LoG volume, maxima and raw input of prev are shared; prev itself is not
// modified. Cell assignments and, when enabled, decomposition are redone.
func (p *Pipeline) Rethreshold(prev *Result, threshold float64, cells *models.CellMask) (*Result, error) {
	if prev == nil || prev.LoG == nil || prev.Maxima == nil {
		return nil, fmt.Errorf("%w: result has no LoG volume or maxima to re-threshold", models.ErrInvalidParameter)
	}
	if prev.Input != nil && prev.Input.Shape() != prev.LoG.Shape() {
		return nil, fmt.Errorf("%w: raw volume %v does not match LoG volume %v",
			models.ErrShapeMismatch, prev.Input.Shape(), prev.LoG.Shape())
	}

	start := time.Now()
	next := &Result{
		Channel:  prev.Channel,
		Input:    prev.Input,
		Filtered: prev.Filtered,
		LoG:      prev.LoG,
		Maxima:   prev.Maxima,
	}
	if err := p.threshold(next, threshold, cells); err != nil {
		return nil, err
	}
	next.Metrics.EstimatedCost = prev.Metrics.EstimatedCost
	next.Metrics.Elapsed = time.Since(start)
	return next, nil
}

// threshold runs thresholding, cell association and decomposition, then
// refreshes the metrics and parameter record.
func (p *Pipeline) threshold(result *Result, threshold float64, cells *models.CellMask) error {
	log := p.logger.WithField("channel", result.Channel)

	stageStart := time.Now()
	spots, err := detection.ThresholdSpots(result.LoG, result.Maxima, threshold)
	if err != nil {
		return fmt.Errorf("thresholding: %w", err)
	}
	spots, err = spots.WithCells(cells)
	if err != nil {
		return fmt.Errorf("cell association: %w", err)
	}
	log.WithFields(logrus.Fields{
		"stage":     "threshold",
		"threshold": threshold,
		"spots":     len(spots),
		"elapsed":   time.Since(stageStart),
	}).Info("spots thresholded")

	var decomposed *decomposition.Result
	var decomposedSpots []decomposition.Spot
	if p.params.Decompose && result.Input != nil {
		stageStart = time.Now()
		decomposed, err = decomposition.Decompose(result.Input, spots, p.params.decompositionParams(), p.backend)
		if err != nil {
			return fmt.Errorf("decomposition: %w", err)
		}
		decomposedSpots, err = decomposed.AssignCells(cells)
		if err != nil {
			return fmt.Errorf("cell association of decomposed spots: %w", err)
		}
		log.WithFields(logrus.Fields{
			"stage":   "decomposition",
			"regions": len(decomposed.Regions),
			"spots":   len(decomposed.Spots),
			"elapsed": time.Since(stageStart),
		}).Info("dense regions decomposed")
	}

	result.Spots = spots
	result.Decomposition = decomposed
	result.DecomposedSpots = decomposedSpots
	result.Params = Record{
		Threshold:    threshold,
		VoxelSize:    p.params.VoxelSize,
		ObjectRadius: p.params.ObjectRadius,
		Decomposed:   decomposed != nil,
	}
	result.Metrics = computeMetrics(spots, decomposed)
	result.Metrics.Candidates = result.Maxima.Count()
	return nil
}

// ProcessChannels runs Process on every channel concurrently, at most
// NumCores at a time. Results are returned in input order. The first error
// is returned after all started channels finish.
func (p *Pipeline) ProcessChannels(channels []Channel, cells *models.CellMask) ([]*Result, error) {
	numCores := p.params.NumCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}

	// Create a channel for results
	type processingResult struct {
		index  int
		result *Result
		err    error
	}
	resultChan := make(chan processingResult)
	slots := make(chan struct{}, numCores)

	for i, ch := range channels {
		go func(index int, ch Channel) {
			slots <- struct{}{}
			defer func() { <-slots }()

			res, err := p.Process(ch.Name, ch.Volume, cells)
			resultChan <- processingResult{index: index, result: res, err: err}
		}(i, ch)
	}

	// Collect results
	results := make([]*Result, len(channels))
	var firstErr error
	for completed := 0; completed < len(channels); completed++ {
		res := <-resultChan
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("channel %s: %w", channels[res.index].Name, res.err)
			}
			continue
		}
		results[res.index] = res.result
		p.logger.WithFields(logrus.Fields{
			"completed": completed + 1,
			"total":     len(channels),
		}).Debug("channel finished")
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

