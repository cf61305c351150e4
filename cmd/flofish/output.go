package main

import (
	"fmt"
	"os"
	"path/filepath"

	"flofish/internal/models"
	"flofish/pkg/config"
	"flofish/pkg/decomposition"
	"flofish/pkg/pipeline"
	"flofish/pkg/stackio"
	"flofish/pkg/visualization"
)

// writeResult writes the spot table and, depending on the configuration, the
// decomposition tables, the intermediary volumes, LoG slices and a preview
// image.
func writeResult(res *pipeline.Result, cfg *config.Config, outputDir string) error {
	spotsFile := filepath.Join(outputDir, fmt.Sprintf("%s_spots_thr%g.csv", res.Channel, res.Params.Threshold))
	if err := stackio.WriteSpots(spotsFile, res.Spots); err != nil {
		return fmt.Errorf("failed to write spots of %s: %w", res.Channel, err)
	}

	if res.Decomposition != nil {
		if err := writeDecomposition(res.Channel, res.DecomposedSpots, res.Decomposition.Regions, outputDir); err != nil {
			return err
		}
	}

	if cfg.Output.SaveIntermediaryResults {
		dir := filepath.Join(outputDir, cfg.Output.IntermediaryDir)
		if err := saveIntermediary(res, dir); err != nil {
			return err
		}
	}

	if cfg.Output.SliceAxis != "" {
		viewer, err := visualization.NewViewer(res.LoG)
		if err != nil {
			return err
		}
		dir := filepath.Join(outputDir, res.Channel+"_slices")
		if _, err := viewer.SaveSlices(cfg.Output.SliceAxis, dir, res.Channel+"_log"); err != nil {
			return fmt.Errorf("failed to export LoG slices of %s: %w", res.Channel, err)
		}
	}

	if cfg.Output.Preview {
		markers := visualization.MarkersFromSpots(res.Spots)
		if res.Decomposition != nil {
			markers = visualization.MarkersFromDecomposed(res.DecomposedSpots)
		}
		source := res.Input
		if source == nil {
			source = res.LoG
		}
		if err := savePreview(source, markers, cfg.Output.PreviewScale,
			filepath.Join(outputDir, res.Channel+"_preview.png")); err != nil {
			return err
		}
	}
	return nil
}

func writeDecomposition(channel string, spots []decomposition.Spot, regions []decomposition.Region, outputDir string) error {
	if err := stackio.WriteDecomposedSpots(filepath.Join(outputDir, channel+"_spots_decomposed.csv"), spots); err != nil {
		return fmt.Errorf("failed to write decomposed spots of %s: %w", channel, err)
	}
	if err := stackio.WriteRegions(filepath.Join(outputDir, channel+"_dense_regions.csv"), regions); err != nil {
		return fmt.Errorf("failed to write dense regions of %s: %w", channel, err)
	}
	return nil
}

// saveIntermediary keeps the LoG volume and maxima so that a later run can
// re-threshold without filtering again.
func saveIntermediary(res *pipeline.Result, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := stackio.SaveVolumeNPY(filepath.Join(dir, res.Channel+"_log.npy"), res.LoG); err != nil {
		return fmt.Errorf("failed to save LoG volume of %s: %w", res.Channel, err)
	}
	if err := stackio.SaveCandidateMask(filepath.Join(dir, res.Channel+"_maxima.npy"), res.Maxima); err != nil {
		return fmt.Errorf("failed to save maxima of %s: %w", res.Channel, err)
	}
	return nil
}

func savePreview(v *models.Volume, markers []visualization.Marker, scale float64, path string) error {
	viewer, err := visualization.NewViewer(v)
	if err != nil {
		return err
	}
	img, err := viewer.Overlay(markers, scale)
	if err != nil {
		return err
	}
	if err := visualization.SaveImage(img, path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	return nil
}
