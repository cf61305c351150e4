// Package config provides configuration loading and management for flofish.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"flofish/internal/models"
	"flofish/pkg/pipeline"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Detection parameters
	Detection struct {
		// VoxelSize is the physical voxel size in nm
		VoxelSize models.Triple `yaml:"voxelSize"`

		// SpotRadius is the expected spot radius in nm
		SpotRadius models.Triple `yaml:"spotRadius"`

		// Threshold is the minimum LoG response of an accepted spot
		Threshold float64 `yaml:"threshold"`
	} `yaml:"detection"`

	// Background removal parameters
	Background struct {
		// Enabled turns background subtraction on
		Enabled bool `yaml:"enabled"`

		// SigmaZ and SigmaYX are the blur sigmas in pixels
		SigmaZ  float64 `yaml:"sigmaZ"`
		SigmaYX float64 `yaml:"sigmaYX"`
	} `yaml:"background"`

	// Dense-region decomposition parameters
	Decomposition struct {
		Enabled bool    `yaml:"enabled"`
		Alpha   float64 `yaml:"alpha"`
		Beta    float64 `yaml:"beta"`
		Gamma   float64 `yaml:"gamma"`
	} `yaml:"decomposition"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many channels are processed concurrently
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SaveIntermediaryResults saves the LoG volume and maxima mask as .npy
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary results are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Preview writes a max-projection PNG with spot markers per channel
		Preview bool `yaml:"preview"`

		// PreviewScale resizes the preview image
		PreviewScale float64 `yaml:"previewScale"`

		// SliceAxis exports every LoG slice along x, y or z as PNG; empty disables
		SliceAxis string `yaml:"sliceAxis"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default detection parameters
	cfg.Detection.VoxelSize = models.Triple{Z: 200, Y: 65, X: 65}
	cfg.Detection.SpotRadius = models.Triple{Z: 800, Y: 120, X: 120}
	cfg.Detection.Threshold = 50

	// Set default background parameters
	cfg.Background.Enabled = true
	cfg.Background.SigmaZ = 0.75
	cfg.Background.SigmaYX = 2.3

	// Set default decomposition parameters
	cfg.Decomposition.Enabled = false
	cfg.Decomposition.Alpha = 0.5
	cfg.Decomposition.Beta = 2
	cfg.Decomposition.Gamma = 1

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Preview = false
	cfg.Output.PreviewScale = 1
	cfg.Output.SliceAxis = ""

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("%w: numCores must not be negative, got %d", models.ErrInvalidParameter, c.Processing.NumCores)
	}
	if c.Output.Preview && !(c.Output.PreviewScale > 0) {
		return fmt.Errorf("%w: previewScale must be positive, got %g", models.ErrInvalidParameter, c.Output.PreviewScale)
	}
	switch c.Output.SliceAxis {
	case "", "x", "y", "z":
	default:
		return fmt.Errorf("%w: sliceAxis must be x, y, z or empty, got %q", models.ErrInvalidParameter, c.Output.SliceAxis)
	}
	if math.IsInf(c.Detection.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", models.ErrInvalidParameter)
	}
	return c.PipelineParams().Validate()
}

// PipelineParams converts the configuration into pipeline parameters.
func (c *Config) PipelineParams() *pipeline.Params {
	return &pipeline.Params{
		VoxelSize:         c.Detection.VoxelSize,
		ObjectRadius:      c.Detection.SpotRadius,
		Threshold:         c.Detection.Threshold,
		RemoveBackground:  c.Background.Enabled,
		BackgroundSigmaZ:  c.Background.SigmaZ,
		BackgroundSigmaYX: c.Background.SigmaYX,
		Decompose:         c.Decomposition.Enabled,
		Alpha:             c.Decomposition.Alpha,
		Beta:              c.Decomposition.Beta,
		Gamma:             c.Decomposition.Gamma,
		NumCores:          c.Processing.NumCores,
	}
}
