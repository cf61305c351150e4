package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"flofish/internal/models"
	"flofish/pkg/config"
	"flofish/pkg/decomposition"
	"flofish/pkg/detection"
	"flofish/pkg/pipeline"
	"flofish/pkg/stackio"
)

// channelFlags collects repeated -channel name=path arguments.
type channelFlags []string

func (c *channelFlags) String() string { return strings.Join(*c, ",") }

func (c *channelFlags) Set(value string) error {
	*c = append(*c, value)
	return nil
}

// parseChannel splits name=path; a bare path is named after its base name.
func parseChannel(arg string) (name, path string) {
	if i := strings.Index(arg, "="); i > 0 {
		return arg[:i], arg[i+1:]
	}
	base := filepath.Base(arg)
	return strings.TrimSuffix(base, filepath.Ext(base)), arg
}

func main() {
	// Parse command line arguments
	var channels channelFlags
	flag.Var(&channels, "channel", "Channel to process as name=path (TIFF plane directory, .npy or .tif); repeatable")
	mode := flag.String("mode", "detect", "Run mode: detect, rethreshold or decompose")
	configPath := flag.String("config", "flofish.yaml", "Path to the YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	cellsPath := flag.String("cells", "", "Optional 2D cell segmentation (.npy or .tif)")
	outputDir := flag.String("output", "flofish_results", "Directory for result files")
	threshold := flag.Float64("threshold", 0, "LoG threshold (overrides the configuration)")
	decompose := flag.Bool("decompose", false, "Decompose dense regions (overrides the configuration)")
	numCores := flag.Int("cores", 0, "Channels processed concurrently (overrides the configuration)")
	logPath := flag.String("log", "", "Saved LoG volume (.npy) for -mode rethreshold")
	maximaPath := flag.String("maxima", "", "Saved local maxima mask (.npy) for -mode rethreshold")
	spotsPath := flag.String("spots", "", "Spot table (.csv) for -mode decompose")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := initLogger(*debug)

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			logger.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Command line flags take precedence over the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold":
			cfg.Detection.Threshold = *threshold
		case "decompose":
			cfg.Decomposition.Enabled = *decompose
		case "cores":
			cfg.Processing.NumCores = *numCores
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if !cfg.Output.Verbose && !*debug {
		logger.SetLevel(logrus.WarnLevel)
	}

	fmt.Println("================================")
	fmt.Println("FLOFISH: smFISH SPOT DETECTION AND DENSE-REGION DECOMPOSITION")
	fmt.Println("================================")

	var cells *models.CellMask
	if *cellsPath != "" {
		cells, err = stackio.LoadCellMask(*cellsPath)
		if err != nil {
			logger.Fatalf("Failed to load cell mask: %v", err)
		}
		logger.WithFields(logrus.Fields{
			"path":   *cellsPath,
			"height": cells.Height,
			"width":  cells.Width,
		}).Info("cell mask loaded")
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		logger.Fatalf("Failed to create output directory: %v", err)
	}

	p := pipeline.New(cfg.PipelineParams(), logger)
	startTime := time.Now()

	switch *mode {
	case "detect":
		err = runDetect(p, cfg, channels, cells, *outputDir, logger)
	case "rethreshold":
		err = runRethreshold(p, cfg, channels, *logPath, *maximaPath, cells, *outputDir)
	case "decompose":
		err = runDecompose(cfg, channels, *spotsPath, cells, *outputDir, logger)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Fatalf("Run failed: %v", err)
	}

	fmt.Printf("\nCompleted in %.2f seconds. Results written to %s\n", time.Since(startTime).Seconds(), *outputDir)
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}

// runDetect runs the full pipeline on every channel.
func runDetect(p *pipeline.Pipeline, cfg *config.Config, args []string, cells *models.CellMask, outputDir string, logger *logrus.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one -channel is required")
	}

	var channels []pipeline.Channel
	for _, arg := range args {
		name, path := parseChannel(arg)
		volume, err := stackio.LoadVolume(path)
		if err != nil {
			return fmt.Errorf("failed to load channel %s: %w", name, err)
		}
		volume.VoxelSize = cfg.Detection.VoxelSize
		logger.WithFields(logrus.Fields{
			"channel": name,
			"path":    path,
			"shape":   volume.Shape().String(),
		}).Info("channel loaded")
		channels = append(channels, pipeline.Channel{Name: name, Volume: volume})
	}

	results, err := p.ProcessChannels(channels, cells)
	if err != nil {
		return err
	}

	for _, res := range results {
		if err := writeResult(res, cfg, outputDir); err != nil {
			return err
		}
		printSummary(res)
	}
	return nil
}

// runRethreshold applies the configured threshold to a saved LoG volume and
// maxima mask. A -channel argument supplies the raw volume decomposition
// needs.
func runRethreshold(p *pipeline.Pipeline, cfg *config.Config, args []string, logPath, maximaPath string, cells *models.CellMask, outputDir string) error {
	if logPath == "" || maximaPath == "" {
		return fmt.Errorf("-log and -maxima are required in rethreshold mode")
	}
	logVolume, err := stackio.LoadVolumeNPY(logPath)
	if err != nil {
		return err
	}
	maxima, err := stackio.LoadCandidateMask(maximaPath)
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(logPath), "_log.npy")
	saved := &pipeline.Result{Channel: name, LoG: logVolume, Maxima: maxima}
	if len(args) > 0 {
		var path string
		name, path = parseChannel(args[0])
		saved.Channel = name
		if saved.Input, err = stackio.LoadVolume(path); err != nil {
			return fmt.Errorf("failed to load channel %s: %w", name, err)
		}
	}

	// the raw volume must be the one the LoG volume was computed from
	result, err := p.Rethreshold(saved, cfg.Detection.Threshold, cells)
	if err != nil {
		return fmt.Errorf("channel %s: %w", saved.Channel, err)
	}
	if err := writeResult(result, cfg, outputDir); err != nil {
		return err
	}
	printSummary(result)
	return nil
}

// runDecompose decomposes an existing spot table against one raw channel.
func runDecompose(cfg *config.Config, args []string, spotsPath string, cells *models.CellMask, outputDir string, logger *logrus.Logger) error {
	if spotsPath == "" || len(args) == 0 {
		return fmt.Errorf("-spots and one -channel are required in decompose mode")
	}
	name, path := parseChannel(args[0])
	volume, err := stackio.LoadVolume(path)
	if err != nil {
		return fmt.Errorf("failed to load channel %s: %w", name, err)
	}
	spots, err := stackio.ReadSpots(spotsPath)
	if err != nil {
		return err
	}

	params := decomposition.DefaultParams(cfg.Detection.VoxelSize, cfg.Detection.SpotRadius)
	params.Alpha = cfg.Decomposition.Alpha
	params.Beta = cfg.Decomposition.Beta
	params.Gamma = cfg.Decomposition.Gamma

	start := time.Now()
	result, err := decomposition.Decompose(volume, spots, params, nil)
	if err != nil {
		return err
	}
	decomposed, err := result.AssignCells(cells)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"channel": name,
		"input":   len(spots),
		"spots":   len(decomposed),
		"regions": len(result.Regions),
		"elapsed": time.Since(start),
	}).Info("dense regions decomposed")

	if err := writeDecomposition(name, decomposed, result.Regions, outputDir); err != nil {
		return err
	}
	fmt.Printf("\nChannel %s: %d spots decomposed into %d (%d dense regions)\n",
		name, len(spots), len(decomposed), len(result.Regions))
	return nil
}

func printSummary(res *pipeline.Result) {
	m := res.Metrics
	fmt.Printf("\nChannel %s (threshold %.1f):\n", res.Channel, res.Params.Threshold)
	fmt.Printf("- Local maxima: %d\n", m.Candidates)
	fmt.Printf("- Spots: %d (%.1f%% in cells)\n", m.Spots, 100*m.InCellFraction)
	if m.Spots > 0 {
		fmt.Printf("- LoG intensity: mean %.2f, median %.2f, max %.2f\n", m.MeanIntensity, m.MedianIntensity, m.MaxIntensity)
	}
	if res.Params.Decomposed {
		fmt.Printf("- Decomposed spots: %d in %d dense regions\n", m.DecomposedSpots, m.DenseRegions)
	}
	fmt.Printf("- Per cell: %s\n", formatCounts(res.Spots))
}

// formatCounts lists per-cell spot counts in label order.
func formatCounts(spots detection.SpotTable) string {
	counts := spots.CountsPerCell()
	if len(counts) == 0 {
		return "none"
	}
	labels := make([]int, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = fmt.Sprintf("%d:%d", label, counts[label])
	}
	return strings.Join(parts, " ")
}
