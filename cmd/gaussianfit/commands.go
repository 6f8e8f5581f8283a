package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"gaussianfit/pkg/config"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/imagesource"
	"gaussianfit/pkg/logging"
	"gaussianfit/pkg/pairs"
	"gaussianfit/pkg/spotio"
	"gaussianfit/pkg/tracking"
)

const defaultConfigPath = "gaussianfit.yaml"

// ids numbers every dataset created during one run
var ids = dataset.NewCounter(1)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.Log.Apply()
	return cfg, nil
}

func ioOptions(cfg *config.Config) spotio.Options {
	return spotio.Options{MaxRecordBytes: cfg.IO.MaxRecordBytes, MaxSpots: cfg.IO.MaxSpots}
}

func loadDataset(path string, cfg *config.Config) (*dataset.Dataset, error) {
	b, stats, err := spotio.Load(path, ioOptions(cfg))
	if err != nil {
		return nil, err
	}
	if stats.Skipped > 0 {
		fmt.Printf("Skipped %s unreadable records in %s\n", humanize.Comma(int64(stats.Skipped)), path)
	}
	return b.Build(ids), nil
}

// outputFormat prefers an explicit format name over the file extension
func outputFormat(path, name string) (spotio.Format, error) {
	if name != "" {
		return spotio.ParseFormat(name)
	}
	return spotio.FormatFromPath(path)
}

// replaceExt swaps the extension of path
func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func printSaved(path string, d *dataset.Dataset) {
	size := "unknown size"
	if fi, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	fmt.Printf("Saved %s spots to %s (%s)\n", humanize.Comma(int64(d.Len())), path, size)
}

func requireInput(fs *flag.FlagSet, input string) error {
	if input == "" {
		fs.Usage()
		return errors.New("missing -input")
	}
	return nil
}

func runFit(args []string) error {
	fs := flag.NewFlagSet("fit", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file")
	input := fs.String("input", "", "FITS image or cube")
	output := fs.String("output", "", "Spot file to write (default: input with .tsf extension)")
	format := fs.String("format", "", "Output format: tagged, text or bin (default: from the output extension)")
	channel := fs.Int("channel", 1, "Channel recorded in the image")
	position := fs.Int("position", 0, "Stage position recorded in the image")
	workers := fs.Int("workers", 0, "Frames fitted concurrently (default: from the configuration)")
	fs.Parse(args)
	if err := requireInput(fs, *input); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	if *workers > 0 {
		cfg.Fitting.Workers = *workers
	}
	if *output == "" {
		*output = replaceExt(*input, ".tsf")
	}
	outFormat, err := outputFormat(*output, *format)
	if err != nil {
		return err
	}

	planes, err := imagesource.LoadFITS(*input)
	if err != nil {
		return err
	}
	if len(planes) == 0 {
		return fmt.Errorf("%s contains no images", *input)
	}
	fmt.Printf("Fitting %d frames of %dx%d pixels with %d workers...\n",
		len(planes), planes[0].Width, planes[0].Height, cfg.Fitting.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	startTime := time.Now()
	spots, stats, err := fitPlanes(ctx, planes, cfg, *channel, *position, func(done, total int) {
		if done%100 == 0 || done == total {
			fmt.Printf("Fitted %d of %d frames\n", done, total)
		}
	})
	if err != nil {
		return err
	}
	fmt.Printf("Found %s spots in %.2f seconds, %s candidates rejected\n",
		humanize.Comma(int64(stats.Fitted)), time.Since(startTime).Seconds(), humanize.Comma(int64(stats.Rejected)))

	b, err := newFitBuilder(*input, planes, cfg, *channel, spots)
	if err != nil {
		return err
	}
	d := b.Build(ids)
	if cfg.Filter.Active() {
		d = dataset.Filter(d, cfg.Filter, ids)
		fmt.Printf("%s spots pass the filter\n", humanize.Comma(int64(d.Len())))
	}
	if err := spotio.Save(*output, d, outFormat); err != nil {
		return err
	}
	printSaved(*output, d)
	return nil
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file")
	input := fs.String("input", "", "Spot file to read")
	output := fs.String("output", "", "Spot file to write")
	format := fs.String("format", "", "Output format: tagged, text or bin (default: from the output extension)")
	fs.Parse(args)
	if err := requireInput(fs, *input); err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return errors.New("missing -output")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	outFormat, err := outputFormat(*output, *format)
	if err != nil {
		return err
	}
	d, err := loadDataset(*input, cfg)
	if err != nil {
		return err
	}
	if err := spotio.Save(*output, d, outFormat); err != nil {
		return err
	}
	printSaved(*output, d)
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file")
	input := fs.String("input", "", "Spot file to read")
	fs.Parse(args)
	if err := requireInput(fs, *input); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	d, err := loadDataset(*input, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Name:        %s\n", d.Name())
	fmt.Printf("Title:       %s\n", d.Title())
	fmt.Printf("Spots:       %s\n", humanize.Comma(int64(d.Len())))
	fmt.Printf("Image:       %dx%d pixels of %.1f nm\n", d.Width(), d.Height(), d.PixelSize())
	fmt.Printf("Acquisition: %d channels, %d frames, %d slices, %d positions\n",
		d.NrChannels(), d.NrFrames(), d.NrSlices(), d.NrPositions())
	fmt.Printf("Fit:         %s shape, box %d pixels, coordinates in %s\n", d.Shape(), d.BoxSize(), d.Coordinates())
	if d.HasZ() {
		fmt.Printf("Z range:     %.2f to %.2f\n", d.MinZ(), d.MaxZ())
	}
	if d.IsTrack() {
		ts, err := dataset.Summarize(d)
		if err != nil {
			return err
		}
		fmt.Printf("Track:       mean (%.2f, %.2f), std %.2f, %s photons (%.1f +- %.1f per spot)\n",
			ts.MeanX, ts.MeanY, ts.Std, humanize.Commaf(ts.TotalPhotons), ts.MeanPhotons, ts.StdPhotons)
	}
	return nil
}

func runFilter(args []string) error {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file")
	input := fs.String("input", "", "Spot file to read")
	output := fs.String("output", "", "Spot file to write (default: input name with -Filtered)")
	format := fs.String("format", "", "Output format: tagged, text or bin (default: from the output extension)")
	fs.Parse(args)
	if err := requireInput(fs, *input); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	if !cfg.Filter.Active() {
		logging.Warningf("No filter range is enabled in %s, all spots will be kept", *configPath)
	}
	if *output == "" {
		ext := filepath.Ext(*input)
		*output = strings.TrimSuffix(*input, ext) + "-Filtered" + ext
	}
	outFormat, err := outputFormat(*output, *format)
	if err != nil {
		return err
	}

	d, err := loadDataset(*input, cfg)
	if err != nil {
		return err
	}
	filtered := dataset.Filter(d, cfg.Filter, ids)
	fmt.Printf("Kept %s of %s spots\n", humanize.Comma(int64(filtered.Len())), humanize.Comma(int64(d.Len())))
	if err := spotio.Save(*output, filtered, outFormat); err != nil {
		return err
	}
	printSaved(*output, filtered)
	return nil
}

func runPairs(args []string) error {
	fs := flag.NewFlagSet("pairs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file")
	input := fs.String("input", "", "Spot file with channel 1 and 2 spots")
	vector := fs.Bool("vector", false, "Fit the mean difference vector of each pair track")
	fs.Parse(args)
	if err := requireInput(fs, *input); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	d, err := loadDataset(*input, cfg)
	if err != nil {
		return err
	}

	frames := pairs.Find(d, cfg.Pairs.MaxDistance)
	fmt.Printf("Found %s pairs in %d frames\n", humanize.Comma(int64(pairs.Count(frames))), len(frames))
	a, err := pairs.Analyze(frames, pairs.Options{
		MaxDistance:        cfg.Pairs.MaxDistance,
		RegistrationError:  cfg.Pairs.RegistrationError,
		FitSigma:           cfg.Pairs.FitSigma,
		UseVectorDistances: *vector,
		BootstrapRuns:      cfg.Pairs.BootstrapRuns,
		Seed:               cfg.Pairs.Seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%-6s %-6s %-6s %-10s %-10s %-10s\n", "Track", "Frame", "n", "Distance", "StdDev", "Sigma")
	for i, ts := range a.Tracks {
		fmt.Printf("%-6d %-6d %-6d %-10.2f %-10.2f %-10.2f\n",
			i+1, ts.First.First().Frame(), ts.N, ts.DistanceMean, ts.DistanceStd, ts.Sigma)
	}

	fmt.Printf("\nP2D %s fit of %s distances:\n", a.Method, humanize.Comma(int64(len(a.Distances))))
	fmt.Printf("- Distance: %.2f +- %.2f nm\n", a.P2D.Mu, a.P2D.MuStd)
	fmt.Printf("- Sigma: %.2f nm (estimated from precision: %.2f nm)\n", a.P2D.Sigma, a.SigmaEstimate)
	if a.XError != nil && a.YError != nil {
		fmt.Printf("- Registration: x %.2f +- %.2f nm, y %.2f +- %.2f nm\n",
			a.XError.Mu, a.XError.Sigma, a.YError.Mu, a.YError.Sigma)
	}
	if a.Bootstrap != nil {
		fmt.Printf("- Bootstrap (%d runs): %.2f +- %.2f nm\n", a.Bootstrap.Runs, a.Bootstrap.MuMean, a.Bootstrap.MuStd)
	}
	return nil
}

func runTrack(args []string) error {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file")
	input := fs.String("input", "", "Spot file to read")
	outputDir := fs.String("output-dir", "", "Directory for the track files (default: next to the input)")
	format := fs.String("format", "text", "Output format: tagged, text or bin")
	fs.Parse(args)
	if err := requireInput(fs, *input); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	outFormat, err := spotio.ParseFormat(*format)
	if err != nil {
		return err
	}
	d, err := loadDataset(*input, cfg)
	if err != nil {
		return err
	}

	tracks := tracking.Track(d, tracking.Options{
		MaxDistance: cfg.Tracking.MaxDistance,
		MaxMissing:  cfg.Tracking.MaxMissing,
		MinLength:   cfg.Tracking.MinLength,
	})
	if len(tracks) == 0 {
		fmt.Println("No tracks found")
		return nil
	}
	datasets := tracking.ToDatasets(tracks, d, ids)
	fmt.Printf("Found %s tracks\n", humanize.Comma(int64(len(datasets))))

	dir := *outputDir
	if dir == "" {
		dir = filepath.Dir(*input)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	first := filepath.Join(dir, datasets[0].Name()+outFormat.Ext())
	var failed int
	for _, res := range spotio.SaveAll(first, datasets, outFormat) {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tracks could not be saved", failed, len(datasets))
	}
	fmt.Printf("Track files saved to: %s\n", dir)
	return nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file to create")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists, use -force to overwrite", *configPath)
	}
	if err := config.CreateDefaultConfigFile(*configPath); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to: %s\n", *configPath)
	return nil
}
