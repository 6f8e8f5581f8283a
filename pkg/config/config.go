// Package config provides configuration loading and management for gaussianfit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Camera describes how pixel values relate to photons and nanometers
	Camera struct {
		// PixelSize is the size of one camera pixel in the sample plane, in nm
		PixelSize float64 `yaml:"pixelSize"`

		// PhotonConversion is the number of electrons per camera count
		PhotonConversion float64 `yaml:"photonConversion"`

		// Gain is the electron-multiplying gain, 1 for non-EM cameras
		Gain float64 `yaml:"gain"`

		// Baseline is the camera offset subtracted before conversion
		Baseline float64 `yaml:"baseline"`

		// ZStep is the distance between z-slices in nm
		ZStep float64 `yaml:"zStep"`
	} `yaml:"camera"`

	// Detection controls the candidate maxima finder
	Detection struct {
		// NoiseTolerance is how far a maximum must rise above its surroundings
		NoiseTolerance float64 `yaml:"noiseTolerance"`

		// MinSeparation is the minimum distance between candidates in pixels
		MinSeparation int `yaml:"minSeparation"`

		// Smoothing is the sigma in pixels of a Gaussian applied before the
		// search, 0 to search the raw image
		Smoothing float64 `yaml:"smoothing"`
	} `yaml:"detection"`

	// Fitting controls the per-spot Gaussian fit
	Fitting struct {
		// Shape is 1 (symmetric), 2 (asymmetric) or 3 (rotated ellipse)
		Shape int `yaml:"shape"`

		// FixedWidth keeps the symmetric width at InitialSigma
		FixedWidth bool `yaml:"fixedWidth"`

		// Solver is "lm" or "simplex"
		Solver string `yaml:"solver"`

		// HalfSize is half the side of the fitting box in pixels
		HalfSize int `yaml:"halfSize"`

		// InitialSigma is the starting Gaussian width in pixels
		InitialSigma float64 `yaml:"initialSigma"`

		// MaxIterations bounds the solver
		MaxIterations int `yaml:"maxIterations"`

		// MinRSquared rejects fits that explain too little of the box variance
		MinRSquared float64 `yaml:"minRSquared"`

		// Workers is the number of frames fitted concurrently
		Workers int `yaml:"workers"`
	} `yaml:"fitting"`

	// Filter is applied to fitted datasets on request
	Filter dataset.SpotFilter `yaml:"filter"`

	// Pairs controls two-channel pairing and distance analysis
	Pairs struct {
		// MaxDistance is the pairing radius in nm
		MaxDistance float64 `yaml:"maxDistance"`

		// RegistrationError is added in quadrature to the localization error
		RegistrationError float64 `yaml:"registrationError"`

		// FitSigma fits sigma together with the distance
		FitSigma bool `yaml:"fitSigma"`

		// BootstrapRuns is the number of resamples, 0 to skip
		BootstrapRuns int `yaml:"bootstrapRuns"`

		// Seed initialises the bootstrap random source
		Seed uint64 `yaml:"seed"`
	} `yaml:"pairs"`

	// Tracking controls frame-to-frame linking
	Tracking struct {
		// MaxDistance is the linking radius in nm
		MaxDistance float64 `yaml:"maxDistance"`

		// MaxMissing is the number of frames a track may skip
		MaxMissing int `yaml:"maxMissing"`

		// MinLength drops shorter tracks
		MinLength int `yaml:"minLength"`
	} `yaml:"tracking"`

	// IO bounds file readers
	IO struct {
		// MaxRecordBytes rejects larger tagged records
		MaxRecordBytes int `yaml:"maxRecordBytes"`

		// MaxSpots rejects files declaring more spots
		MaxSpots int `yaml:"maxSpots"`
	} `yaml:"io"`

	// Log selects the log destination
	Log logging.Config `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Camera.PixelSize = 107
	cfg.Camera.PhotonConversion = 10.41
	cfg.Camera.Gain = 1
	cfg.Camera.Baseline = 0
	cfg.Camera.ZStep = 50

	cfg.Detection.NoiseTolerance = 100
	cfg.Detection.MinSeparation = 3

	cfg.Fitting.Shape = 1
	cfg.Fitting.Solver = "lm"
	cfg.Fitting.HalfSize = 4
	cfg.Fitting.InitialSigma = 1.2
	cfg.Fitting.MaxIterations = 200
	cfg.Fitting.MinRSquared = 0.5
	cfg.Fitting.Workers = runtime.NumCPU()

	cfg.Filter.Width = dataset.Range{Min: 100, Max: 400}
	cfg.Filter.Intensity = dataset.Range{Min: 100, Max: 100000}
	cfg.Filter.Sigma = dataset.Range{Min: 0, Max: 40}

	cfg.Pairs.MaxDistance = 100
	cfg.Pairs.BootstrapRuns = 0
	cfg.Pairs.Seed = 1

	cfg.Tracking.MaxDistance = 90
	cfg.Tracking.MaxMissing = 1
	cfg.Tracking.MinLength = 2

	cfg.IO.MaxRecordBytes = 1 << 20
	cfg.IO.MaxSpots = 50_000_000

	cfg.Log.MaxSize = 100
	cfg.Log.MaxAge = 30

	return cfg
}

// Validate checks values that would make the pipeline fail later
func (c *Config) Validate() error {
	var errs []error
	if c.Camera.PixelSize <= 0 {
		errs = append(errs, fmt.Errorf("camera.pixelSize must be positive"))
	}
	if c.Camera.PhotonConversion <= 0 || c.Camera.Gain <= 0 {
		errs = append(errs, fmt.Errorf("camera.photonConversion and camera.gain must be positive"))
	}
	if c.Detection.Smoothing < 0 {
		errs = append(errs, fmt.Errorf("detection.smoothing must not be negative"))
	}
	if c.Fitting.Shape < 1 || c.Fitting.Shape > 3 {
		errs = append(errs, fmt.Errorf("fitting.shape must be 1, 2 or 3, got %d", c.Fitting.Shape))
	}
	if c.Fitting.Solver != "lm" && c.Fitting.Solver != "simplex" {
		errs = append(errs, fmt.Errorf("fitting.solver must be lm or simplex, got %q", c.Fitting.Solver))
	}
	if c.Fitting.HalfSize < 1 {
		errs = append(errs, fmt.Errorf("fitting.halfSize must be at least 1"))
	}
	if c.Fitting.InitialSigma <= 0 {
		errs = append(errs, fmt.Errorf("fitting.initialSigma must be positive"))
	}
	if c.Fitting.Workers < 1 {
		errs = append(errs, fmt.Errorf("fitting.workers must be at least 1"))
	}
	if c.Tracking.MaxMissing < 0 {
		errs = append(errs, fmt.Errorf("tracking.maxMissing must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

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
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
