// Package config holds the immutable per-run configuration.
//
// A Config is constructed once per run, either from a YAML file plus CLI
// overrides or from persisted run metadata written by a previous
// acquisition, and is read-only thereafter. No process-wide mutable
// parameter state exists outside of it.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seisnoise/seisnoise/internal/errors"
)

// Config represents the complete pipeline configuration.
type Config struct {
	// Acquisition configures the download stage.
	Acquisition AcquisitionConfig `yaml:"acquisition"`

	// Processing configures sampling and windowing, shared by all stages.
	Processing ProcessingConfig `yaml:"processing"`

	// Correlation configures the cross-correlation stage.
	Correlation CorrelationConfig `yaml:"correlation"`

	// Stacking configures the stacking stage.
	Stacking StackingConfig `yaml:"stacking"`

	// Resources bounds per-worker memory and parallelism.
	Resources ResourcesConfig `yaml:"resources"`
}

// AcquisitionConfig configures the download stage.
type AcquisitionConfig struct {
	// Start and End delimit the overall date range, half-open.
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`

	// IncHours is the chunk increment in hours.
	IncHours int `yaml:"inc_hours"`

	// Networks, Stations and Channels are the request patterns passed to
	// the station catalog. Stations may be "*".
	Networks []string `yaml:"networks"`
	Stations []string `yaml:"stations"`
	Channels []string `yaml:"channels"`

	// Bounds is the regional box for catalog queries.
	Bounds BoundingBox `yaml:"bounds"`
}

// BoundingBox is a lat/lon regional box for station selection.
type BoundingBox struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

// ProcessingConfig configures sampling and windowing.
type ProcessingConfig struct {
	// SampFreq is the target sampling rate in Hz.
	SampFreq float64 `yaml:"samp_freq"`

	// FreqMin and FreqMax delimit the pre-filtering band in Hz.
	// FreqMax must stay below the Nyquist frequency SampFreq/2.
	FreqMin float64 `yaml:"freqmin"`
	FreqMax float64 `yaml:"freqmax"`

	// CCLen is the correlation window length in seconds.
	CCLen int `yaml:"cc_len"`

	// Step is the window stride in seconds; at most CCLen.
	Step int `yaml:"step"`

	// FreqNorm is the frequency normalization mode: rma, no, phase_only.
	FreqNorm string `yaml:"freq_norm"`
}

// CorrelationConfig configures the cross-correlation stage.
type CorrelationConfig struct {
	// MaxLagSec is the correlation lag extent on each side, in seconds.
	MaxLagSec float64 `yaml:"max_lag_sec"`

	// IncludeAutoCorr also correlates each channel with itself.
	IncludeAutoCorr bool `yaml:"include_autocorr"`
}

// StackingConfig configures the stacking stage.
type StackingConfig struct {
	// Method is the stacking method name; "all" runs every method.
	Method string `yaml:"method"`

	// NRoot is the root order for the nroot method.
	NRoot int `yaml:"nroot"`
}

// ResourcesConfig bounds per-worker memory and parallelism.
type ResourcesConfig struct {
	// MaxMemGB is the per-worker memory ceiling in GB.
	MaxMemGB float64 `yaml:"max_mem_gb"`

	// Workers is the fixed size of the acquisition worker pool.
	Workers int `yaml:"workers"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Acquisition: AcquisitionConfig{
			IncHours: 24,
			Networks: []string{"CI"},
			Stations: []string{"*"},
			Channels: []string{"BHE", "BHN", "BHZ"},
			Bounds: BoundingBox{
				MinLat: -90, MaxLat: 90,
				MinLon: -180, MaxLon: 180,
			},
		},
		Processing: ProcessingConfig{
			SampFreq: 20,
			FreqMin:  0.05,
			FreqMax:  2,
			CCLen:    1800,
			Step:     450,
			FreqNorm: "rma",
		},
		Correlation: CorrelationConfig{
			MaxLagSec: 200,
		},
		Stacking: StackingConfig{
			Method: "linear",
			NRoot:  2,
		},
		Resources: ResourcesConfig{
			MaxMemGB: 5.0,
			Workers:  4,
		},
	}
}

// Increment returns the chunk increment as a duration.
func (c *Config) Increment() time.Duration {
	return time.Duration(c.Acquisition.IncHours) * time.Hour
}

// WindowLen returns the correlation window length as a duration.
func (c *Config) WindowLen() time.Duration {
	return time.Duration(c.Processing.CCLen) * time.Second
}

// WindowStep returns the window stride as a duration.
func (c *Config) WindowStep() time.Duration {
	return time.Duration(c.Processing.Step) * time.Second
}

// Nyquist returns the Nyquist frequency for the configured sampling rate.
func (c *Config) Nyquist() float64 {
	return c.Processing.SampFreq / 2
}
