package config

import (
	stderrors "errors"
	"fmt"

	"github.com/seisnoise/seisnoise/internal/errors"
)

// Validate checks the configuration for errors. All failures are
// configuration-level and fatal: they are reported before any parallel
// work is dispatched.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Acquisition.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("acquisition: %w", err))
	}
	if err := c.Processing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("processing: %w", err))
	}
	if err := c.Correlation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("correlation: %w", err))
	}
	if err := c.Stacking.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stacking: %w", err))
	}
	if err := c.Resources.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("resources: %w", err))
	}

	if len(errs) > 0 {
		return stderrors.Join(append(errs, errors.ErrInvalidConfig)...)
	}
	return nil
}

// Validate checks the acquisition configuration.
func (c *AcquisitionConfig) Validate() error {
	var errs []error

	if !c.Start.IsZero() || !c.End.IsZero() {
		if !c.Start.Before(c.End) {
			errs = append(errs, errors.ErrInvalidTimeRange)
		}
	}
	if c.IncHours <= 0 {
		errs = append(errs, errors.ErrInvalidIncrement)
	}
	if len(c.Channels) == 0 {
		errs = append(errs, errors.NewMissingField("channels"))
	}
	if c.Bounds.MinLat > c.Bounds.MaxLat {
		errs = append(errs, stderrors.New("bounds: min_lat must be <= max_lat"))
	}
	if c.Bounds.MinLon > c.Bounds.MaxLon {
		errs = append(errs, stderrors.New("bounds: min_lon must be <= max_lon"))
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
}

// Validate checks the processing configuration.
func (c *ProcessingConfig) Validate() error {
	var errs []error

	if c.SampFreq <= 0 {
		errs = append(errs, stderrors.New("samp_freq must be positive"))
	}
	if c.FreqMin <= 0 {
		errs = append(errs, stderrors.New("freqmin must be positive"))
	}
	if c.FreqMax <= c.FreqMin {
		errs = append(errs, stderrors.New("freqmax must be greater than freqmin"))
	}
	if c.SampFreq > 0 && c.FreqMax >= c.SampFreq/2 {
		errs = append(errs, fmt.Errorf("freqmax %.3f must stay below Nyquist %.3f", c.FreqMax, c.SampFreq/2))
	}
	if c.CCLen <= 0 {
		errs = append(errs, stderrors.New("cc_len must be positive"))
	}
	if c.Step <= 0 {
		errs = append(errs, stderrors.New("step must be positive"))
	}
	if c.Step > c.CCLen {
		errs = append(errs, stderrors.New("step must not exceed cc_len"))
	}

	validNorms := map[string]bool{
		"rma":        true,
		"no":         true,
		"phase_only": true,
		"":           true, // Empty defaults to rma
	}
	if !validNorms[c.FreqNorm] {
		errs = append(errs, stderrors.New("freq_norm must be one of: rma, no, phase_only"))
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
}

// Validate checks the correlation configuration.
func (c *CorrelationConfig) Validate() error {
	if c.MaxLagSec <= 0 {
		return stderrors.New("max_lag_sec must be positive")
	}
	return nil
}

// Validate checks the stacking configuration.
func (c *StackingConfig) Validate() error {
	var errs []error

	validMethods := map[string]bool{
		"linear": true, "pws": true, "robust": true, "nroot": true,
		"selective": true, "auto_covariance": true, "all": true, "": true,
	}
	if !validMethods[c.Method] {
		errs = append(errs, fmt.Errorf("unknown stacking method: %s", c.Method))
	}
	if c.NRoot < 1 {
		errs = append(errs, stderrors.New("nroot must be at least 1"))
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
}

// Validate checks the resources configuration.
func (c *ResourcesConfig) Validate() error {
	var errs []error

	if c.MaxMemGB <= 0 {
		errs = append(errs, stderrors.New("max_mem_gb must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, stderrors.New("workers must be positive"))
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return nil
}
