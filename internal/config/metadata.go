package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/seisnoise/seisnoise/internal/errors"
)

// MetadataSchemaVersion is bumped whenever the persisted layout changes.
// Readers reject versions they do not understand.
const MetadataSchemaVersion = 1

// MetadataFile is the name of the run metadata document inside the raw
// data directory.
const MetadataFile = "download_info.yaml"

// RunMetadata is the textual record written once by acquisition and read
// once by the cross-correlation stage so acquisition parameters do not have
// to be re-specified.
type RunMetadata struct {
	SchemaVersion int       `yaml:"schema_version"`
	RunID         string    `yaml:"run_id"`
	CreatedAt     time.Time `yaml:"created_at"`

	SampFreq float64   `yaml:"samp_freq"`
	FreqMin  float64   `yaml:"freqmin"`
	FreqMax  float64   `yaml:"freqmax"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	IncHours int       `yaml:"inc_hours"`
	CCLen    int       `yaml:"cc_len"`
	Step     int       `yaml:"step"`

	// ChannelCount is the expected number of channels per station chunk,
	// used by the resumability check.
	ChannelCount int `yaml:"channel_count"`
}

// NewRunMetadata captures the effective config values of a run under a
// fresh run ID.
func NewRunMetadata(cfg *Config, channelCount int) RunMetadata {
	return RunMetadata{
		SchemaVersion: MetadataSchemaVersion,
		RunID:         uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		SampFreq:      cfg.Processing.SampFreq,
		FreqMin:       cfg.Processing.FreqMin,
		FreqMax:       cfg.Processing.FreqMax,
		Start:         cfg.Acquisition.Start,
		End:           cfg.Acquisition.End,
		IncHours:      cfg.Acquisition.IncHours,
		CCLen:         cfg.Processing.CCLen,
		Step:          cfg.Processing.Step,
		ChannelCount:  channelCount,
	}
}

// Write persists the metadata document into dir.
func (m RunMetadata) Write(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal run metadata")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create metadata directory")
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), data, 0644)
}

// ReadRunMetadata loads and validates the metadata document from dir.
func ReadRunMetadata(dir string) (RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunMetadata{}, errors.NewNotFound("run metadata", dir)
		}
		return RunMetadata{}, errors.Wrap(err, "read run metadata")
	}

	var m RunMetadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return RunMetadata{}, errors.Wrap(err, "parse run metadata")
	}
	if m.SchemaVersion != MetadataSchemaVersion {
		return RunMetadata{}, fmt.Errorf("run metadata schema version %d, want %d: %w",
			m.SchemaVersion, MetadataSchemaVersion, errors.ErrInvalidConfig)
	}
	return m, nil
}

// Apply copies the acquisition-time values onto cfg. Used by the
// cross-correlation stage: a changed configuration requires a fresh output
// location, so the persisted values win over file defaults.
func (m RunMetadata) Apply(cfg *Config) {
	cfg.Processing.SampFreq = m.SampFreq
	cfg.Processing.FreqMin = m.FreqMin
	cfg.Processing.FreqMax = m.FreqMax
	cfg.Processing.CCLen = m.CCLen
	cfg.Processing.Step = m.Step
	cfg.Acquisition.Start = m.Start
	cfg.Acquisition.End = m.End
	cfg.Acquisition.IncHours = m.IncHours
}
