// Package seis defines the narrow interfaces to the signal-processing
// collaborators: the correlation kernel, the stacking math, the
// preprocessing step and the station catalog. The orchestrators consume
// only these interfaces; the reference implementations in this package are
// plain, dependency-free variants that keep the pipeline runnable
// end-to-end without an external processing engine.
package seis

import (
	"context"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/model"
)

// Kernel computes one cross-correlation for one channel pair over one
// window. Failures are per-unit compute errors; the orchestrator logs and
// omits only that unit's output.
type Kernel interface {
	Correlate(ctx context.Context, a, b model.WaveformSegment, cfg *config.Config) (model.CorrelationResult, error)
}

// Stacker folds a set of window correlations into one stacked result.
type Stacker interface {
	Stack(method model.StackMethod, windows []model.CorrelationResult, cfg *config.Config) (model.StackResult, error)
}

// Preprocessor cleans one raw trace before it is persisted: gap handling,
// response removal, filtering, resampling. An empty returned segment is a
// valid outcome (full-gap data) and must not be treated as an error.
type Preprocessor interface {
	Preprocess(ctx context.Context, raw model.WaveformSegment, meta model.Station, cfg *config.Config, span chunk.TimeRange) (model.WaveformSegment, error)
}

// Catalog is the station/channel metadata lookup.
type Catalog interface {
	GetChannels(ctx context.Context, networks, stations, channels []string, span chunk.TimeRange, box config.BoundingBox) ([]model.Station, error)
}

// DataSource fetches waveform data from a remote archive or service. The
// wire protocol of any specific service lives behind this interface.
// Fetch failures are RemoteSourceError: caught per channel, logged, and
// retried on the next run.
type DataSource interface {
	Fetch(ctx context.Context, ch model.ChannelId, span chunk.TimeRange) (model.WaveformSegment, error)
}
