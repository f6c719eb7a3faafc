package seis

import (
	"context"
	"math"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
)

// ReferenceKernel is a plain lag-domain cross-correlation. It computes the
// normalized correlation over [-max_lag, +max_lag] directly, without an FFT,
// which keeps it exact and dependency-free at the cost of O(n*lag) work.
type ReferenceKernel struct{}

// NewReferenceKernel returns the built-in correlation kernel.
func NewReferenceKernel() *ReferenceKernel {
	return &ReferenceKernel{}
}

// Correlate implements Kernel.
func (k *ReferenceKernel) Correlate(ctx context.Context, a, b model.WaveformSegment, cfg *config.Config) (model.CorrelationResult, error) {
	if a.IsEmpty() || b.IsEmpty() {
		return model.CorrelationResult{}, errors.Wrap(errors.ErrInsufficientSamples, "empty segment")
	}
	if a.SampleRate != b.SampleRate {
		return model.CorrelationResult{}, errors.Wrapf(errors.ErrCompute,
			"sample rate mismatch %.1f vs %.1f", a.SampleRate, b.SampleRate)
	}

	n := len(a.Data)
	if len(b.Data) < n {
		n = len(b.Data)
	}
	maxLag := int(cfg.Correlation.MaxLagSec * a.SampleRate)
	if maxLag >= n {
		return model.CorrelationResult{}, errors.Wrapf(errors.ErrInsufficientSamples,
			"window of %d samples shorter than max lag %d", n, maxLag)
	}

	da := demean(a.Data[:n])
	db := demean(b.Data[:n])

	norm := math.Sqrt(energy(da) * energy(db))
	if norm == 0 {
		return model.CorrelationResult{}, errors.Wrap(errors.ErrInsufficientSamples, "zero-energy window")
	}

	out := make([]float32, 2*maxLag+1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		var sum float64
		for i := 0; i < n; i++ {
			j := i + lag
			if j < 0 || j >= n {
				continue
			}
			sum += da[i] * db[j]
		}
		out[lag+maxLag] = float32(sum / norm)
	}

	return model.CorrelationResult{
		Pair:       model.NewPairKey(a.Channel, b.Channel),
		Window:     a.Span,
		SampleRate: a.SampleRate,
		Data:       out,
		MaxLagSec:  cfg.Correlation.MaxLagSec,
	}, nil
}

// ReferencePreprocessor demeans the trace and trims it to the requested
// span. Response removal, filtering and resampling belong to an external
// processing engine behind the Preprocessor interface.
type ReferencePreprocessor struct{}

// NewReferencePreprocessor returns the built-in preprocessor.
func NewReferencePreprocessor() *ReferencePreprocessor {
	return &ReferencePreprocessor{}
}

// Preprocess implements Preprocessor.
func (p *ReferencePreprocessor) Preprocess(ctx context.Context, raw model.WaveformSegment, meta model.Station, cfg *config.Config, span chunk.TimeRange) (model.WaveformSegment, error) {
	if raw.IsEmpty() {
		// Full-gap data: empty output is valid, not an error.
		return model.WaveformSegment{Channel: raw.Channel, Span: span, SampleRate: raw.SampleRate}, nil
	}

	vals := demean(raw.Data)
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}

	seg := raw
	seg.Data = out
	if seg.SampleRate == 0 {
		seg.SampleRate = cfg.Processing.SampFreq
	}

	// Stamp the requested span only when the samples actually cover it. A
	// short response keeps its fetched span, so the shortfall stays in the
	// store's missing ranges and is requested again on the next run.
	want := int(span.Duration().Seconds() * seg.SampleRate)
	if len(out) >= want {
		seg.Span = span
		seg.Data = out[:want]
	}
	return seg, nil
}

func demean(data []float32) []float64 {
	var mean float64
	for _, v := range data {
		mean += float64(v)
	}
	mean /= float64(len(data))

	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v) - mean
	}
	return out
}

func energy(data []float64) float64 {
	var sum float64
	for _, v := range data {
		sum += v * v
	}
	return sum
}
