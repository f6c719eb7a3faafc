package model

import (
	"github.com/seisnoise/seisnoise/internal/chunk"
)

// WaveformSegment is one channel's samples over one time range. Segments
// are created per chunk by acquisition, held transiently in memory during
// one chunk's processing, and owned by whichever store persisted them.
type WaveformSegment struct {
	Channel    ChannelId
	Span       chunk.TimeRange
	SampleRate float64
	Data       []float32
}

// IsEmpty reports whether the segment carries no samples. An empty segment
// is a valid preprocessing outcome (full-gap data), not an error.
func (s WaveformSegment) IsEmpty() bool {
	return len(s.Data) == 0
}

// CorrelationResult is one cross-correlation computed over one window for
// one channel pair. Results are created once per (pair, window) and never
// mutated, only appended.
type CorrelationResult struct {
	Pair       PairKey
	Window     chunk.TimeRange
	SampleRate float64
	// Data holds correlation amplitudes over [-MaxLagSec, +MaxLagSec].
	Data      []float32
	MaxLagSec float64
}

// PeakAmplitude returns the largest absolute amplitude in the correlation
// function, used for per-pair quality summaries.
func (r CorrelationResult) PeakAmplitude() float64 {
	var peak float64
	for _, v := range r.Data {
		a := float64(v)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}

// StackResult is the summary correlation function for one pair under one
// stacking method. Stacks are derived, fully replaceable outputs.
type StackResult struct {
	Pair       PairKey
	Method     StackMethod
	SampleRate float64
	Data       []float32
	MaxLagSec  float64
	// WindowCount is the number of correlation windows folded in.
	WindowCount int
}
