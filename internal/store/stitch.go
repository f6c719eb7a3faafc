package store

import (
	"sort"
	"time"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
)

// Stitch trims the given segments to span and concatenates the contiguous
// run starting at the earliest overlapping sample. The result's Span
// reports the range actually covered, which may be smaller than requested.
// Shared by backends so that all of them trim and join identically.
func Stitch(ch model.ChannelId, span chunk.TimeRange, parts []model.WaveformSegment) (model.WaveformSegment, error) {
	if len(parts) == 0 {
		return model.WaveformSegment{}, errors.NewNotFound("waveform", ch.String()+" "+span.String())
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Span.Start.Before(parts[j].Span.Start) })

	rate := parts[0].SampleRate
	samplePeriod := time.Duration(float64(time.Second) / rate)

	out := model.WaveformSegment{Channel: ch, SampleRate: rate}
	for _, p := range parts {
		if p.SampleRate != rate {
			return model.WaveformSegment{}, errors.Wrapf(errors.ErrCompute,
				"sample rate mismatch %.1f vs %.1f for %s", p.SampleRate, rate, ch)
		}
		trimmed, ok := Trim(p, span)
		if !ok {
			continue
		}
		if out.IsEmpty() {
			out.Span = trimmed.Span
			out.Data = trimmed.Data
			continue
		}
		gap := trimmed.Span.Start.Sub(out.Span.End)
		if gap > samplePeriod/2 {
			// Non-contiguous continuation; stop at the break.
			break
		}
		if gap < -samplePeriod/2 {
			// Overlapping part: drop the leading samples already covered.
			k := int(-gap.Seconds()*rate + 0.5)
			if k >= len(trimmed.Data) {
				continue
			}
			trimmed.Data = trimmed.Data[k:]
			trimmed.Span.Start = out.Span.End
		}
		out.Data = append(out.Data, trimmed.Data...)
		out.Span.End = trimmed.Span.End
	}
	if out.IsEmpty() {
		return model.WaveformSegment{}, errors.NewNotFound("waveform", ch.String()+" "+span.String())
	}
	return out, nil
}

// Trim slices a segment's samples down to its intersection with span.
// Returns false when the segment does not overlap the span.
func Trim(seg model.WaveformSegment, span chunk.TimeRange) (model.WaveformSegment, bool) {
	if !seg.Span.Overlaps(span) || seg.IsEmpty() {
		return model.WaveformSegment{}, false
	}

	start := seg.Span.Start
	if span.Start.After(start) {
		start = span.Start
	}
	end := seg.Span.End
	if span.End.Before(end) {
		end = span.End
	}

	i0 := int(start.Sub(seg.Span.Start).Seconds() * seg.SampleRate)
	i1 := int(end.Sub(seg.Span.Start).Seconds() * seg.SampleRate)
	if i1 > len(seg.Data) {
		i1 = len(seg.Data)
	}
	if i0 >= i1 {
		return model.WaveformSegment{}, false
	}

	return model.WaveformSegment{
		Channel:    seg.Channel,
		Span:       chunk.TimeRange{Start: start, End: end},
		SampleRate: seg.SampleRate,
		Data:       seg.Data[i0:i1],
	}, true
}
