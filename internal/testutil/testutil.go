// Package testutil provides in-memory collaborators for pipeline tests:
// a scripted data source, a fixed station catalog, and synthetic waveform
// generation.
package testutil

import (
	"context"
	"math"
	"sync"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/seis"
)

// Sine generates n samples of a sine at freq hz sampled at rate hz,
// offset by phase samples. Deterministic so reruns produce identical
// bytes.
func Sine(n int, freq, rate float64, phase int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(math.Sin(2 * math.Pi * freq * float64(i+phase) / rate))
	}
	return data
}

// Segment builds a synthetic waveform segment covering span at rate hz.
func Segment(ch model.ChannelId, span chunk.TimeRange, rate float64) model.WaveformSegment {
	n := int(span.Duration().Seconds() * rate)
	// Phase offset derived from the channel name keeps channels distinct
	// but reproducible.
	phase := 0
	for _, r := range ch.String() {
		phase += int(r)
	}
	return model.WaveformSegment{
		Channel:    ch,
		Span:       span,
		SampleRate: rate,
		Data:       Sine(n, 1.0, rate, phase),
	}
}

// Source is a scripted seis.DataSource. It serves synthetic waveforms,
// counts fetches per channel, and fails the channels listed in Fail.
type Source struct {
	Rate float64

	mu      sync.Mutex
	fetches map[string]int
	fail    map[string]bool
	short   map[string]bool
}

var _ seis.DataSource = (*Source)(nil)

// NewSource creates a source serving synthetic data at rate hz.
func NewSource(rate float64) *Source {
	return &Source{
		Rate:    rate,
		fetches: make(map[string]int),
		fail:    make(map[string]bool),
		short:   make(map[string]bool),
	}
}

// FailChannel makes every subsequent fetch of ch fail.
func (s *Source) FailChannel(ch model.ChannelId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[ch.String()] = true
}

// ShortChannel makes every subsequent fetch of ch return only the first
// half of the requested span, simulating a truncated remote response.
func (s *Source) ShortChannel(ch model.ChannelId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.short[ch.String()] = true
}

// Fetches returns the number of fetches issued for ch.
func (s *Source) Fetches(ch model.ChannelId) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[ch.String()]
}

// TotalFetches returns the number of fetches issued across all channels.
func (s *Source) TotalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.fetches {
		total += n
	}
	return total
}

// Fetch implements seis.DataSource.
func (s *Source) Fetch(ctx context.Context, ch model.ChannelId, span chunk.TimeRange) (model.WaveformSegment, error) {
	s.mu.Lock()
	s.fetches[ch.String()]++
	failed := s.fail[ch.String()]
	truncated := s.short[ch.String()]
	s.mu.Unlock()

	if failed {
		return model.WaveformSegment{}, errors.Wrapf(errors.ErrRemoteSource, "scripted failure for %s", ch)
	}
	if truncated {
		half := chunk.TimeRange{Start: span.Start, End: span.Start.Add(span.Duration() / 2)}
		return Segment(ch, half, s.Rate), nil
	}
	return Segment(ch, span, s.Rate), nil
}

// Catalog is a fixed seis.Catalog returning a static station list.
type Catalog struct {
	Stations []model.Station
}

var _ seis.Catalog = (*Catalog)(nil)

// NewCatalog builds a catalog over the given channels, one station entry
// per channel with synthetic coordinates.
func NewCatalog(channels ...model.ChannelId) *Catalog {
	c := &Catalog{}
	for i, ch := range channels {
		c.Stations = append(c.Stations, model.Station{
			Id:        ch,
			Latitude:  34.0 + float64(i)*0.1,
			Longitude: -118.0 - float64(i)*0.1,
			Elevation: 100,
		})
	}
	return c
}

// GetChannels implements seis.Catalog. Filters are ignored; the fixed
// list is returned as-is.
func (c *Catalog) GetChannels(ctx context.Context, networks, stations, channels []string, span chunk.TimeRange, box config.BoundingBox) ([]model.Station, error) {
	return c.Stations, nil
}
