// Package store defines the capability interfaces between pipeline stages.
//
// Every stage boundary is a store, not a direct call: acquisition writes
// raw waveforms, cross-correlation reads them and writes per-window
// results, stacking reads those and writes stacked products. Any stage can
// therefore be rerun independently against persisted state. Callers are
// polymorphic over these interfaces and never branch on the backing
// technology except through the factory.
package store

import (
	"context"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/model"
)

// Mode is the open mode of a cross-correlation store. Mixing reads and
// writes within one instance is disallowed by contract: concurrent readers
// must not observe partial writes, so an instance opened for reading never
// calls Write.
type Mode int

const (
	// ModeWrite opens the store for appending results.
	ModeWrite Mode = iota
	// ModeRead opens the store for enumeration and retrieval.
	ModeRead
)

// String returns "read" or "write".
func (m Mode) String() string {
	if m == ModeRead {
		return "read"
	}
	return "write"
}

// RawDataStore exposes continuous waveform data per channel and chunk.
//
// Save is idempotent: saving a span already fully present is a no-op, and
// partially covered spans are merged so that only missing sub-ranges ever
// need to be requested from the external source.
type RawDataStore interface {
	// GetChannels enumerates every channel with any persisted data.
	GetChannels(ctx context.Context) ([]model.ChannelId, error)

	// GetTimespans returns the already-available spans of one channel in
	// ascending order. Used for resumability checks and gap computation.
	GetTimespans(ctx context.Context, ch model.ChannelId) ([]chunk.TimeRange, error)

	// Read returns the channel's waveform over the given span. Fails with
	// NotFound if no persisted data overlaps the span.
	Read(ctx context.Context, ch model.ChannelId, span chunk.TimeRange) (model.WaveformSegment, error)

	// Save persists one segment idempotently.
	Save(ctx context.Context, seg model.WaveformSegment) error
}

// WindowCursor is a lazy, finite sequence of a pair's correlation windows.
// A cursor is not restartable; obtain a fresh one from ReadAll to iterate
// again.
type WindowCursor interface {
	// Next returns the next window result. ok is false once the sequence
	// is exhausted.
	Next() (res model.CorrelationResult, ok bool, err error)

	// Close releases the cursor.
	Close() error
}

// CrossCorrelationStore holds per-window correlation results keyed by
// pair and window. Results are created once and never mutated; Contains
// lets the orchestrator skip recomputation.
type CrossCorrelationStore interface {
	// Mode returns the mode the store was opened in.
	Mode() Mode

	// Contains reports whether a result for (pair, window) is present.
	Contains(ctx context.Context, pair model.PairKey, window chunk.TimeRange) (bool, error)

	// Write appends one result. Fails with ErrReadOnlyStore in read mode.
	Write(ctx context.Context, res model.CorrelationResult) error

	// Pairs enumerates every pair with stored results. Read mode only.
	Pairs(ctx context.Context) ([]model.PairKey, error)

	// ReadAll opens a fresh cursor over the pair's windows in ascending
	// window order. Read mode only.
	ReadAll(ctx context.Context, pair model.PairKey) (WindowCursor, error)

	// Close releases the store.
	Close() error
}

// StackStore holds stacked correlation functions keyed by pair and method.
// Stacks are derived outputs: Write overwrites any prior result for the
// same key.
type StackStore interface {
	// Write persists one stacked result, replacing any prior one.
	Write(ctx context.Context, res model.StackResult) error

	// Read returns the stack for (pair, method), or NotFound.
	Read(ctx context.Context, pair model.PairKey, method model.StackMethod) (model.StackResult, error)

	// Pairs enumerates every pair with stored stacks.
	Pairs(ctx context.Context) ([]model.PairKey, error)

	// Close releases the store.
	Close() error
}
