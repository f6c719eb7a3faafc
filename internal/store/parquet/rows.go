// Package parquet implements the archive-file-backed store variants.
//
// Each persisted unit (a channel's span, a pair's window correlation, a
// stacked product) is one small Parquet file; directories key the files by
// channel or pair. Writes go through a temp file and rename so readers
// never observe partial files.
package parquet

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/model"
)

// Options configures Parquet encoding.
type Options struct {
	// Compression algorithm: zstd, snappy, lz4, gzip, none.
	Compression string
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: "zstd"}
}

// codec returns the parquet-go compression codec.
func (o Options) codec() compress.Codec {
	switch o.Compression {
	case "snappy":
		return &parquet.Snappy
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// SegmentRow represents one waveform span in Parquet format.
type SegmentRow struct {
	Network    string    `parquet:"network,zstd"`
	Station    string    `parquet:"station,zstd"`
	Channel    string    `parquet:"channel,zstd"`
	Location   string    `parquet:"location,zstd"`
	StartMs    int64     `parquet:"start_ms"`
	EndMs      int64     `parquet:"end_ms"`
	SampleRate float64   `parquet:"sample_rate"`
	Samples    []float32 `parquet:"samples,list"`
}

// CorrelationRow represents one window correlation in Parquet format.
type CorrelationRow struct {
	Source     string    `parquet:"source,zstd"`
	Receiver   string    `parquet:"receiver,zstd"`
	StartMs    int64     `parquet:"start_ms"`
	EndMs      int64     `parquet:"end_ms"`
	SampleRate float64   `parquet:"sample_rate"`
	MaxLagSec  float64   `parquet:"max_lag_sec"`
	Data       []float32 `parquet:"data,list"`
}

// StackRow represents one stacked product in Parquet format.
type StackRow struct {
	Source      string    `parquet:"source,zstd"`
	Receiver    string    `parquet:"receiver,zstd"`
	Method      string    `parquet:"method,zstd"`
	SampleRate  float64   `parquet:"sample_rate"`
	MaxLagSec   float64   `parquet:"max_lag_sec"`
	WindowCount int32     `parquet:"window_count"`
	Data        []float32 `parquet:"data,list"`
}

// SegmentToRow converts a WaveformSegment to a SegmentRow.
func SegmentToRow(s *model.WaveformSegment) SegmentRow {
	return SegmentRow{
		Network:    s.Channel.Network,
		Station:    s.Channel.Station,
		Channel:    s.Channel.Channel,
		Location:   s.Channel.Location,
		StartMs:    s.Span.Start.UnixMilli(),
		EndMs:      s.Span.End.UnixMilli(),
		SampleRate: s.SampleRate,
		Samples:    s.Data,
	}
}

// RowToSegment converts a SegmentRow to a WaveformSegment.
func RowToSegment(r *SegmentRow) model.WaveformSegment {
	return model.WaveformSegment{
		Channel: model.ChannelId{
			Network:  r.Network,
			Station:  r.Station,
			Channel:  r.Channel,
			Location: r.Location,
		},
		Span: chunk.TimeRange{
			Start: time.UnixMilli(r.StartMs).UTC(),
			End:   time.UnixMilli(r.EndMs).UTC(),
		},
		SampleRate: r.SampleRate,
		Data:       r.Samples,
	}
}

// CorrelationToRow converts a CorrelationResult to a CorrelationRow.
func CorrelationToRow(c *model.CorrelationResult) CorrelationRow {
	return CorrelationRow{
		Source:     c.Pair.Source.String(),
		Receiver:   c.Pair.Receiver.String(),
		StartMs:    c.Window.Start.UnixMilli(),
		EndMs:      c.Window.End.UnixMilli(),
		SampleRate: c.SampleRate,
		MaxLagSec:  c.MaxLagSec,
		Data:       c.Data,
	}
}

// RowToCorrelation converts a CorrelationRow to a CorrelationResult.
func RowToCorrelation(r *CorrelationRow) (model.CorrelationResult, error) {
	src, err := model.ParseChannelId(r.Source)
	if err != nil {
		return model.CorrelationResult{}, err
	}
	rcv, err := model.ParseChannelId(r.Receiver)
	if err != nil {
		return model.CorrelationResult{}, err
	}
	return model.CorrelationResult{
		Pair: model.PairKey{Source: src, Receiver: rcv},
		Window: chunk.TimeRange{
			Start: time.UnixMilli(r.StartMs).UTC(),
			End:   time.UnixMilli(r.EndMs).UTC(),
		},
		SampleRate: r.SampleRate,
		Data:       r.Data,
		MaxLagSec:  r.MaxLagSec,
	}, nil
}

// StackToRow converts a StackResult to a StackRow.
func StackToRow(s *model.StackResult) StackRow {
	return StackRow{
		Source:      s.Pair.Source.String(),
		Receiver:    s.Pair.Receiver.String(),
		Method:      s.Method.String(),
		SampleRate:  s.SampleRate,
		MaxLagSec:   s.MaxLagSec,
		WindowCount: int32(s.WindowCount),
		Data:        s.Data,
	}
}

// RowToStack converts a StackRow to a StackResult.
func RowToStack(r *StackRow) (model.StackResult, error) {
	src, err := model.ParseChannelId(r.Source)
	if err != nil {
		return model.StackResult{}, err
	}
	rcv, err := model.ParseChannelId(r.Receiver)
	if err != nil {
		return model.StackResult{}, err
	}
	method, err := model.ParseStackMethod(r.Method)
	if err != nil {
		return model.StackResult{}, err
	}
	return model.StackResult{
		Pair:        model.PairKey{Source: src, Receiver: rcv},
		Method:      method,
		SampleRate:  r.SampleRate,
		MaxLagSec:   r.MaxLagSec,
		WindowCount: int(r.WindowCount),
		Data:        r.Data,
	}, nil
}

// Encode writes rows as one Parquet document.
func Encode[T any](w io.Writer, rows []T, opts Options) error {
	writer := parquet.NewGenericWriter[T](w, parquet.Compression(opts.codec()))
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	return writer.Close()
}

// Decode reads every row of one Parquet document.
func Decode[T any](r io.ReaderAt) ([]T, error) {
	reader := parquet.NewGenericReader[T](r)
	defer reader.Close()

	rows := make([]T, reader.NumRows())
	if len(rows) == 0 {
		return nil, nil
	}
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

// DecodeBytes decodes a Parquet document held in memory.
func DecodeBytes[T any](data []byte) ([]T, error) {
	return Decode[T](bytes.NewReader(data))
}

// WriteFile atomically writes rows to path via a temp file and rename.
func WriteFile[T any](path string, rows []T, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, rows, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile reads every row of the Parquet file at path.
func ReadFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode[T](f)
}
