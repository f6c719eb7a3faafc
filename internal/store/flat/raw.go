package flat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/logging"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/store"
)

// RawStore is the flat-array RawDataStore. Layout mirrors the Parquet
// backend: <dir>/<NET.STA.LOC.CHA>/<startTend>.f32 plus sidecar.
type RawStore struct {
	dir string
	log *slog.Logger
}

var _ store.RawDataStore = (*RawStore)(nil)

// NewRawStore opens (creating if needed) a flat raw store rooted at dir.
func NewRawStore(dir string) (*RawStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create raw store directory")
	}
	return &RawStore{dir: dir, log: logging.Component("rawstore")}, nil
}

// GetChannels implements store.RawDataStore.
func (s *RawStore) GetChannels(ctx context.Context) ([]model.ChannelId, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list raw store")
	}

	var channels []model.ChannelId
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ch, err := model.ParseChannelId(e.Name())
		if err != nil {
			s.log.Warn("skipping unrecognized directory", "name", e.Name())
			continue
		}
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].String() < channels[j].String() })
	return channels, nil
}

// GetTimespans implements store.RawDataStore.
func (s *RawStore) GetTimespans(ctx context.Context, ch model.ChannelId) ([]chunk.TimeRange, error) {
	return listSpans(filepath.Join(s.dir, ch.String()), s.log)
}

// Read implements store.RawDataStore.
func (s *RawStore) Read(ctx context.Context, ch model.ChannelId, span chunk.TimeRange) (model.WaveformSegment, error) {
	spans, err := s.GetTimespans(ctx, ch)
	if err != nil {
		return model.WaveformSegment{}, err
	}

	var parts []model.WaveformSegment
	for _, st := range spans {
		if !st.Overlaps(span) {
			continue
		}
		base := s.spanBase(ch, st)
		var meta segmentMeta
		if err := readSidecar(base, &meta); err != nil {
			return model.WaveformSegment{}, errors.Wrapf(err, "read span %s", st)
		}
		data, err := readPayload(base)
		if err != nil {
			return model.WaveformSegment{}, errors.Wrapf(err, "read span %s", st)
		}
		parts = append(parts, model.WaveformSegment{
			Channel:    ch,
			Span:       chunk.TimeRange{Start: meta.Start, End: meta.End},
			SampleRate: meta.SampleRate,
			Data:       data,
		})
	}
	return store.Stitch(ch, span, parts)
}

// Save implements store.RawDataStore.
func (s *RawStore) Save(ctx context.Context, seg model.WaveformSegment) error {
	if seg.IsEmpty() {
		s.log.Debug("empty segment, nothing to save", "channel", seg.Channel)
		return nil
	}

	existing, err := s.GetTimespans(ctx, seg.Channel)
	if err != nil {
		return err
	}
	if len(chunk.MissingSpans(seg.Span, existing)) == 0 {
		s.log.Debug("span already present", "channel", seg.Channel, "span", seg.Span)
		return nil
	}

	meta := segmentMeta{
		Channel:    seg.Channel.String(),
		Start:      seg.Span.Start,
		End:        seg.Span.End,
		SampleRate: seg.SampleRate,
		Samples:    len(seg.Data),
	}
	return writeEntry(s.spanBase(seg.Channel, seg.Span), seg.Data, meta)
}

func (s *RawStore) spanBase(ch model.ChannelId, span chunk.TimeRange) string {
	return filepath.Join(s.dir, ch.String(), span.FileTag())
}

// listSpans enumerates the span tags with a complete sidecar in dir.
func listSpans(dir string, log *slog.Logger) ([]chunk.TimeRange, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list spans")
	}

	var spans []chunk.TimeRange
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), SidecarExt) {
			continue
		}
		span, err := chunk.ParseFileTag(strings.TrimSuffix(e.Name(), SidecarExt))
		if err != nil {
			log.Warn("skipping unrecognized sidecar", "name", e.Name())
			continue
		}
		spans = append(spans, span)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })
	return spans, nil
}
