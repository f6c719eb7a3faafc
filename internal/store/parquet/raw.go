package parquet

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

// Ext is the file extension of all Parquet store files.
const Ext = ".parquet"

// RawStore is the archive-file-backed RawDataStore. Layout:
//
//	<dir>/<NET.STA.LOC.CHA>/<startTend>.parquet
//
// One file holds exactly one span of one channel, so writes for distinct
// chunks never collide and partial downloads of a chunk stay visible as
// their own spans.
type RawStore struct {
	dir  string
	opts Options
	log  *slog.Logger
}

var _ store.RawDataStore = (*RawStore)(nil)

// NewRawStore opens (creating if needed) a raw store rooted at dir.
func NewRawStore(dir string) (*RawStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create raw store directory")
	}
	return &RawStore{
		dir:  dir,
		opts: DefaultOptions(),
		log:  logging.Component("rawstore"),
	}, nil
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
	entries, err := os.ReadDir(filepath.Join(s.dir, ch.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list channel spans")
	}

	var spans []chunk.TimeRange
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		span, err := chunk.ParseFileTag(strings.TrimSuffix(e.Name(), Ext))
		if err != nil {
			s.log.Warn("skipping unrecognized span file", "name", e.Name())
			continue
		}
		spans = append(spans, span)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })
	return spans, nil
}

// Read implements store.RawDataStore. Overlapping stored spans are trimmed
// to the request and stitched; the returned segment's Span reports the
// contiguous range actually covered, which may be smaller than requested.
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
		rows, err := ReadFile[SegmentRow](s.spanPath(ch, st))
		if err != nil {
			return model.WaveformSegment{}, errors.Wrapf(err, "read span %s", st)
		}
		for i := range rows {
			parts = append(parts, RowToSegment(&rows[i]))
		}
	}
	if len(parts) == 0 {
		return model.WaveformSegment{}, errors.NewNotFound("waveform", ch.String()+" "+span.String())
	}

	return store.Stitch(ch, span, parts)
}

// Save implements store.RawDataStore. Saving a span whose data is already
// fully present is a no-op.
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

	row := SegmentToRow(&seg)
	return WriteFile(s.spanPath(seg.Channel, seg.Span), []SegmentRow{row}, s.opts)
}

func (s *RawStore) spanPath(ch model.ChannelId, span chunk.TimeRange) string {
	return filepath.Join(s.dir, ch.String(), span.FileTag()+Ext)
}
