package s3

import (
	"bytes"
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/logging"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/store"
	"github.com/seisnoise/seisnoise/internal/store/parquet"
)

// RawStore is the S3-backed RawDataStore. Keys:
//
//	<prefix>/<NET.STA.LOC.CHA>/<startTend>.parquet
type RawStore struct {
	client *Client
	prefix string
	log    *slog.Logger
}

var _ store.RawDataStore = (*RawStore)(nil)

// NewRawStore opens a raw store under prefix in the client's bucket.
func NewRawStore(client *Client, prefix string) *RawStore {
	return &RawStore{
		client: client,
		prefix: normalizePrefix(prefix),
		log:    logging.Component("rawstore"),
	}
}

// GetChannels implements store.RawDataStore.
func (s *RawStore) GetChannels(ctx context.Context) ([]model.ChannelId, error) {
	names, err := s.client.listPrefixes(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	var channels []model.ChannelId
	for _, name := range names {
		ch, err := model.ParseChannelId(name)
		if err != nil {
			s.log.Warn("skipping unrecognized prefix", "name", name)
			continue
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// GetTimespans implements store.RawDataStore.
func (s *RawStore) GetTimespans(ctx context.Context, ch model.ChannelId) ([]chunk.TimeRange, error) {
	keys, err := s.client.listKeys(ctx, s.prefix+ch.String()+"/")
	if err != nil {
		return nil, err
	}

	var spans []chunk.TimeRange
	for _, key := range keys {
		if !strings.HasSuffix(key, parquet.Ext) {
			continue
		}
		span, err := chunk.ParseFileTag(strings.TrimSuffix(key, parquet.Ext))
		if err != nil {
			s.log.Warn("skipping unrecognized span key", "key", key)
			continue
		}
		spans = append(spans, span)
	}
	// listKeys sorts lexicographically, which for the fixed-width tag
	// format is chronological order already.
	return spans, nil
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
		body, err := s.client.get(ctx, s.spanKey(ch, st))
		if err != nil {
			return model.WaveformSegment{}, err
		}
		rows, err := parquet.DecodeBytes[parquet.SegmentRow](body)
		if err != nil {
			return model.WaveformSegment{}, errors.Wrapf(err, "decode span %s", st)
		}
		for i := range rows {
			parts = append(parts, parquet.RowToSegment(&rows[i]))
		}
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

	row := parquet.SegmentToRow(&seg)
	body, err := encodeRows([]parquet.SegmentRow{row})
	if err != nil {
		return err
	}
	return s.client.put(ctx, s.spanKey(seg.Channel, seg.Span), body)
}

func (s *RawStore) spanKey(ch model.ChannelId, span chunk.TimeRange) string {
	return s.prefix + path.Join(ch.String(), span.FileTag()+parquet.Ext)
}

// CCStore is the S3-backed CrossCorrelationStore. Keys:
//
//	<prefix>/<srcChan_rcvChan>/<startTend>.parquet
type CCStore struct {
	client *Client
	prefix string
	mode   store.Mode
	log    *slog.Logger
}

var _ store.CrossCorrelationStore = (*CCStore)(nil)

// NewCCStore opens a correlation store under prefix in the given mode.
func NewCCStore(client *Client, prefix string, mode store.Mode) *CCStore {
	return &CCStore{
		client: client,
		prefix: normalizePrefix(prefix),
		mode:   mode,
		log:    logging.Component("ccstore"),
	}
}

// Mode implements store.CrossCorrelationStore.
func (s *CCStore) Mode() store.Mode { return s.mode }

// Contains implements store.CrossCorrelationStore.
func (s *CCStore) Contains(ctx context.Context, pair model.PairKey, window chunk.TimeRange) (bool, error) {
	return s.client.exists(ctx, s.windowKey(pair, window))
}

// Write implements store.CrossCorrelationStore.
func (s *CCStore) Write(ctx context.Context, res model.CorrelationResult) error {
	if s.mode != store.ModeWrite {
		return errors.ErrReadOnlyStore
	}
	row := parquet.CorrelationToRow(&res)
	body, err := encodeRows([]parquet.CorrelationRow{row})
	if err != nil {
		return err
	}
	return s.client.put(ctx, s.windowKey(res.Pair, res.Window), body)
}

// Pairs implements store.CrossCorrelationStore. Read mode only.
func (s *CCStore) Pairs(ctx context.Context) ([]model.PairKey, error) {
	if s.mode != store.ModeRead {
		return nil, errors.ErrWriteOnlyStore
	}
	names, err := s.client.listPrefixes(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	var pairs []model.PairKey
	for _, name := range names {
		pair, err := model.ParsePairKey(name)
		if err != nil {
			s.log.Warn("skipping unrecognized prefix", "name", name)
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// ReadAll implements store.CrossCorrelationStore. Read mode only.
func (s *CCStore) ReadAll(ctx context.Context, pair model.PairKey) (store.WindowCursor, error) {
	if s.mode != store.ModeRead {
		return nil, errors.ErrWriteOnlyStore
	}
	pairPrefix := s.prefix + pair.String() + "/"
	keys, err := s.client.listKeys(ctx, pairPrefix)
	if err != nil {
		return nil, err
	}

	var windows []string
	for _, key := range keys {
		if !strings.HasSuffix(key, parquet.Ext) {
			continue
		}
		if _, err := chunk.ParseFileTag(strings.TrimSuffix(key, parquet.Ext)); err != nil {
			s.log.Warn("skipping unrecognized window key", "key", key)
			continue
		}
		windows = append(windows, pairPrefix+key)
	}
	return &ccCursor{ctx: ctx, client: s.client, keys: windows}, nil
}

// Close implements store.CrossCorrelationStore.
func (s *CCStore) Close() error { return nil }

func (s *CCStore) windowKey(pair model.PairKey, window chunk.TimeRange) string {
	return s.prefix + path.Join(pair.String(), window.FileTag()+parquet.Ext)
}

// ccCursor fetches one window object per Next call.
type ccCursor struct {
	ctx    context.Context
	client *Client
	keys   []string
	pos    int
}

var _ store.WindowCursor = (*ccCursor)(nil)

func (c *ccCursor) Next() (model.CorrelationResult, bool, error) {
	if c.pos >= len(c.keys) {
		return model.CorrelationResult{}, false, nil
	}
	key := c.keys[c.pos]
	c.pos++

	body, err := c.client.get(c.ctx, key)
	if err != nil {
		return model.CorrelationResult{}, false, err
	}
	rows, err := parquet.DecodeBytes[parquet.CorrelationRow](body)
	if err != nil {
		return model.CorrelationResult{}, false, errors.Wrapf(err, "decode window %s", path.Base(key))
	}
	if len(rows) == 0 {
		return c.Next()
	}
	res, err := parquet.RowToCorrelation(&rows[0])
	if err != nil {
		return model.CorrelationResult{}, false, err
	}
	return res, true, nil
}

func (c *ccCursor) Close() error {
	c.pos = len(c.keys)
	return nil
}

// StackStore is the S3-backed StackStore. Keys:
//
//	<prefix>/<srcChan_rcvChan>/<method>.parquet
type StackStore struct {
	client *Client
	prefix string
	log    *slog.Logger
}

var _ store.StackStore = (*StackStore)(nil)

// NewStackStore opens a stack store under prefix.
func NewStackStore(client *Client, prefix string) *StackStore {
	return &StackStore{
		client: client,
		prefix: normalizePrefix(prefix),
		log:    logging.Component("stackstore"),
	}
}

// Write implements store.StackStore. An existing (pair, method) entry is
// overwritten.
func (s *StackStore) Write(ctx context.Context, res model.StackResult) error {
	row := parquet.StackToRow(&res)
	body, err := encodeRows([]parquet.StackRow{row})
	if err != nil {
		return err
	}
	return s.client.put(ctx, s.methodKey(res.Pair, res.Method), body)
}

// Read implements store.StackStore.
func (s *StackStore) Read(ctx context.Context, pair model.PairKey, method model.StackMethod) (model.StackResult, error) {
	body, err := s.client.get(ctx, s.methodKey(pair, method))
	if err != nil {
		if errors.IsNotFound(err) {
			return model.StackResult{}, errors.NewNotFound("stack", pair.String()+" "+method.String())
		}
		return model.StackResult{}, err
	}
	rows, err := parquet.DecodeBytes[parquet.StackRow](body)
	if err != nil {
		return model.StackResult{}, errors.Wrapf(err, "decode stack %s", method)
	}
	if len(rows) == 0 {
		return model.StackResult{}, errors.NewNotFound("stack", pair.String()+" "+method.String())
	}
	return parquet.RowToStack(&rows[0])
}

// Pairs implements store.StackStore.
func (s *StackStore) Pairs(ctx context.Context) ([]model.PairKey, error) {
	names, err := s.client.listPrefixes(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	var pairs []model.PairKey
	for _, name := range names {
		pair, err := model.ParsePairKey(name)
		if err != nil {
			s.log.Warn("skipping unrecognized prefix", "name", name)
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// Close implements store.StackStore.
func (s *StackStore) Close() error { return nil }

func (s *StackStore) methodKey(pair model.PairKey, method model.StackMethod) string {
	return s.prefix + path.Join(pair.String(), method.String()+parquet.Ext)
}

// normalizePrefix ensures a non-empty prefix ends in exactly one slash.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func encodeRows[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Encode(&buf, rows, parquet.DefaultOptions()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
