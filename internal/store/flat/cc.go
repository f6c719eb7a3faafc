package flat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/logging"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/store"
)

// CCStore is the flat-array CrossCorrelationStore.
type CCStore struct {
	dir  string
	mode store.Mode
	log  *slog.Logger
}

var _ store.CrossCorrelationStore = (*CCStore)(nil)

// NewCCStore opens a flat correlation store rooted at dir in the given mode.
func NewCCStore(dir string, mode store.Mode) (*CCStore, error) {
	if mode == store.ModeWrite {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create correlation store directory")
		}
	} else if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrap(err, "open correlation store")
	}
	return &CCStore{dir: dir, mode: mode, log: logging.Component("ccstore")}, nil
}

// Mode implements store.CrossCorrelationStore.
func (s *CCStore) Mode() store.Mode { return s.mode }

// Contains implements store.CrossCorrelationStore. Allowed in either mode.
func (s *CCStore) Contains(ctx context.Context, pair model.PairKey, window chunk.TimeRange) (bool, error) {
	_, err := os.Stat(s.windowBase(pair, window) + SidecarExt)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "stat correlation window")
}

// Write implements store.CrossCorrelationStore.
func (s *CCStore) Write(ctx context.Context, res model.CorrelationResult) error {
	if s.mode != store.ModeWrite {
		return errors.ErrReadOnlyStore
	}
	meta := correlationMeta{
		Source:     res.Pair.Source.String(),
		Receiver:   res.Pair.Receiver.String(),
		Start:      res.Window.Start,
		End:        res.Window.End,
		SampleRate: res.SampleRate,
		MaxLagSec:  res.MaxLagSec,
		Samples:    len(res.Data),
	}
	return writeEntry(s.windowBase(res.Pair, res.Window), res.Data, meta)
}

// Pairs implements store.CrossCorrelationStore. Read mode only.
func (s *CCStore) Pairs(ctx context.Context) ([]model.PairKey, error) {
	if s.mode != store.ModeRead {
		return nil, errors.ErrWriteOnlyStore
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list correlation store")
	}

	var pairs []model.PairKey
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pair, err := model.ParsePairKey(e.Name())
		if err != nil {
			s.log.Warn("skipping unrecognized directory", "name", e.Name())
			continue
		}
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs, nil
}

// ReadAll implements store.CrossCorrelationStore. Read mode only.
func (s *CCStore) ReadAll(ctx context.Context, pair model.PairKey) (store.WindowCursor, error) {
	if s.mode != store.ModeRead {
		return nil, errors.ErrWriteOnlyStore
	}
	pairDir := filepath.Join(s.dir, pair.String())
	spans, err := listSpans(pairDir, s.log)
	if err != nil {
		return nil, err
	}
	return &ccCursor{pair: pair, dir: pairDir, windows: spans}, nil
}

// Close implements store.CrossCorrelationStore.
func (s *CCStore) Close() error { return nil }

func (s *CCStore) windowBase(pair model.PairKey, window chunk.TimeRange) string {
	return filepath.Join(s.dir, pair.String(), window.FileTag())
}

// ccCursor walks the window entries of one pair lazily.
type ccCursor struct {
	pair    model.PairKey
	dir     string
	windows []chunk.TimeRange
	pos     int
}

var _ store.WindowCursor = (*ccCursor)(nil)

func (c *ccCursor) Next() (model.CorrelationResult, bool, error) {
	if c.pos >= len(c.windows) {
		return model.CorrelationResult{}, false, nil
	}
	win := c.windows[c.pos]
	c.pos++

	base := filepath.Join(c.dir, win.FileTag())
	var meta correlationMeta
	if err := readSidecar(base, &meta); err != nil {
		return model.CorrelationResult{}, false, errors.Wrapf(err, "read window %s", win.FileTag())
	}
	data, err := readPayload(base)
	if err != nil {
		return model.CorrelationResult{}, false, errors.Wrapf(err, "read window %s", win.FileTag())
	}
	return model.CorrelationResult{
		Pair:       c.pair,
		Window:     chunk.TimeRange{Start: meta.Start, End: meta.End},
		SampleRate: meta.SampleRate,
		MaxLagSec:  meta.MaxLagSec,
		Data:       data,
	}, true, nil
}

func (c *ccCursor) Close() error {
	c.pos = len(c.windows)
	return nil
}
