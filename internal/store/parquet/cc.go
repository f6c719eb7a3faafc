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

// CCStore is the archive-file-backed CrossCorrelationStore. Layout:
//
//	<dir>/<srcChan_rcvChan>/<startTend>.parquet
//
// One file per (pair, window), so concurrent workers owning different
// windows never write the same file.
type CCStore struct {
	dir  string
	mode store.Mode
	opts Options
	log  *slog.Logger
}

var _ store.CrossCorrelationStore = (*CCStore)(nil)

// NewCCStore opens a correlation store rooted at dir in the given mode.
func NewCCStore(dir string, mode store.Mode) (*CCStore, error) {
	if mode == store.ModeWrite {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create correlation store directory")
		}
	} else if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrap(err, "open correlation store")
	}
	return &CCStore{
		dir:  dir,
		mode: mode,
		opts: DefaultOptions(),
		log:  logging.Component("ccstore"),
	}, nil
}

// Mode implements store.CrossCorrelationStore.
func (s *CCStore) Mode() store.Mode { return s.mode }

// Contains implements store.CrossCorrelationStore. Allowed in either mode.
func (s *CCStore) Contains(ctx context.Context, pair model.PairKey, window chunk.TimeRange) (bool, error) {
	_, err := os.Stat(s.windowPath(pair, window))
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
	row := CorrelationToRow(&res)
	return WriteFile(s.windowPath(res.Pair, res.Window), []CorrelationRow{row}, s.opts)
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

// ReadAll implements store.CrossCorrelationStore. Each call returns a fresh
// cursor positioned before the first window, ordered by window start time.
func (s *CCStore) ReadAll(ctx context.Context, pair model.PairKey) (store.WindowCursor, error) {
	if s.mode != store.ModeRead {
		return nil, errors.ErrWriteOnlyStore
	}
	pairDir := filepath.Join(s.dir, pair.String())
	entries, err := os.ReadDir(pairDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &ccCursor{}, nil
		}
		return nil, errors.Wrap(err, "list pair windows")
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		if _, err := chunk.ParseFileTag(strings.TrimSuffix(e.Name(), Ext)); err != nil {
			s.log.Warn("skipping unrecognized window file", "name", e.Name())
			continue
		}
		files = append(files, filepath.Join(pairDir, e.Name()))
	}
	sort.Strings(files)
	return &ccCursor{files: files}, nil
}

// Close implements store.CrossCorrelationStore.
func (s *CCStore) Close() error { return nil }

func (s *CCStore) windowPath(pair model.PairKey, window chunk.TimeRange) string {
	return filepath.Join(s.dir, pair.String(), window.FileTag()+Ext)
}

// ccCursor walks the window files of one pair lazily, one file per Next.
type ccCursor struct {
	files []string
	pos   int
}

var _ store.WindowCursor = (*ccCursor)(nil)

func (c *ccCursor) Next() (model.CorrelationResult, bool, error) {
	if c.pos >= len(c.files) {
		return model.CorrelationResult{}, false, nil
	}
	path := c.files[c.pos]
	c.pos++

	rows, err := ReadFile[CorrelationRow](path)
	if err != nil {
		return model.CorrelationResult{}, false, errors.Wrapf(err, "read window %s", filepath.Base(path))
	}
	if len(rows) == 0 {
		return c.Next()
	}
	res, err := RowToCorrelation(&rows[0])
	if err != nil {
		return model.CorrelationResult{}, false, err
	}
	return res, true, nil
}

func (c *ccCursor) Close() error {
	c.pos = len(c.files)
	return nil
}
