package parquet

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/logging"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/store"
)

// StackStore is the archive-file-backed StackStore. Layout:
//
//	<dir>/<srcChan_rcvChan>/<method>.parquet
//
// Rewriting a (pair, method) replaces the file atomically, so reruns
// converge on the latest result.
type StackStore struct {
	dir  string
	opts Options
	log  *slog.Logger
}

var _ store.StackStore = (*StackStore)(nil)

// NewStackStore opens (creating if needed) a stack store rooted at dir.
func NewStackStore(dir string) (*StackStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create stack store directory")
	}
	return &StackStore{
		dir:  dir,
		opts: DefaultOptions(),
		log:  logging.Component("stackstore"),
	}, nil
}

// Write implements store.StackStore. An existing (pair, method) entry is
// overwritten.
func (s *StackStore) Write(ctx context.Context, res model.StackResult) error {
	row := StackToRow(&res)
	return WriteFile(s.methodPath(res.Pair, res.Method), []StackRow{row}, s.opts)
}

// Read implements store.StackStore.
func (s *StackStore) Read(ctx context.Context, pair model.PairKey, method model.StackMethod) (model.StackResult, error) {
	rows, err := ReadFile[StackRow](s.methodPath(pair, method))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.StackResult{}, errors.NewNotFound("stack", pair.String()+" "+method.String())
		}
		return model.StackResult{}, err
	}
	if len(rows) == 0 {
		return model.StackResult{}, errors.NewNotFound("stack", pair.String()+" "+method.String())
	}
	return RowToStack(&rows[0])
}

// Pairs implements store.StackStore.
func (s *StackStore) Pairs(ctx context.Context) ([]model.PairKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list stack store")
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

// Methods lists the stack methods stored for one pair.
func (s *StackStore) Methods(ctx context.Context, pair model.PairKey) ([]model.StackMethod, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, pair.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list pair methods")
	}

	var methods []model.StackMethod
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		m, err := model.ParseStackMethod(strings.TrimSuffix(e.Name(), Ext))
		if err != nil {
			s.log.Warn("skipping unrecognized method file", "name", e.Name())
			continue
		}
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods, nil
}

// Close implements store.StackStore.
func (s *StackStore) Close() error { return nil }

func (s *StackStore) methodPath(pair model.PairKey, method model.StackMethod) string {
	return filepath.Join(s.dir, pair.String(), method.String()+Ext)
}
