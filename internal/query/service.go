// Package query provides SQL inspection over the Parquet stores.
//
// It runs an in-memory DuckDB instance and reads the store files in
// place, so no data is copied or converted. Only the Parquet backend can
// be inspected this way.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/store/factory"
)

// Service provides query capabilities over a working directory.
type Service struct {
	root string
	db   *sql.DB
}

// New opens an in-memory DuckDB over the working directory at root.
func New(root, memoryLimit string) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, "open duckdb")
	}
	if memoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", memoryLimit)); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "set memory limit")
		}
	}
	return &Service{root: root, db: db}, nil
}

// Close releases the database.
func (s *Service) Close() error {
	return s.db.Close()
}

// Coverage summarizes the raw store: spans and covered range per channel.
type Coverage struct {
	Network  string
	Station  string
	Channel  string
	Location string
	Spans    int64
	First    time.Time
	Last     time.Time
}

// RawCoverage reports per-channel raw data coverage.
func (s *Service) RawCoverage(ctx context.Context) ([]Coverage, error) {
	pattern := filepath.Join(s.root, factory.RawDir, "*", "*.parquet")
	query := `
		SELECT
			network, station, channel, location,
			count(*) AS spans,
			min(start_ms), max(end_ms)
		FROM read_parquet($1)
		GROUP BY network, station, channel, location
		ORDER BY network, station, channel, location
	`
	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		// No files yet means nothing to report.
		return nil, nil
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var c Coverage
		var firstMs, lastMs int64
		if err := rows.Scan(&c.Network, &c.Station, &c.Channel, &c.Location, &c.Spans, &firstMs, &lastMs); err != nil {
			return nil, errors.Wrap(err, "scan coverage row")
		}
		c.First = time.UnixMilli(firstMs).UTC()
		c.Last = time.UnixMilli(lastMs).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// PairWindows summarizes the correlation store: window count and covered
// range per pair.
type PairWindows struct {
	Source   string
	Receiver string
	Windows  int64
	First    time.Time
	Last     time.Time
}

// CorrelationWindows reports per-pair correlation window counts.
func (s *Service) CorrelationWindows(ctx context.Context) ([]PairWindows, error) {
	pattern := filepath.Join(s.root, factory.CCDir, "*", "*.parquet")
	query := `
		SELECT
			source, receiver,
			count(*) AS windows,
			min(start_ms), max(end_ms)
		FROM read_parquet($1)
		GROUP BY source, receiver
		ORDER BY source, receiver
	`
	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var out []PairWindows
	for rows.Next() {
		var p PairWindows
		var firstMs, lastMs int64
		if err := rows.Scan(&p.Source, &p.Receiver, &p.Windows, &firstMs, &lastMs); err != nil {
			return nil, errors.Wrap(err, "scan window row")
		}
		p.First = time.UnixMilli(firstMs).UTC()
		p.Last = time.UnixMilli(lastMs).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// StackEntry summarizes one stored stack.
type StackEntry struct {
	Source      string
	Receiver    string
	Method      string
	WindowCount int64
}

// Stacks reports the stored stacked results.
func (s *Service) Stacks(ctx context.Context) ([]StackEntry, error) {
	pattern := filepath.Join(s.root, factory.StackDir, "*", "*.parquet")
	query := `
		SELECT source, receiver, method, window_count
		FROM read_parquet($1)
		ORDER BY source, receiver, method
	`
	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var out []StackEntry
	for rows.Next() {
		var e StackEntry
		if err := rows.Scan(&e.Source, &e.Receiver, &e.Method, &e.WindowCount); err != nil {
			return nil, errors.Wrap(err, "scan stack row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Query runs an arbitrary SQL statement and returns the column names and
// rows rendered as strings. Intended for ad hoc inspection from the CLI.
func (s *Service) Query(ctx context.Context, stmt string) ([]string, [][]string, error) {
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, "columns")
	}

	var out [][]string
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errors.Wrap(err, "scan row")
		}
		rec := make([]string, len(cols))
		for i, v := range vals {
			if v == nil {
				rec[i] = "NULL"
				continue
			}
			rec[i] = fmt.Sprintf("%v", v)
		}
		out = append(out, rec)
	}
	return cols, out, rows.Err()
}
