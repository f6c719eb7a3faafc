// Package factory constructs store backends from configuration.
//
// Backend selection is explicit: callers name the backend they want, and
// only the CLI's auto mode falls back to sniffing an existing layout.
package factory

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/store"
	"github.com/seisnoise/seisnoise/internal/store/flat"
	"github.com/seisnoise/seisnoise/internal/store/parquet"
	s3store "github.com/seisnoise/seisnoise/internal/store/s3"
)

// Standard sub-directory (or key prefix) names of the three stores inside
// one working directory.
const (
	RawDir   = "RAW_DATA"
	CCDir    = "CCF"
	StackDir = "STACK"
)

// BackendKind names a storage backend.
type BackendKind string

const (
	// BackendParquet stores Parquet files on the local filesystem.
	BackendParquet BackendKind = "parquet"
	// BackendFlat stores raw float32 arrays with YAML sidecars.
	BackendFlat BackendKind = "flat"
	// BackendS3 stores Parquet objects in an S3 bucket.
	BackendS3 BackendKind = "s3"
)

// ParseBackendKind validates a backend name.
func ParseBackendKind(s string) (BackendKind, error) {
	switch BackendKind(s) {
	case BackendParquet, BackendFlat, BackendS3:
		return BackendKind(s), nil
	}
	return "", errors.Wrapf(errors.ErrUnknownBackend, "%q", s)
}

// Options selects and parameterizes a backend.
type Options struct {
	// Kind is the backend to construct.
	Kind BackendKind

	// Root is the working directory (filesystem backends) or the key
	// prefix inside the bucket (S3 backend).
	Root string

	// S3 configures the S3 client. Ignored by filesystem backends.
	S3 s3store.Config
}

// Factory opens the three pipeline stores of one working directory.
type Factory struct {
	opts   Options
	client *s3store.Client
}

// New builds a factory, establishing the S3 client eagerly so that
// credential problems surface at startup rather than mid-pipeline.
func New(ctx context.Context, opts Options) (*Factory, error) {
	f := &Factory{opts: opts}
	if opts.Kind == BackendS3 {
		client, err := s3store.NewClient(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		f.client = client
	}
	return f, nil
}

// OpenRaw opens the raw waveform store.
func (f *Factory) OpenRaw(ctx context.Context) (store.RawDataStore, error) {
	switch f.opts.Kind {
	case BackendParquet:
		return parquet.NewRawStore(filepath.Join(f.opts.Root, RawDir))
	case BackendFlat:
		return flat.NewRawStore(filepath.Join(f.opts.Root, RawDir))
	case BackendS3:
		return s3store.NewRawStore(f.client, f.opts.Root+"/"+RawDir), nil
	}
	return nil, errors.Wrapf(errors.ErrUnknownBackend, "%q", f.opts.Kind)
}

// OpenCC opens the cross-correlation store in the given mode.
func (f *Factory) OpenCC(ctx context.Context, mode store.Mode) (store.CrossCorrelationStore, error) {
	switch f.opts.Kind {
	case BackendParquet:
		return parquet.NewCCStore(filepath.Join(f.opts.Root, CCDir), mode)
	case BackendFlat:
		return flat.NewCCStore(filepath.Join(f.opts.Root, CCDir), mode)
	case BackendS3:
		return s3store.NewCCStore(f.client, f.opts.Root+"/"+CCDir, mode), nil
	}
	return nil, errors.Wrapf(errors.ErrUnknownBackend, "%q", f.opts.Kind)
}

// OpenStack opens the stacked-result store.
func (f *Factory) OpenStack(ctx context.Context) (store.StackStore, error) {
	switch f.opts.Kind {
	case BackendParquet:
		return parquet.NewStackStore(filepath.Join(f.opts.Root, StackDir))
	case BackendFlat:
		return flat.NewStackStore(filepath.Join(f.opts.Root, StackDir))
	case BackendS3:
		return s3store.NewStackStore(f.client, f.opts.Root+"/"+StackDir), nil
	}
	return nil, errors.Wrapf(errors.ErrUnknownBackend, "%q", f.opts.Kind)
}

// Detect sniffs the backend of an existing working directory by the file
// extensions it holds. An "s3://" root selects the S3 backend; otherwise
// the first store file found decides, and an empty or absent directory
// defaults to Parquet.
func Detect(root string) BackendKind {
	if strings.HasPrefix(root, "s3://") {
		return BackendS3
	}

	kind := BackendParquet
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case parquet.Ext:
			kind = BackendParquet
			return fs.SkipAll
		case flat.PayloadExt:
			kind = BackendFlat
			return fs.SkipAll
		}
		return nil
	})
	return kind
}

// SplitS3Root splits an "s3://bucket/prefix" root into bucket and prefix.
func SplitS3Root(root string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(root, "s3://")
	if trimmed == root || trimmed == "" {
		return "", "", errors.NewValidation("store_path", "not an s3:// URL")
	}
	bucket, prefix, _ = strings.Cut(trimmed, "/")
	return bucket, strings.Trim(prefix, "/"), nil
}
