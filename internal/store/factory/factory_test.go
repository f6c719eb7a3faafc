package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/seisnoise/seisnoise/internal/store"
)

func TestParseBackendKind(t *testing.T) {
	tests := []struct {
		in      string
		want    BackendKind
		wantErr bool
	}{
		{"parquet", BackendParquet, false},
		{"flat", BackendFlat, false},
		{"s3", BackendS3, false},
		{"asdf", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBackendKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackendKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBackendKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFactoryOpensFilesystemBackends(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []BackendKind{BackendParquet, BackendFlat} {
		f, err := New(ctx, Options{Kind: kind, Root: t.TempDir()})
		if err != nil {
			t.Fatalf("New(%v): %v", kind, err)
		}
		if _, err := f.OpenRaw(ctx); err != nil {
			t.Errorf("OpenRaw(%v): %v", kind, err)
		}
		if _, err := f.OpenCC(ctx, store.ModeWrite); err != nil {
			t.Errorf("OpenCC(%v): %v", kind, err)
		}
		if _, err := f.OpenStack(ctx); err != nil {
			t.Errorf("OpenStack(%v): %v", kind, err)
		}
	}
}

func TestDetect(t *testing.T) {
	if got := Detect("s3://bucket/run1"); got != BackendS3 {
		t.Errorf("Detect(s3 URL) = %v, want s3", got)
	}

	empty := t.TempDir()
	if got := Detect(empty); got != BackendParquet {
		t.Errorf("Detect(empty dir) = %v, want parquet default", got)
	}

	flatDir := t.TempDir()
	sub := filepath.Join(flatDir, "RAW_DATA", "CI.BAK.00.BHZ")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "x.f32"), []byte{0, 0, 0, 0}, 0644); err != nil {
		t.Fatal(err)
	}
	if got := Detect(flatDir); got != BackendFlat {
		t.Errorf("Detect(flat layout) = %v, want flat", got)
	}

	pqDir := t.TempDir()
	sub = filepath.Join(pqDir, "CCF", "a_b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "x.parquet"), []byte{0}, 0644); err != nil {
		t.Fatal(err)
	}
	if got := Detect(pqDir); got != BackendParquet {
		t.Errorf("Detect(parquet layout) = %v, want parquet", got)
	}
}

func TestSplitS3Root(t *testing.T) {
	bucket, prefix, err := SplitS3Root("s3://noise-archive/run1/")
	if err != nil {
		t.Fatalf("SplitS3Root: %v", err)
	}
	if bucket != "noise-archive" || prefix != "run1" {
		t.Errorf("got (%q, %q), want (noise-archive, run1)", bucket, prefix)
	}

	if _, _, err := SplitS3Root("/tmp/run1"); err == nil {
		t.Error("SplitS3Root on a filesystem path succeeded, want error")
	}
}
