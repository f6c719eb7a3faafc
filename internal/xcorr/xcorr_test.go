package xcorr

import (
	"context"
	"testing"
	"time"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/seis"
	"github.com/seisnoise/seisnoise/internal/store"
	"github.com/seisnoise/seisnoise/internal/store/parquet"
	"github.com/seisnoise/seisnoise/internal/testutil"
)

var t0 = time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Acquisition.Start = t0
	cfg.Acquisition.End = t0.Add(time.Hour)
	cfg.Processing.CCLen = 1800
	cfg.Processing.Step = 900
	cfg.Correlation.MaxLagSec = 30
	cfg.Resources.Workers = 2
	return cfg
}

func seedRawStore(t *testing.T, cfg *config.Config, chans []model.ChannelId) *parquet.RawStore {
	t.Helper()
	raw, err := parquet.NewRawStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRawStore: %v", err)
	}
	span := chunk.TimeRange{Start: cfg.Acquisition.Start, End: cfg.Acquisition.End}
	for _, ch := range chans {
		seg := testutil.Segment(ch, span, cfg.Processing.SampFreq)
		if err := raw.Save(context.Background(), seg); err != nil {
			t.Fatalf("Save %v: %v", ch, err)
		}
	}
	return raw
}

func TestRunComputesAllPairWindows(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	chans := []model.ChannelId{
		{Network: "CI", Station: "ARV", Channel: "BHZ", Location: "00"},
		{Network: "CI", Station: "BAK", Channel: "BHZ", Location: "00"},
	}
	raw := seedRawStore(t, cfg, chans)

	ccDir := t.TempDir()
	cc, err := parquet.NewCCStore(ccDir, store.ModeWrite)
	if err != nil {
		t.Fatalf("NewCCStore: %v", err)
	}

	o := New(cfg, seis.NewReferenceKernel(), raw, cc)
	s, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Pairs != 1 {
		t.Errorf("Pairs = %d, want 1", s.Pairs)
	}
	if s.Windows != 3 {
		t.Errorf("Windows = %d, want 3", s.Windows)
	}
	if s.Computed != 3 {
		t.Errorf("Computed = %d, want 3", s.Computed)
	}
	if s.Failed != 0 || s.SkippedMissing != 0 {
		t.Errorf("Failed = %d, SkippedMissing = %d, want 0/0", s.Failed, s.SkippedMissing)
	}

	// Rerunning against the same output store recomputes nothing.
	cc2, err := parquet.NewCCStore(ccDir, store.ModeWrite)
	if err != nil {
		t.Fatalf("reopen CCStore: %v", err)
	}
	s, err = New(cfg, seis.NewReferenceKernel(), raw, cc2).Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if s.Computed != 0 {
		t.Errorf("second run Computed = %d, want 0", s.Computed)
	}
	if s.SkippedExisting != 3 {
		t.Errorf("second run SkippedExisting = %d, want 3", s.SkippedExisting)
	}

	// The stored windows are complete and well-formed.
	rd, err := parquet.NewCCStore(ccDir, store.ModeRead)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	pairs, err := rd.Pairs(ctx)
	if err != nil {
		t.Fatalf("Pairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("stored pairs = %d, want 1", len(pairs))
	}
	cur, err := rd.ReadAll(ctx, pairs[0])
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	defer cur.Close()
	count := 0
	wantLen := 2*int(cfg.Correlation.MaxLagSec*cfg.Processing.SampFreq) + 1
	for {
		res, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if len(res.Data) != wantLen {
			t.Errorf("window %v has %d lags, want %d", res.Window, len(res.Data), wantLen)
		}
		count++
	}
	if count != 3 {
		t.Errorf("stored windows = %d, want 3", count)
	}
}

func TestIncludeAutoCorrExpandsPairs(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Correlation.IncludeAutoCorr = true
	chans := []model.ChannelId{
		{Network: "CI", Station: "ARV", Channel: "BHZ", Location: "00"},
		{Network: "CI", Station: "BAK", Channel: "BHZ", Location: "00"},
	}
	raw := seedRawStore(t, cfg, chans)

	cc, err := parquet.NewCCStore(t.TempDir(), store.ModeWrite)
	if err != nil {
		t.Fatalf("NewCCStore: %v", err)
	}
	s, err := New(cfg, seis.NewReferenceKernel(), raw, cc).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Pairs != 3 {
		t.Errorf("Pairs = %d, want 3 (1 cross + 2 auto)", s.Pairs)
	}
	if s.Computed != 9 {
		t.Errorf("Computed = %d, want 9", s.Computed)
	}
}

func TestMissingChannelDataSkipsWindows(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	chans := []model.ChannelId{
		{Network: "CI", Station: "ARV", Channel: "BHZ", Location: "00"},
		{Network: "CI", Station: "BAK", Channel: "BHZ", Location: "00"},
	}
	raw, err := parquet.NewRawStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRawStore: %v", err)
	}
	// Only the first half hour of the first channel; the second channel
	// covers the full hour.
	half := chunk.TimeRange{Start: t0, End: t0.Add(30 * time.Minute)}
	full := chunk.TimeRange{Start: t0, End: t0.Add(time.Hour)}
	if err := raw.Save(ctx, testutil.Segment(chans[0], half, cfg.Processing.SampFreq)); err != nil {
		t.Fatal(err)
	}
	if err := raw.Save(ctx, testutil.Segment(chans[1], full, cfg.Processing.SampFreq)); err != nil {
		t.Fatal(err)
	}

	cc, err := parquet.NewCCStore(t.TempDir(), store.ModeWrite)
	if err != nil {
		t.Fatalf("NewCCStore: %v", err)
	}
	s, err := New(cfg, seis.NewReferenceKernel(), raw, cc).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Windows [0:30] computes; [15:45] and [30:60] lack first-channel data.
	if s.Computed != 1 {
		t.Errorf("Computed = %d, want 1", s.Computed)
	}
	if s.SkippedMissing != 2 {
		t.Errorf("SkippedMissing = %d, want 2", s.SkippedMissing)
	}
	if s.Failed != 0 {
		t.Errorf("Failed = %d, want 0", s.Failed)
	}
}
