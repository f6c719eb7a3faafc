package stack_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/seisnoise/seisnoise/internal/acquire"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/seis"
	"github.com/seisnoise/seisnoise/internal/stack"
	"github.com/seisnoise/seisnoise/internal/store"
	"github.com/seisnoise/seisnoise/internal/store/factory"
	"github.com/seisnoise/seisnoise/internal/testutil"
	"github.com/seisnoise/seisnoise/internal/xcorr"
)

func pipelineConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Acquisition.Start = time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	cfg.Acquisition.End = time.Date(2016, 7, 1, 2, 0, 0, 0, time.UTC)
	cfg.Acquisition.IncHours = 1
	cfg.Processing.CCLen = 1800
	cfg.Processing.Step = 900
	cfg.Correlation.MaxLagSec = 10
	cfg.Stacking.Method = "linear"
	cfg.Resources.Workers = 2
	return cfg
}

// runPipeline drives acquisition, correlation and stacking over one store
// root and returns the three stage summaries.
func runPipeline(t *testing.T, root string, cfg *config.Config, source *testutil.Source) (acquire.Summary, xcorr.Summary, stack.Summary) {
	t.Helper()
	ctx := context.Background()

	f, err := factory.New(ctx, factory.Options{Kind: factory.BackendParquet, Root: root})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	raw, err := f.OpenRaw(ctx)
	if err != nil {
		t.Fatalf("open raw store: %v", err)
	}

	chans := []model.ChannelId{
		{Network: "CI", Station: "ARV", Channel: "BHZ", Location: "00"},
		{Network: "CI", Station: "BAK", Channel: "BHZ", Location: "00"},
	}
	aq := acquire.New(cfg, testutil.NewCatalog(chans...), source, seis.NewReferencePreprocessor(), raw)
	aq.MetaDir = root
	aqSum, err := aq.Run(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ccWrite, err := f.OpenCC(ctx, store.ModeWrite)
	if err != nil {
		t.Fatalf("open cc store: %v", err)
	}
	xc := xcorr.New(cfg, seis.NewReferenceKernel(), raw, ccWrite)
	xc.MetaDir = root
	xcSum, err := xc.Run(ctx)
	if err != nil {
		t.Fatalf("xcorr: %v", err)
	}

	ccRead, err := f.OpenCC(ctx, store.ModeRead)
	if err != nil {
		t.Fatalf("open cc store read: %v", err)
	}
	stacks, err := f.OpenStack(ctx)
	if err != nil {
		t.Fatalf("open stack store: %v", err)
	}
	st := stack.New(cfg, seis.NewReferenceStacker(), ccRead, stacks)
	st.MetaDir = root
	stSum, err := st.Run(ctx)
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	return aqSum, xcSum, stSum
}

// treeDigest hashes every file under root, path and content, into one
// digest. Two digests match only when the trees are byte-identical.
func treeDigest(t *testing.T, root string) string {
	t.Helper()
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		h.Write([]byte(rel))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func TestFullPipelineIsResumable(t *testing.T) {
	root := t.TempDir()
	cfg := pipelineConfig()
	source := testutil.NewSource(cfg.Processing.SampFreq)

	aqSum, xcSum, stSum := runPipeline(t, root, cfg, source)

	// 2 channels over 2 one-hour chunks.
	if aqSum.Fetched != 4 || aqSum.Chunks != 2 {
		t.Errorf("first acquisition %+v, want 4 fetches over 2 chunks", aqSum)
	}
	// 1 cross pair, 2h range with 30min windows at 15min stride: 7 windows.
	if xcSum.Computed != 7 {
		t.Errorf("first correlation %+v, want 7 computed windows", xcSum)
	}
	if stSum.Stacked != 1 || stSum.Failed != 0 {
		t.Errorf("first stacking %+v, want 1 linear stack", stSum)
	}

	before := treeDigest(t, root)

	// Same stores, same parameters: every stage finds its outputs present.
	aqSum2, xcSum2, stSum2 := runPipeline(t, root, cfg, source)
	if aqSum2.Fetched != 0 || aqSum2.SkippedChunks != 2 {
		t.Errorf("rerun acquisition %+v, want everything skipped", aqSum2)
	}
	if xcSum2.Computed != 0 || xcSum2.SkippedExisting != 7 {
		t.Errorf("rerun correlation %+v, want all windows skipped", xcSum2)
	}
	if stSum2.Stacked != 1 {
		t.Errorf("rerun stacking %+v, want the stack rewritten once", stSum2)
	}

	// The stack rewrite folds the same windows, so no byte changes anywhere.
	if after := treeDigest(t, root); after != before {
		t.Error("rerun modified the store tree")
	}
}

func TestTwoFreshRunsAgreeNumerically(t *testing.T) {
	cfg := pipelineConfig()

	read := func(root string) model.StackResult {
		runPipeline(t, root, cfg, testutil.NewSource(cfg.Processing.SampFreq))

		ctx := context.Background()
		f, err := factory.New(ctx, factory.Options{Kind: factory.BackendParquet, Root: root})
		if err != nil {
			t.Fatal(err)
		}
		stacks, err := f.OpenStack(ctx)
		if err != nil {
			t.Fatal(err)
		}
		pairs, err := stacks.Pairs(ctx)
		if err != nil || len(pairs) != 1 {
			t.Fatalf("pairs = %v (%v), want exactly one", pairs, err)
		}
		res, err := stacks.Read(ctx, pairs[0], model.StackLinear)
		if err != nil {
			t.Fatalf("read stack: %v", err)
		}
		return res
	}

	a := read(t.TempDir())
	b := read(t.TempDir())

	if a.WindowCount != b.WindowCount || len(a.Data) != len(b.Data) {
		t.Fatalf("stack shapes differ: %d/%d windows, %d/%d points",
			a.WindowCount, b.WindowCount, len(a.Data), len(b.Data))
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("stack amplitude %d differs: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}
