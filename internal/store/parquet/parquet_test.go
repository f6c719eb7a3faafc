package parquet

import (
	"context"
	"testing"
	"time"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/store"
)

var t0 = time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)

func testChannel() model.ChannelId {
	return model.ChannelId{Network: "CI", Station: "BAK", Channel: "BHZ", Location: "00"}
}

func testSegment(start time.Time, seconds int) model.WaveformSegment {
	rate := 20.0
	data := make([]float32, int(float64(seconds)*rate))
	for i := range data {
		data[i] = float32(i % 17)
	}
	return model.WaveformSegment{
		Channel:    testChannel(),
		Span:       chunk.TimeRange{Start: start, End: start.Add(time.Duration(seconds) * time.Second)},
		SampleRate: rate,
		Data:       data,
	}
}

func TestRawStoreSaveAndRead(t *testing.T) {
	ctx := context.Background()
	s, err := NewRawStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRawStore: %v", err)
	}

	seg := testSegment(t0, 3600)
	if err := s.Save(ctx, seg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	chans, err := s.GetChannels(ctx)
	if err != nil {
		t.Fatalf("GetChannels: %v", err)
	}
	if len(chans) != 1 || chans[0] != testChannel() {
		t.Errorf("GetChannels = %v, want [%v]", chans, testChannel())
	}

	spans, err := s.GetTimespans(ctx, testChannel())
	if err != nil {
		t.Fatalf("GetTimespans: %v", err)
	}
	if len(spans) != 1 || !spans[0].Start.Equal(seg.Span.Start) || !spans[0].End.Equal(seg.Span.End) {
		t.Errorf("GetTimespans = %v, want [%v]", spans, seg.Span)
	}

	got, err := s.Read(ctx, testChannel(), seg.Span)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Data) != len(seg.Data) {
		t.Errorf("Read returned %d samples, want %d", len(got.Data), len(seg.Data))
	}
	if got.SampleRate != seg.SampleRate {
		t.Errorf("sample rate = %v, want %v", got.SampleRate, seg.SampleRate)
	}
}

func TestRawStoreReadTrimsToRequest(t *testing.T) {
	ctx := context.Background()
	s, err := NewRawStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRawStore: %v", err)
	}

	if err := s.Save(ctx, testSegment(t0, 3600)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Ask for the middle 10 minutes of the stored hour.
	want := chunk.TimeRange{Start: t0.Add(25 * time.Minute), End: t0.Add(35 * time.Minute)}
	got, err := s.Read(ctx, testChannel(), want)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Span.Start.Equal(want.Start) || !got.Span.End.Equal(want.End) {
		t.Errorf("span = %v, want %v", got.Span, want)
	}
	if len(got.Data) != int(10*60*20) {
		t.Errorf("got %d samples, want %d", len(got.Data), 10*60*20)
	}
}

func TestRawStoreReadStitchesAdjacentSpans(t *testing.T) {
	ctx := context.Background()
	s, err := NewRawStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRawStore: %v", err)
	}

	if err := s.Save(ctx, testSegment(t0, 1800)); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := s.Save(ctx, testSegment(t0.Add(30*time.Minute), 1800)); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	full := chunk.TimeRange{Start: t0, End: t0.Add(time.Hour)}
	got, err := s.Read(ctx, testChannel(), full)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Span.End.Equal(full.End) {
		t.Errorf("stitched span ends at %v, want %v", got.Span.End, full.End)
	}
	if len(got.Data) != int(3600*20) {
		t.Errorf("got %d samples, want %d", len(got.Data), 3600*20)
	}
}

func TestRawStoreSaveIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewRawStore(dir)
	if err != nil {
		t.Fatalf("NewRawStore: %v", err)
	}

	seg := testSegment(t0, 3600)
	if err := s.Save(ctx, seg); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	// A re-save of data already covered must not create a second file.
	sub := testSegment(t0.Add(10*time.Minute), 600)
	if err := s.Save(ctx, sub); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	spans, err := s.GetTimespans(ctx, testChannel())
	if err != nil {
		t.Fatalf("GetTimespans: %v", err)
	}
	if len(spans) != 1 {
		t.Errorf("got %d spans after re-save, want 1", len(spans))
	}
}

func TestRawStoreReadMissing(t *testing.T) {
	ctx := context.Background()
	s, err := NewRawStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRawStore: %v", err)
	}
	_, err = s.Read(ctx, testChannel(), chunk.TimeRange{Start: t0, End: t0.Add(time.Hour)})
	if !errors.IsNotFound(err) {
		t.Errorf("Read on empty store = %v, want not-found", err)
	}
}

func testCorrelation(window chunk.TimeRange) model.CorrelationResult {
	src := model.ChannelId{Network: "CI", Station: "ARV", Channel: "BHZ", Location: "00"}
	rcv := testChannel()
	return model.CorrelationResult{
		Pair:       model.NewPairKey(src, rcv),
		Window:     window,
		SampleRate: 20,
		MaxLagSec:  200,
		Data:       make([]float32, 2*200*20+1),
	}
}

func TestCCStoreModeEnforcement(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	window := chunk.TimeRange{Start: t0, End: t0.Add(30 * time.Minute)}
	res := testCorrelation(window)

	w, err := NewCCStore(dir, store.ModeWrite)
	if err != nil {
		t.Fatalf("NewCCStore write: %v", err)
	}
	if _, err := w.Pairs(ctx); !errors.Is(err, errors.ErrWriteOnlyStore) {
		t.Errorf("Pairs in write mode = %v, want ErrWriteOnlyStore", err)
	}
	if _, err := w.ReadAll(ctx, res.Pair); !errors.Is(err, errors.ErrWriteOnlyStore) {
		t.Errorf("ReadAll in write mode = %v, want ErrWriteOnlyStore", err)
	}
	if err := w.Write(ctx, res); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := NewCCStore(dir, store.ModeRead)
	if err != nil {
		t.Fatalf("NewCCStore read: %v", err)
	}
	if err := r.Write(ctx, res); !errors.Is(err, errors.ErrReadOnlyStore) {
		t.Errorf("Write in read mode = %v, want ErrReadOnlyStore", err)
	}

	// Contains works in both modes.
	for _, s := range []*CCStore{w, r} {
		ok, err := s.Contains(ctx, res.Pair, window)
		if err != nil || !ok {
			t.Errorf("Contains in %v mode = (%v, %v), want (true, nil)", s.Mode(), ok, err)
		}
	}
}

func TestCCStoreCursorOrderAndRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := NewCCStore(dir, store.ModeWrite)
	if err != nil {
		t.Fatalf("NewCCStore: %v", err)
	}
	windows := []chunk.TimeRange{
		{Start: t0.Add(time.Hour), End: t0.Add(90 * time.Minute)},
		{Start: t0, End: t0.Add(30 * time.Minute)},
		{Start: t0.Add(30 * time.Minute), End: t0.Add(time.Hour)},
	}
	var pair model.PairKey
	for _, win := range windows {
		res := testCorrelation(win)
		pair = res.Pair
		if err := w.Write(ctx, res); err != nil {
			t.Fatalf("Write %v: %v", win, err)
		}
	}

	r, err := NewCCStore(dir, store.ModeRead)
	if err != nil {
		t.Fatalf("NewCCStore read: %v", err)
	}

	// Two independent cursors both see all windows in start-time order.
	for i := 0; i < 2; i++ {
		cur, err := r.ReadAll(ctx, pair)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		var starts []time.Time
		for {
			res, ok, err := cur.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				break
			}
			starts = append(starts, res.Window.Start)
		}
		cur.Close()
		if len(starts) != 3 {
			t.Fatalf("cursor %d saw %d windows, want 3", i, len(starts))
		}
		for j := 1; j < len(starts); j++ {
			if !starts[j].After(starts[j-1]) {
				t.Errorf("cursor %d out of order: %v before %v", i, starts[j-1], starts[j])
			}
		}
	}
}

func TestStackStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewStackStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStackStore: %v", err)
	}

	res := model.StackResult{
		Pair:        testCorrelation(chunk.TimeRange{Start: t0, End: t0.Add(time.Hour)}).Pair,
		Method:      model.StackLinear,
		SampleRate:  20,
		MaxLagSec:   200,
		WindowCount: 3,
		Data:        []float32{1, 2, 3},
	}
	if err := s.Write(ctx, res); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	res.WindowCount = 7
	res.Data = []float32{4, 5, 6}
	if err := s.Write(ctx, res); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	got, err := s.Read(ctx, res.Pair, model.StackLinear)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.WindowCount != 7 {
		t.Errorf("WindowCount = %d, want 7 (latest write)", got.WindowCount)
	}

	methods, err := s.Methods(ctx, res.Pair)
	if err != nil {
		t.Fatalf("Methods: %v", err)
	}
	if len(methods) != 1 || methods[0] != model.StackLinear {
		t.Errorf("Methods = %v, want [linear]", methods)
	}

	_, err = s.Read(ctx, res.Pair, model.StackPWS)
	if !errors.IsNotFound(err) {
		t.Errorf("Read missing method = %v, want not-found", err)
	}
}
