package seis

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
)

var (
	chanA = model.ChannelId{Network: "CI", Station: "ARV", Channel: "BHZ", Location: "00"}
	chanB = model.ChannelId{Network: "CI", Station: "BAK", Channel: "BHZ", Location: "00"}
)

func kernelConfig(maxLagSec float64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Correlation.MaxLagSec = maxLagSec
	return cfg
}

func segment(ch model.ChannelId, data []float32, rate float64) model.WaveformSegment {
	start := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(float64(len(data)) / rate * float64(time.Second)))
	return model.WaveformSegment{
		Channel:    ch,
		Span:       chunk.TimeRange{Start: start, End: end},
		SampleRate: rate,
		Data:       data,
	}
}

// noisy produces a deterministic broadband signal whose autocorrelation has
// a single dominant zero-lag peak.
func noisy(n, offset int) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i + offset)
		out[i] = float32(math.Sin(0.37*t) + 0.6*math.Sin(1.7*t+1.1) + 0.3*math.Sin(5.3*t))
	}
	return out
}

func argmax(data []float32) int {
	best := 0
	for i, v := range data {
		if v > data[best] {
			best = i
		}
	}
	return best
}

func TestCorrelateAutoPeaksAtZeroLag(t *testing.T) {
	cfg := kernelConfig(2) // 40 samples of lag at 20 Hz
	a := segment(chanA, noisy(400, 0), 20)

	res, err := NewReferenceKernel().Correlate(context.Background(), a, a, cfg)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	maxLag := 40
	if len(res.Data) != 2*maxLag+1 {
		t.Fatalf("lag axis has %d points, want %d", len(res.Data), 2*maxLag+1)
	}
	if got := argmax(res.Data); got != maxLag {
		t.Errorf("peak at index %d, want zero lag at %d", got, maxLag)
	}
	if peak := res.Data[maxLag]; math.Abs(float64(peak)-1) > 1e-5 {
		t.Errorf("zero-lag value = %v, want 1 for the normalized autocorrelation", peak)
	}
	if !res.Pair.IsAuto() {
		t.Errorf("pair %v not reported as auto", res.Pair)
	}
}

func TestCorrelateRecoversKnownShift(t *testing.T) {
	cfg := kernelConfig(2)
	const shift = 7 // samples

	base := noisy(400+shift, 0)
	a := segment(chanA, base[shift:], 20)
	b := segment(chanB, base[:400], 20)

	res, err := NewReferenceKernel().Correlate(context.Background(), a, b, cfg)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	maxLag := 40
	if got := argmax(res.Data); got != maxLag+shift {
		t.Errorf("peak at index %d, want %d for a %d-sample delay", got, maxLag+shift, shift)
	}
}

func TestCorrelateRejections(t *testing.T) {
	ctx := context.Background()
	k := NewReferenceKernel()
	cfg := kernelConfig(2)
	good := segment(chanA, noisy(400, 0), 20)

	tests := []struct {
		name     string
		a, b     model.WaveformSegment
		cfg      *config.Config
		sentinel error
	}{
		{"empty first segment", segment(chanA, nil, 20), good, cfg, errors.ErrInsufficientSamples},
		{"empty second segment", good, segment(chanB, nil, 20), cfg, errors.ErrInsufficientSamples},
		{"rate mismatch", good, segment(chanB, noisy(400, 0), 40), cfg, errors.ErrCompute},
		{"lag exceeds window", segment(chanA, noisy(30, 0), 20), segment(chanB, noisy(30, 0), 20), cfg, errors.ErrInsufficientSamples},
		{"zero energy", segment(chanA, make([]float32, 400), 20), segment(chanB, make([]float32, 400), 20), cfg, errors.ErrInsufficientSamples},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := k.Correlate(ctx, tt.a, tt.b, tt.cfg)
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error = %v, want %v", err, tt.sentinel)
			}
		})
	}
}

func corrWindow(data []float32, start time.Time) model.CorrelationResult {
	return model.CorrelationResult{
		Pair:       model.NewPairKey(chanA, chanB),
		Window:     chunk.TimeRange{Start: start, End: start.Add(30 * time.Minute)},
		SampleRate: 20,
		Data:       data,
		MaxLagSec:  2,
	}
}

func TestLinearStackIsTheMean(t *testing.T) {
	t0 := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	windows := []model.CorrelationResult{
		corrWindow([]float32{1, 2, 3}, t0),
		corrWindow([]float32{3, 4, 5}, t0.Add(30*time.Minute)),
	}

	res, err := NewReferenceStacker().Stack(model.StackLinear, windows, config.DefaultConfig())
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	want := []float32{2, 3, 4}
	for i, w := range want {
		if res.Data[i] != w {
			t.Errorf("stack[%d] = %v, want %v", i, res.Data[i], w)
		}
	}
	if res.WindowCount != 2 || res.Method != model.StackLinear {
		t.Errorf("result header %+v, want 2 windows under linear", res)
	}
}

func TestIdenticalWindowsAreAFixedPoint(t *testing.T) {
	// Every concrete method must return the window itself when all input
	// windows are identical.
	data := make([]float32, 41)
	for j := range data {
		data[j] = float32(math.Sin(0.5*float64(j)) + 0.05*float64(j-20))
	}
	t0 := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	windows := make([]model.CorrelationResult, 4)
	for i := range windows {
		windows[i] = corrWindow(data, t0.Add(time.Duration(i)*30*time.Minute))
	}

	s := NewReferenceStacker()
	cfg := config.DefaultConfig()
	for _, method := range model.ConcreteMethods() {
		res, err := s.Stack(method, windows, cfg)
		if err != nil {
			t.Errorf("%s: %v", method, err)
			continue
		}
		for j := range data {
			if diff := math.Abs(float64(res.Data[j] - data[j])); diff > 1e-4 {
				t.Errorf("%s: stack[%d] = %v, want %v", method, j, res.Data[j], data[j])
				break
			}
		}
		if res.WindowCount != len(windows) {
			t.Errorf("%s: window count %d, want %d", method, res.WindowCount, len(windows))
		}
	}
}

func TestStackRejections(t *testing.T) {
	t0 := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.DefaultConfig()
	s := NewReferenceStacker()

	if _, err := s.Stack(model.StackLinear, nil, cfg); !errors.Is(err, errors.ErrInsufficientSamples) {
		t.Errorf("empty input error = %v, want ErrInsufficientSamples", err)
	}

	mismatched := []model.CorrelationResult{
		corrWindow([]float32{1, 2, 3}, t0),
		corrWindow([]float32{1, 2}, t0.Add(30*time.Minute)),
	}
	if _, err := s.Stack(model.StackLinear, mismatched, cfg); !errors.Is(err, errors.ErrCompute) {
		t.Errorf("length mismatch error = %v, want ErrCompute", err)
	}

	one := []model.CorrelationResult{corrWindow([]float32{1, 2, 3}, t0)}
	if _, err := s.Stack(model.StackAll, one, cfg); !errors.Is(err, errors.ErrCompute) {
		t.Errorf("unexpanded all error = %v, want ErrCompute", err)
	}
}

func TestPreprocessDemeans(t *testing.T) {
	raw := segment(chanA, []float32{1, 3, 1, 3}, 20)
	span := raw.Span

	out, err := NewReferencePreprocessor().Preprocess(context.Background(), raw, model.Station{Id: chanA}, config.DefaultConfig(), span)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	want := []float32{-1, 1, -1, 1}
	for i, w := range want {
		if out.Data[i] != w {
			t.Errorf("sample %d = %v, want %v", i, out.Data[i], w)
		}
	}
	if !out.Span.Start.Equal(span.Start) || !out.Span.End.Equal(span.End) {
		t.Errorf("span = %v, want the requested span", out.Span)
	}
}

func TestPreprocessShortResponseKeepsFetchedSpan(t *testing.T) {
	// A truncated fetch must not come out stamped with the requested span,
	// or the store would report the whole gap as covered and reruns would
	// never fetch the missing tail.
	span := chunk.TimeRange{
		Start: time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2016, 7, 1, 1, 0, 0, 0, time.UTC),
	}
	raw := segment(chanA, noisy(1800*20, 0), 20) // first half hour only

	out, err := NewReferencePreprocessor().Preprocess(context.Background(), raw, model.Station{Id: chanA}, config.DefaultConfig(), span)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if !out.Span.End.Equal(raw.Span.End) {
		t.Errorf("span = %v, want the fetched half hour %v", out.Span, raw.Span)
	}
	if len(out.Data) != len(raw.Data) {
		t.Errorf("%d samples, want %d", len(out.Data), len(raw.Data))
	}
}

func TestPreprocessTrimsExcessSamples(t *testing.T) {
	span := chunk.TimeRange{
		Start: time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2016, 7, 1, 0, 1, 0, 0, time.UTC),
	}
	raw := segment(chanA, noisy(60*20+5, 0), 20) // five samples past the span

	out, err := NewReferencePreprocessor().Preprocess(context.Background(), raw, model.Station{Id: chanA}, config.DefaultConfig(), span)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if want := 60 * 20; len(out.Data) != want {
		t.Errorf("%d samples, want %d", len(out.Data), want)
	}
	if !out.Span.End.Equal(span.End) {
		t.Errorf("span end = %v, want the requested end", out.Span.End)
	}
}

func TestPreprocessEmptyInputIsValid(t *testing.T) {
	span := chunk.TimeRange{
		Start: time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2016, 7, 1, 1, 0, 0, 0, time.UTC),
	}
	raw := model.WaveformSegment{Channel: chanA, SampleRate: 20}

	out, err := NewReferencePreprocessor().Preprocess(context.Background(), raw, model.Station{Id: chanA}, config.DefaultConfig(), span)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if !out.IsEmpty() {
		t.Error("empty input produced samples")
	}
	if out.Channel != chanA {
		t.Errorf("channel = %v, want %v", out.Channel, chanA)
	}
}

func TestPreprocessFillsMissingRate(t *testing.T) {
	span := chunk.TimeRange{
		Start: time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2016, 7, 1, 1, 0, 0, 0, time.UTC),
	}
	raw := model.WaveformSegment{Channel: chanA, Data: []float32{1, 2}}

	cfg := config.DefaultConfig()
	out, err := NewReferencePreprocessor().Preprocess(context.Background(), raw, model.Station{Id: chanA}, cfg, span)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if out.SampleRate != cfg.Processing.SampFreq {
		t.Errorf("rate = %v, want configured %v", out.SampleRate, cfg.Processing.SampFreq)
	}
}
