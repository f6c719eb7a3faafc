// Package stack implements the stacking stage: it folds the per-window
// correlations of every pair into stacked functions, one per requested
// method.
package stack

import (
	"context"
	"log/slog"

	"github.com/DataDog/sketches-go/ddsketch"
	"golang.org/x/sync/errgroup"

	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/coord"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/logging"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/seis"
	"github.com/seisnoise/seisnoise/internal/store"
)

// sketchAccuracy is the relative accuracy of the window-amplitude
// distribution sketch.
const sketchAccuracy = 0.01

// Summary reports what one stacking run did.
type Summary struct {
	// Pairs is the number of pairs found in the correlation store.
	Pairs int
	// Methods is the number of concrete methods stacked per pair.
	Methods int
	// Stacked counts (pair, method) results written.
	Stacked int
	// EmptyPairs counts pairs with no stored windows.
	EmptyPairs int
	// Failed counts (pair, method) units whose computation failed.
	Failed int

	// AmplitudeP50 and AmplitudeP95 summarize the distribution of
	// per-window peak amplitudes seen across all pairs. Zero when no
	// windows were read.
	AmplitudeP50 float64
	AmplitudeP95 float64
}

// Orchestrator drives the stacking stage.
type Orchestrator struct {
	cfg     *config.Config
	stacker seis.Stacker
	cc      store.CrossCorrelationStore
	stacks  store.StackStore

	// MetaDir, when set, is consulted for run metadata.
	MetaDir string

	// OnPlan and OnPair observe progress.
	OnPlan func(totalPairs int)
	OnPair func()

	log *slog.Logger
}

// New builds a stacking orchestrator. The cc store must be open in read
// mode.
func New(cfg *config.Config, stacker seis.Stacker, cc store.CrossCorrelationStore, stacks store.StackStore) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		stacker: stacker,
		cc:      cc,
		stacks:  stacks,
		log:     logging.Component("stack"),
	}
}

type plan struct {
	pairs   []model.PairKey
	methods []model.StackMethod
}

// workerResult carries one worker's counts and its amplitude sketch.
type workerResult struct {
	summary Summary
	sketch  *ddsketch.DDSketch
}

// Run executes the stage across the configured worker count, partitioning
// by pair.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if o.cc.Mode() != store.ModeRead {
		return Summary{}, errors.ErrWriteOnlyStore
	}

	workers := o.cfg.Resources.Workers
	group, err := coord.NewGroup(workers)
	if err != nil {
		return Summary{}, err
	}

	results := make([]workerResult, workers)
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < workers; rank++ {
		w := group.Worker(rank)
		eg.Go(func() error {
			r, err := o.runWorker(ctx, w)
			results[w.Rank()] = r
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return Summary{}, err
	}

	return o.merge(results)
}

func (o *Orchestrator) merge(results []workerResult) (Summary, error) {
	total := results[0].summary
	sketch := results[0].sketch
	for _, r := range results[1:] {
		total.Stacked += r.summary.Stacked
		total.EmptyPairs += r.summary.EmptyPairs
		total.Failed += r.summary.Failed
		if err := sketch.MergeWith(r.sketch); err != nil {
			return Summary{}, errors.Wrap(err, "merge amplitude sketch")
		}
	}

	if sketch.GetCount() > 0 {
		p50, err := sketch.GetValueAtQuantile(0.5)
		if err != nil {
			return Summary{}, errors.Wrap(err, "amplitude quantile")
		}
		p95, err := sketch.GetValueAtQuantile(0.95)
		if err != nil {
			return Summary{}, errors.Wrap(err, "amplitude quantile")
		}
		total.AmplitudeP50 = p50
		total.AmplitudeP95 = p95
	}

	o.log.Info("stacking finished",
		"pairs", total.Pairs,
		"methods", total.Methods,
		"stacked", total.Stacked,
		"empty_pairs", total.EmptyPairs,
		"failed", total.Failed,
		"amplitude_p50", total.AmplitudeP50,
		"amplitude_p95", total.AmplitudeP95)
	return total, nil
}

func (o *Orchestrator) runWorker(ctx context.Context, w *coord.Worker) (workerResult, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return workerResult{}, errors.Wrap(err, "amplitude sketch")
	}
	r := workerResult{sketch: sketch}

	p, err := coord.Broadcast(ctx, w, o.prepare)
	if err != nil {
		return r, err
	}
	r.summary.Pairs = len(p.pairs)
	r.summary.Methods = len(p.methods)

	log := logging.Worker("stack", w.Rank())
	for i, pair := range p.pairs {
		if !w.Owns(i) {
			continue
		}
		o.processPair(ctx, log, pair, p.methods, &r)
		if o.OnPair != nil {
			o.OnPair()
		}
		if err := ctx.Err(); err != nil {
			return r, err
		}
	}

	if err := w.Barrier(ctx); err != nil {
		return r, err
	}
	return r, nil
}

// prepare runs once, on rank 0: applies persisted run metadata, lists the
// stored pairs and expands the configured method selection.
func (o *Orchestrator) prepare(ctx context.Context) (plan, error) {
	if o.MetaDir != "" {
		meta, err := config.ReadRunMetadata(o.MetaDir)
		if err == nil {
			meta.Apply(o.cfg)
		} else if !errors.IsNotFound(err) {
			return plan{}, err
		}
	}

	method, err := model.ParseStackMethod(o.cfg.Stacking.Method)
	if err != nil {
		return plan{}, err
	}
	methods := method.Expand()

	pairs, err := o.cc.Pairs(ctx)
	if err != nil {
		return plan{}, errors.Wrap(err, "list correlation pairs")
	}

	o.log.Info("stacking planned", "pairs", len(pairs), "methods", len(methods))
	if o.OnPlan != nil {
		o.OnPlan(len(pairs))
	}
	return plan{pairs: pairs, methods: methods}, nil
}

// processPair gathers one pair's windows and writes one stack per method.
func (o *Orchestrator) processPair(ctx context.Context, log *slog.Logger, pair model.PairKey, methods []model.StackMethod, r *workerResult) {
	windows, err := o.gather(ctx, pair, r.sketch)
	if err != nil {
		log.Warn("window read failed", "pair", pair, "error", err)
		r.summary.Failed += len(methods)
		return
	}
	if len(windows) == 0 {
		log.Info("no windows for pair, nothing to stack", "pair", pair)
		r.summary.EmptyPairs++
		return
	}

	for _, method := range methods {
		res, err := o.stacker.Stack(method, windows, o.cfg)
		if err != nil {
			log.Warn("stacking failed", "pair", pair, "method", method, "error", err)
			r.summary.Failed++
			continue
		}
		res.Pair = pair
		res.Method = method
		if err := o.stacks.Write(ctx, res); err != nil {
			log.Warn("write failed", "pair", pair, "method", method, "error", err)
			r.summary.Failed++
			continue
		}
		r.summary.Stacked++
	}
}

// gather drains a fresh cursor over the pair's windows, feeding peak
// amplitudes into the distribution sketch.
func (o *Orchestrator) gather(ctx context.Context, pair model.PairKey, sketch *ddsketch.DDSketch) ([]model.CorrelationResult, error) {
	cur, err := o.cc.ReadAll(ctx, pair)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var windows []model.CorrelationResult
	for {
		res, ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return windows, nil
		}
		if err := sketch.Add(float64(res.PeakAmplitude())); err != nil {
			return nil, errors.Wrap(err, "record amplitude")
		}
		windows = append(windows, res)
	}
}
