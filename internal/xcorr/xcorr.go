// Package xcorr implements the cross-correlation stage: for every channel
// pair and sliding window it computes one correlation function, skipping
// anything the output store already holds.
package xcorr

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/coord"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/logging"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/seis"
	"github.com/seisnoise/seisnoise/internal/store"
)

// Summary reports what one correlation run did.
type Summary struct {
	// Pairs is the number of channel pairs in the plan.
	Pairs int
	// Windows is the number of sliding windows per pair.
	Windows int
	// Computed counts correlations written this run.
	Computed int
	// SkippedExisting counts (pair, window) units already in the store.
	SkippedExisting int
	// SkippedMissing counts units lacking raw data for a channel.
	SkippedMissing int
	// Failed counts units whose kernel computation failed.
	Failed int
}

func (s *Summary) add(other Summary) {
	s.Computed += other.Computed
	s.SkippedExisting += other.SkippedExisting
	s.SkippedMissing += other.SkippedMissing
	s.Failed += other.Failed
}

// Orchestrator drives the cross-correlation stage.
type Orchestrator struct {
	cfg    *config.Config
	kernel seis.Kernel
	raw    store.RawDataStore
	cc     store.CrossCorrelationStore

	// MetaDir, when set, is consulted for run metadata so the stage uses
	// the parameters the data was acquired with.
	MetaDir string

	// OnPlan and OnPair observe progress.
	OnPlan func(totalPairs int)
	OnPair func()

	log *slog.Logger
}

// New builds a cross-correlation orchestrator. The cc store must be open
// in write mode.
func New(cfg *config.Config, kernel seis.Kernel, raw store.RawDataStore, cc store.CrossCorrelationStore) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		kernel: kernel,
		raw:    raw,
		cc:     cc,
		log:    logging.Component("xcorr"),
	}
}

type plan struct {
	pairs   []model.PairKey
	windows []chunk.TimeRange
}

// Run executes the stage across the configured worker count, partitioning
// by pair. Only pre-flight failures are fatal.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if o.cc.Mode() != store.ModeWrite {
		return Summary{}, errors.ErrReadOnlyStore
	}

	workers := o.cfg.Resources.Workers
	group, err := coord.NewGroup(workers)
	if err != nil {
		return Summary{}, err
	}

	summaries := make([]Summary, workers)
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < workers; rank++ {
		w := group.Worker(rank)
		eg.Go(func() error {
			s, err := o.runWorker(ctx, w)
			summaries[w.Rank()] = s
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return Summary{}, err
	}

	var total Summary
	for _, s := range summaries {
		total.add(s)
	}
	total.Pairs = summaries[0].Pairs
	total.Windows = summaries[0].Windows
	o.log.Info("cross-correlation finished",
		"pairs", total.Pairs,
		"windows", total.Windows,
		"computed", total.Computed,
		"skipped_existing", total.SkippedExisting,
		"skipped_missing", total.SkippedMissing,
		"failed", total.Failed)
	return total, nil
}

func (o *Orchestrator) runWorker(ctx context.Context, w *coord.Worker) (Summary, error) {
	p, err := coord.Broadcast(ctx, w, o.prepare)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Pairs: len(p.pairs), Windows: len(p.windows)}
	log := logging.Worker("xcorr", w.Rank())
	for i, pair := range p.pairs {
		if !w.Owns(i) {
			continue
		}
		o.processPair(ctx, log, pair, p.windows, &s)
		if o.OnPair != nil {
			o.OnPair()
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}
	}

	if err := w.Barrier(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// prepare runs once, on rank 0: applies persisted run metadata, lists the
// available channels, and derives the pair and window plans.
func (o *Orchestrator) prepare(ctx context.Context) (plan, error) {
	if o.MetaDir != "" {
		meta, err := config.ReadRunMetadata(o.MetaDir)
		if err == nil {
			meta.Apply(o.cfg)
			o.log.Info("using acquisition-time parameters", "run_id", meta.RunID)
		} else if !errors.IsNotFound(err) {
			return plan{}, err
		}
	}

	channels, err := o.raw.GetChannels(ctx)
	if err != nil {
		return plan{}, errors.Wrap(err, "list raw channels")
	}
	if len(channels) == 0 {
		return plan{}, errors.NewNotFound("channels", "raw store is empty")
	}

	pairs := model.Pairs(channels, o.cfg.Correlation.IncludeAutoCorr)
	span := chunk.TimeRange{Start: o.cfg.Acquisition.Start, End: o.cfg.Acquisition.End}
	windows := chunk.Windows(span, o.cfg.WindowLen(), o.cfg.WindowStep())
	if len(windows) == 0 {
		return plan{}, errors.Wrap(errors.ErrInvalidTimeRange, "no windows fit the date range")
	}

	o.log.Info("cross-correlation planned",
		"channels", len(channels),
		"pairs", len(pairs),
		"windows", len(windows),
		"freq_norm", o.cfg.Processing.FreqNorm)
	if o.OnPlan != nil {
		o.OnPlan(len(pairs))
	}
	return plan{pairs: pairs, windows: windows}, nil
}

// processPair handles every window of one pair. Failures are scoped to the
// (pair, window) unit.
func (o *Orchestrator) processPair(ctx context.Context, log *slog.Logger, pair model.PairKey, windows []chunk.TimeRange, s *Summary) {
	for _, win := range windows {
		exists, err := o.cc.Contains(ctx, pair, win)
		if err != nil {
			log.Warn("existence check failed", "pair", pair, "window", win, "error", err)
			s.Failed++
			continue
		}
		if exists {
			s.SkippedExisting++
			continue
		}

		a, err := o.raw.Read(ctx, pair.Source, win)
		if err != nil {
			o.noteMissing(log, pair, win, err, s)
			continue
		}
		b := a
		if !pair.IsAuto() {
			b, err = o.raw.Read(ctx, pair.Receiver, win)
			if err != nil {
				o.noteMissing(log, pair, win, err, s)
				continue
			}
		}
		// Partial coverage is treated as missing: correlating unequal
		// window lengths would skew the lag axis.
		if !a.Span.Covers(win) || !b.Span.Covers(win) {
			s.SkippedMissing++
			continue
		}

		res, err := o.kernel.Correlate(ctx, a, b, o.cfg)
		if err != nil {
			log.Warn("correlation failed", "pair", pair, "window", win, "error", err)
			s.Failed++
			continue
		}
		res.Pair = pair
		res.Window = win
		if err := o.cc.Write(ctx, res); err != nil {
			log.Warn("write failed", "pair", pair, "window", win, "error", err)
			s.Failed++
			continue
		}
		s.Computed++
	}
}

func (o *Orchestrator) noteMissing(log *slog.Logger, pair model.PairKey, win chunk.TimeRange, err error, s *Summary) {
	if errors.IsNotFound(err) {
		s.SkippedMissing++
		return
	}
	log.Warn("raw read failed", "pair", pair, "window", win, "error", err)
	s.Failed++
}
