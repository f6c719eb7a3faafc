// Package acquire implements the acquisition stage: it plans the chunked
// date range, skips data that is already persisted, and fetches only the
// missing spans from the remote source.
package acquire

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

// Summary reports what one acquisition run did.
type Summary struct {
	// Chunks is the number of chunks in the plan.
	Chunks int
	// SkippedChunks counts chunks whose channels were all complete.
	SkippedChunks int
	// Fetched counts (channel, span) fetches issued to the source.
	Fetched int
	// Skipped counts (channel, chunk) units already complete.
	Skipped int
	// Failed counts (channel, chunk) units abandoned after source errors.
	Failed int
	// Empty counts fetches whose preprocessed output carried no samples.
	Empty int
}

func (s *Summary) add(other Summary) {
	s.SkippedChunks += other.SkippedChunks
	s.Fetched += other.Fetched
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Empty += other.Empty
}

// Orchestrator drives the acquisition stage.
type Orchestrator struct {
	cfg     *config.Config
	catalog seis.Catalog
	source  seis.DataSource
	prep    seis.Preprocessor
	raw     store.RawDataStore

	// MetaDir, when set, receives the run metadata document and the
	// station roster once per run.
	MetaDir string

	// OnPlan and OnChunk, when set, observe progress: OnPlan receives the
	// total chunk count, OnChunk fires after each owned chunk completes.
	OnPlan  func(totalChunks int)
	OnChunk func()

	log *slog.Logger
}

// New builds an acquisition orchestrator.
func New(cfg *config.Config, catalog seis.Catalog, source seis.DataSource, prep seis.Preprocessor, raw store.RawDataStore) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		catalog: catalog,
		source:  source,
		prep:    prep,
		raw:     raw,
		log:     logging.Component("acquire"),
	}
}

// plan is the shared run state rank 0 computes and broadcasts.
type plan struct {
	stations []model.Station
	chunks   []chunk.TimeRange
}

// Run executes the stage across the configured worker count. It returns a
// fatal error only for pre-flight failures; per-channel problems are
// logged, counted and left for the next run.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
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
	total.Chunks = summaries[0].Chunks
	o.log.Info("acquisition finished",
		"chunks", total.Chunks,
		"chunks_skipped", total.SkippedChunks,
		"fetched", total.Fetched,
		"skipped", total.Skipped,
		"failed", total.Failed,
		"empty", total.Empty)
	return total, nil
}

func (o *Orchestrator) runWorker(ctx context.Context, w *coord.Worker) (Summary, error) {
	p, err := coord.Broadcast(ctx, w, o.prepare)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Chunks: len(p.chunks)}
	log := logging.Worker("acquire", w.Rank())
	for i, ck := range p.chunks {
		if !w.Owns(i) {
			continue
		}
		o.processChunk(ctx, log, p.stations, ck, &s)
		if o.OnChunk != nil {
			o.OnChunk()
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}
	}

	// All workers finish the stage together so downstream stages never
	// observe a half-written run.
	if err := w.Barrier(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// prepare runs once, on rank 0: station lookup, memory pre-flight, chunk
// planning, and the per-run metadata artifacts.
func (o *Orchestrator) prepare(ctx context.Context) (plan, error) {
	span := chunk.TimeRange{Start: o.cfg.Acquisition.Start, End: o.cfg.Acquisition.End}
	stations, err := o.catalog.GetChannels(ctx,
		o.cfg.Acquisition.Networks,
		o.cfg.Acquisition.Stations,
		o.cfg.Acquisition.Channels,
		span,
		o.cfg.Acquisition.Bounds)
	if err != nil {
		return plan{}, errors.Wrap(err, "station lookup")
	}
	if len(stations) == 0 {
		return plan{}, errors.NewNotFound("stations", "catalog query returned none")
	}

	if err := o.cfg.CheckMemoryBudget(len(stations)); err != nil {
		return plan{}, err
	}

	boundaries, err := chunk.Plan(span, o.cfg.Increment())
	if err != nil {
		return plan{}, err
	}
	chunks := chunk.Chunks(boundaries)

	if o.MetaDir != "" {
		if err := o.writeRunArtifacts(stations); err != nil {
			return plan{}, err
		}
	}

	o.log.Info("acquisition planned",
		"stations", len(stations),
		"chunks", len(chunks),
		"start", span.Start,
		"end", span.End)
	if o.OnPlan != nil {
		o.OnPlan(len(chunks))
	}
	return plan{stations: stations, chunks: chunks}, nil
}

// processChunk handles one chunk across all channels. Failures are scoped
// to the (channel, chunk) unit.
func (o *Orchestrator) processChunk(ctx context.Context, log *slog.Logger, stations []model.Station, ck chunk.TimeRange, s *Summary) {
	type work struct {
		station model.Station
		gaps    []chunk.TimeRange
	}
	var pending []work

	for _, st := range stations {
		existing, err := o.raw.GetTimespans(ctx, st.Id)
		if err != nil {
			log.Warn("timespan listing failed", "channel", st.Id, "error", err)
			s.Failed++
			continue
		}
		gaps := chunk.MissingSpans(ck, existing)
		if len(gaps) == 0 {
			s.Skipped++
			continue
		}
		pending = append(pending, work{station: st, gaps: gaps})
	}
	if len(pending) == 0 {
		log.Debug("chunk complete, skipping", "chunk", ck)
		s.SkippedChunks++
		return
	}

	for _, wk := range pending {
		if err := o.fillChannel(ctx, wk.station, ck, wk.gaps, s); err != nil {
			log.Warn("channel acquisition failed", "channel", wk.station.Id, "chunk", ck, "error", err)
			s.Failed++
		}
	}
}

// fillChannel fetches, preprocesses and persists each missing span of one
// channel within one chunk.
func (o *Orchestrator) fillChannel(ctx context.Context, st model.Station, ck chunk.TimeRange, gaps []chunk.TimeRange, s *Summary) error {
	for _, gap := range gaps {
		raw, err := o.source.Fetch(ctx, st.Id, gap)
		if err != nil {
			return err
		}
		s.Fetched++

		seg, err := o.prep.Preprocess(ctx, raw, st, o.cfg, gap)
		if err != nil {
			return err
		}
		if seg.IsEmpty() {
			// Full-gap data is a valid outcome; the span stays missing
			// and is retried on the next run.
			s.Empty++
			continue
		}
		if err := o.raw.Save(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

// writeRunArtifacts persists the metadata document and station roster.
// An existing metadata document from a prior run is kept, so resumed runs
// stay parameter-consistent with the data already on disk.
func (o *Orchestrator) writeRunArtifacts(stations []model.Station) error {
	if meta, err := config.ReadRunMetadata(o.MetaDir); err == nil {
		meta.Apply(o.cfg)
		o.log.Info("resuming run", "run_id", meta.RunID, "created_at", meta.CreatedAt)
		return WriteRoster(o.MetaDir, stations)
	} else if !errors.IsNotFound(err) {
		return err
	}

	meta := config.NewRunMetadata(o.cfg, len(stations))
	if err := meta.Write(o.MetaDir); err != nil {
		return err
	}
	o.log.Info("new run", "run_id", meta.RunID)
	return WriteRoster(o.MetaDir, stations)
}
