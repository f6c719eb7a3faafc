// Command seisnoise runs the ambient-noise cross-correlation pipeline:
// waveform acquisition, per-window cross-correlation, and stacking, each
// resumable against the stores in a working directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/seisnoise/seisnoise/internal/acquire"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/fdsn"
	"github.com/seisnoise/seisnoise/internal/logging"
	"github.com/seisnoise/seisnoise/internal/query"
	"github.com/seisnoise/seisnoise/internal/seis"
	"github.com/seisnoise/seisnoise/internal/stack"
	"github.com/seisnoise/seisnoise/internal/store"
	"github.com/seisnoise/seisnoise/internal/store/factory"
	s3store "github.com/seisnoise/seisnoise/internal/store/s3"
	"github.com/seisnoise/seisnoise/internal/xcorr"
)

var version = "0.1.0"

// CLI flags
var (
	configFile string
	storePath  string
	backend    string
	logLevel   string
	logJSON    bool
	workers    int
	noProgress bool

	// download flags
	sourceURL     string
	fetchTimeout  time.Duration
	startOverride string
	endOverride   string
	networks      []string
	stations      []string
	channels      []string
	incHours      int

	// cross_correlate flags
	freqNorm string

	// stack flags
	stackMethod string

	// s3 flags
	s3Region    string
	s3Endpoint  string
	s3PathStyle bool

	// inspect flags
	sqlStmt  string
	memLimit string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seisnoise",
	Short: "Ambient-noise cross-correlation pipeline",
	Long: `seisnoise downloads continuous seismic waveforms, cross-correlates
every channel pair over sliding windows, and stacks the results.

Each stage persists into the working directory and is safe to interrupt
and rerun: completed work is detected and skipped.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch missing waveform data into the raw store",
	RunE:  runDownload,
}

var xcorrCmd = &cobra.Command{
	Use:   "cross_correlate",
	Short: "Cross-correlate every channel pair over sliding windows",
	RunE:  runXcorr,
}

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Stack the per-window correlations of every pair",
	RunE:  runStack,
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run download, cross_correlate and stack in sequence",
	RunE:  runAll,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Query the stores with SQL (Parquet backend only)",
	RunE:  runInspect,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	pf.StringVarP(&storePath, "path", "p", ".", "Working directory, or s3://bucket/prefix")
	pf.StringVar(&backend, "backend", "auto", "Storage backend (auto, parquet, flat, s3)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	pf.IntVar(&workers, "workers", 0, "Worker count override (0 = from config)")
	pf.BoolVar(&noProgress, "no-progress", false, "Disable progress bars")
	pf.StringVar(&s3Region, "s3-region", "us-east-1", "AWS region for the s3 backend")
	pf.StringVar(&s3Endpoint, "s3-endpoint", "", "Custom S3 endpoint (MinIO, LocalStack)")
	pf.BoolVar(&s3PathStyle, "s3-path-style", false, "Use path-style S3 addressing")

	for _, cmd := range []*cobra.Command{downloadCmd, allCmd} {
		cmd.Flags().StringVar(&sourceURL, "source", fdsn.DefaultBaseURL, "FDSN service base URL")
		cmd.Flags().DurationVar(&fetchTimeout, "fetch-timeout", 2*time.Minute, "Per-request fetch timeout")
		cmd.Flags().StringVar(&startOverride, "start", "", "Date range start override (RFC 3339)")
		cmd.Flags().StringVar(&endOverride, "end", "", "Date range end override (RFC 3339)")
		cmd.Flags().StringSliceVar(&networks, "networks", nil, "Network codes override")
		cmd.Flags().StringSliceVar(&stations, "stations", nil, "Station patterns override")
		cmd.Flags().StringSliceVar(&channels, "channels", nil, "Channel codes override")
		cmd.Flags().IntVar(&incHours, "inc-hours", 0, "Chunk increment override in hours")
	}
	for _, cmd := range []*cobra.Command{xcorrCmd, allCmd} {
		cmd.Flags().StringVar(&freqNorm, "freq-norm", "", "Frequency normalization override (rma, no, phase_only)")
	}
	for _, cmd := range []*cobra.Command{stackCmd, allCmd} {
		cmd.Flags().StringVar(&stackMethod, "method", "", "Stack method override (linear, pws, robust, nroot, selective, auto_covariance, all)")
	}
	inspectCmd.Flags().StringVar(&sqlStmt, "sql", "", "Ad hoc SQL statement to run instead of the summary")
	inspectCmd.Flags().StringVar(&memLimit, "mem-limit", "1GB", "DuckDB memory limit")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(xcorrCmd)
	rootCmd.AddCommand(stackCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.AddCommand(inspectCmd)
}

// setup parses shared flags into a validated config and a signal-aware
// context.
func setup() (context.Context, context.CancelFunc, *config.Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, nil, nil, fmt.Errorf("bad log level %q: %w", logLevel, err)
	}
	logging.Init(level, logJSON)

	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg = loaded
	}
	if workers > 0 {
		cfg.Resources.Workers = workers
	}
	if stackMethod != "" {
		cfg.Stacking.Method = stackMethod
	}
	if freqNorm != "" {
		cfg.Processing.FreqNorm = freqNorm
	}
	if len(networks) > 0 {
		cfg.Acquisition.Networks = networks
	}
	if len(stations) > 0 {
		cfg.Acquisition.Stations = stations
	}
	if len(channels) > 0 {
		cfg.Acquisition.Channels = channels
	}
	if incHours > 0 {
		cfg.Acquisition.IncHours = incHours
	}
	if startOverride != "" {
		t, err := time.Parse(time.RFC3339, startOverride)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bad --start: %w", err)
		}
		cfg.Acquisition.Start = t.UTC()
	}
	if endOverride != "" {
		t, err := time.Parse(time.RFC3339, endOverride)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bad --end: %w", err)
		}
		cfg.Acquisition.End = t.UTC()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx, stop, cfg, nil
}

// openFactory resolves the backend selection and the metadata directory.
// Run artifacts (metadata, roster) are only written for filesystem
// backends.
func openFactory(ctx context.Context) (*factory.Factory, string, error) {
	kind := factory.BackendKind(backend)
	if backend == "auto" {
		kind = factory.Detect(storePath)
	} else if _, err := factory.ParseBackendKind(backend); err != nil {
		return nil, "", err
	}

	opts := factory.Options{Kind: kind, Root: storePath}
	metaDir := storePath
	if kind == factory.BackendS3 {
		bucket, prefix, err := factory.SplitS3Root(storePath)
		if err != nil {
			return nil, "", err
		}
		s3cfg := s3store.DefaultConfig(bucket, s3Region)
		s3cfg.Endpoint = s3Endpoint
		s3cfg.UsePathStyle = s3PathStyle
		opts.Root = prefix
		opts.S3 = s3cfg
		metaDir = ""
	}

	f, err := factory.New(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	return f, metaDir, nil
}

func newBar(desc string) (onPlan func(int), onItem func()) {
	if noProgress {
		return nil, nil
	}
	var bar *progressbar.ProgressBar
	onPlan = func(total int) {
		bar = progressbar.Default(int64(total), desc)
	}
	onItem = func() {
		if bar != nil {
			bar.Add(1)
		}
	}
	return onPlan, onItem
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, stop, cfg, err := setup()
	if err != nil {
		return err
	}
	defer stop()
	return download(ctx, cfg)
}

func download(ctx context.Context, cfg *config.Config) error {
	f, metaDir, err := openFactory(ctx)
	if err != nil {
		return err
	}
	raw, err := f.OpenRaw(ctx)
	if err != nil {
		return err
	}

	client := fdsn.NewClient(sourceURL, fetchTimeout)
	o := acquire.New(cfg, client, client, seis.NewReferencePreprocessor(), raw)
	o.MetaDir = metaDir
	o.OnPlan, o.OnChunk = newBar("downloading")

	s, err := o.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("download: %d chunks, %d fetched, %d skipped, %d failed, %d empty\n",
		s.Chunks, s.Fetched, s.Skipped, s.Failed, s.Empty)
	return nil
}

func runXcorr(cmd *cobra.Command, args []string) error {
	ctx, stop, cfg, err := setup()
	if err != nil {
		return err
	}
	defer stop()
	return crossCorrelate(ctx, cfg)
}

func crossCorrelate(ctx context.Context, cfg *config.Config) error {
	f, metaDir, err := openFactory(ctx)
	if err != nil {
		return err
	}
	raw, err := f.OpenRaw(ctx)
	if err != nil {
		return err
	}
	cc, err := f.OpenCC(ctx, store.ModeWrite)
	if err != nil {
		return err
	}
	defer cc.Close()

	o := xcorr.New(cfg, seis.NewReferenceKernel(), raw, cc)
	o.MetaDir = metaDir
	o.OnPlan, o.OnPair = newBar("correlating")

	s, err := o.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cross_correlate: %d pairs x %d windows, %d computed, %d existing, %d missing, %d failed\n",
		s.Pairs, s.Windows, s.Computed, s.SkippedExisting, s.SkippedMissing, s.Failed)
	return nil
}

func runStack(cmd *cobra.Command, args []string) error {
	ctx, stop, cfg, err := setup()
	if err != nil {
		return err
	}
	defer stop()
	return stackAll(ctx, cfg)
}

func stackAll(ctx context.Context, cfg *config.Config) error {
	f, metaDir, err := openFactory(ctx)
	if err != nil {
		return err
	}
	cc, err := f.OpenCC(ctx, store.ModeRead)
	if err != nil {
		return err
	}
	defer cc.Close()
	stacks, err := f.OpenStack(ctx)
	if err != nil {
		return err
	}
	defer stacks.Close()

	o := stack.New(cfg, seis.NewReferenceStacker(), cc, stacks)
	o.MetaDir = metaDir
	o.OnPlan, o.OnPair = newBar("stacking")

	s, err := o.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("stack: %d pairs x %d methods, %d stacked, %d empty, %d failed (amp p50 %.3g, p95 %.3g)\n",
		s.Pairs, s.Methods, s.Stacked, s.EmptyPairs, s.Failed, s.AmplitudeP50, s.AmplitudeP95)
	return nil
}

func runAll(cmd *cobra.Command, args []string) error {
	ctx, stop, cfg, err := setup()
	if err != nil {
		return err
	}
	defer stop()

	if err := download(ctx, cfg); err != nil {
		return err
	}
	if err := crossCorrelate(ctx, cfg); err != nil {
		return err
	}
	return stackAll(ctx, cfg)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, stop, _, err := setup()
	if err != nil {
		return err
	}
	defer stop()

	if strings.HasPrefix(storePath, "s3://") {
		return fmt.Errorf("inspect works on local Parquet stores only")
	}
	svc, err := query.New(storePath, memLimit)
	if err != nil {
		return err
	}
	defer svc.Close()

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	defer w.Flush()

	if sqlStmt != "" {
		cols, rows, err := svc.Query(ctx, sqlStmt)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, strings.Join(cols, "\t"))
		for _, rec := range rows {
			fmt.Fprintln(w, strings.Join(rec, "\t"))
		}
		return nil
	}

	coverage, err := svc.RawCoverage(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RAW\tchannel\tspans\tfirst\tlast")
	for _, c := range coverage {
		fmt.Fprintf(w, "\t%s.%s.%s.%s\t%d\t%s\t%s\n",
			c.Network, c.Station, c.Location, c.Channel, c.Spans,
			c.First.Format(time.RFC3339), c.Last.Format(time.RFC3339))
	}

	windows, err := svc.CorrelationWindows(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "CCF\tsource\treceiver\twindows")
	for _, p := range windows {
		fmt.Fprintf(w, "\t%s\t%s\t%d\n", p.Source, p.Receiver, p.Windows)
	}

	stacks, err := svc.Stacks(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "STACK\tsource\treceiver\tmethod\twindows")
	for _, e := range stacks {
		fmt.Fprintf(w, "\t%s\t%s\t%s\t%d\n", e.Source, e.Receiver, e.Method, e.WindowCount)
	}
	return nil
}
