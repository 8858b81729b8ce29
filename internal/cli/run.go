package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/ensemble-features/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/ensemble-features/internal/adapter/kafka"
	"github.com/couchcryptid/ensemble-features/internal/adapter/snapshot"
	"github.com/couchcryptid/ensemble-features/internal/adapter/store"
	"github.com/couchcryptid/ensemble-features/internal/config"
	"github.com/couchcryptid/ensemble-features/internal/observability"
	"github.com/couchcryptid/ensemble-features/internal/pipeline"
)

var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

// defaultMetrics registers the pipeline metrics once per process.
func defaultMetrics() *observability.Metrics {
	metricsOnce.Do(func() { metrics = observability.NewMetrics() })
	return metrics
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Derive the feature matrix and persist it",
		Long: `Catalog the snapshot directory, align runs across every required model,
derive the configured feature groups and write the matrix to each sink.

Example:
  featurize run --data-dir ./RawData
  featurize run --metric ew_cdd --sink csv,sqlite`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFeatures(cmd, rootOpts)
		},
	}
}

// runSummary is the printed outcome of a run.
type runSummary struct {
	RunID       string   `json:"run_id"`
	AlignedRuns int      `json:"aligned_runs"`
	Rows        int      `json:"rows"`
	Columns     int      `json:"columns"`
	Skipped     int      `json:"skipped"`
	Output      string   `json:"output,omitempty"`
	Sinks       []string `json:"sinks"`
}

func runFeatures(cmd *cobra.Command, opts *RootOptions) error {
	cfg := opts.cfg
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	m := defaultMetrics()

	sinks, closeSinks, err := buildSinks(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open sinks", err)
	}
	defer closeSinks()

	p := newPipeline(cfg, sinks, logger, m)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	res, err := p.Run(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "feature run failed", err)
	}

	summary := runSummary{
		RunID:       res.Matrix.RunID,
		AlignedRuns: res.Runs.Len(),
		Rows:        len(res.Matrix.Index),
		Columns:     len(res.Matrix.Columns),
		Skipped:     len(res.Skipped),
		Sinks:       cfg.Sinks,
	}
	if slices.Contains(cfg.Sinks, config.SinkCSV) {
		summary.Output = cfg.OutputPath
	}
	out := printer{format: opts.Format, w: cmd.OutOrStdout()}
	return out.result(summary, func(w io.Writer) {
		fmt.Fprintf(w, "run %s: %d rows x %d columns from %d aligned runs (%d steps skipped)\n",
			summary.RunID, summary.Rows, summary.Columns, summary.AlignedRuns, summary.Skipped)
		if summary.Output != "" {
			fmt.Fprintf(w, "wrote %s\n", summary.Output)
		}
	})
}

// newPipeline wires the catalog, cached loader and sinks described by cfg.
func newPipeline(cfg *config.Config, sinks []pipeline.Sink, logger *slog.Logger, m *observability.Metrics) *pipeline.Pipeline {
	cacheSize := cfg.SeriesCacheSize
	if cacheSize == 0 {
		cacheSize = 2 * len(cfg.Models)
	}
	catalog := snapshot.NewCatalog(cfg, logger, m)
	source := snapshot.NewCachedLoader(snapshot.Loader{}, cacheSize, m)

	opts := pipeline.Options{
		Models:          cfg.ModelNames(),
		Groups:          cfg.Groups,
		FillPolicy:      cfg.FillPolicy,
		LabelColumns:    cfg.LabelColumns(),
		MetricsTextfile: cfg.MetricsTextfile,
		Gatherer:        prometheus.DefaultGatherer,
		SinkRetries:     cfg.SinkRetries,
	}
	// The manifest sits next to the CSV matrix it describes.
	if slices.Contains(cfg.Sinks, config.SinkCSV) {
		opts.ManifestPath = store.ManifestPath(cfg.OutputPath)
	}
	return pipeline.New(catalog, source, sinks, opts, logger, m)
}

// buildSinks opens every configured sink. The returned func closes those
// that hold connections.
func buildSinks(cfg *config.Config, logger *slog.Logger) ([]pipeline.Sink, func(), error) {
	var (
		sinks   []pipeline.Sink
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error("sink close error", "error", err)
			}
		}
	}

	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkCSV:
			sinks = append(sinks, store.NewCSVStore(cfg.OutputPath))
		case config.SinkSQLite:
			st, err := store.OpenSQLite(cfg.SQLitePath)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, st)
			closers = append(closers, st)
		case config.SinkKafka:
			w := kafkaadapter.NewWriter(cfg, logger)
			sinks = append(sinks, w)
			closers = append(closers, w)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, closeAll, nil
}
