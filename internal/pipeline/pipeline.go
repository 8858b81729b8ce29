package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/ensemble-features/internal/adapter/store"
	"github.com/couchcryptid/ensemble-features/internal/domain"
	"github.com/couchcryptid/ensemble-features/internal/observability"
)

const (
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
)

// Catalog discovers the snapshot files of each required model.
type Catalog interface {
	Discover(models []string) (domain.Listing, error)
}

// Sink persists an assembled feature matrix.
type Sink interface {
	Name() string
	Persist(ctx context.Context, m domain.FeatureMatrix) error
}

// Options controls what a run derives and where its by-products go.
type Options struct {
	Models       []string
	Groups       []domain.GroupSpec
	FillPolicy   domain.FillPolicy
	LabelColumns []string

	// ManifestPath, when set, receives a JSON run manifest.
	ManifestPath string
	// MetricsTextfile, when set, receives the gathered metrics after each run.
	MetricsTextfile string
	Gatherer        prometheus.Gatherer

	// SinkRetries is the number of attempts per sink; RetryBackoff is the
	// first delay between them.
	SinkRetries  int
	RetryBackoff time.Duration
}

// Result is the outcome of one complete run.
type Result struct {
	Listing domain.Listing
	Runs    domain.AlignedRuns
	Matrix  domain.FeatureMatrix
	Skipped []domain.Skip
}

// Pipeline orchestrates the catalog, align, derive, assemble and persist stages.
type Pipeline struct {
	catalog Catalog
	source  domain.SeriesSource
	sinks   []Sink
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// New creates a Pipeline with the given stages and observability.
func New(c Catalog, source domain.SeriesSource, sinks []Sink, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.SinkRetries < 1 {
		opts.SinkRetries = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Pipeline{
		catalog:  c,
		source:   source,
		sinks:    sinks,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		progress: Progress{Stage: StageIdle},
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Align catalogs every required model and aligns the catalogs into one run
// sequence.
func (p *Pipeline) Align() (domain.Listing, domain.AlignedRuns, error) {
	p.update(func(pr *Progress) { pr.Stage = StageCataloging })
	listing, err := p.catalog.Discover(p.opts.Models)
	if err != nil {
		return domain.Listing{}, domain.AlignedRuns{}, fmt.Errorf("catalog snapshots: %w", err)
	}

	p.update(func(pr *Progress) { pr.Stage = StageAligning })
	runs, err := domain.Align(listing.Files)
	if err != nil {
		return listing, domain.AlignedRuns{}, err
	}

	p.metrics.AlignedRuns.Set(float64(runs.Len()))
	p.metrics.AlignmentPasses.Set(float64(runs.Passes))
	p.logger.Info("runs aligned",
		"runs", runs.Len(),
		"passes", runs.Passes,
		"first", runs.Keys[0].String(),
		"last", runs.Keys[runs.Len()-1].String(),
	)
	return listing, runs, nil
}

// Run executes one complete batch and persists the matrix to every sink.
// A failing sink fails the run after its retries are exhausted.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	defer p.writeTextfile()

	p.update(func(pr *Progress) { *pr = Progress{Stage: StageCataloging} })
	res, err := p.run(ctx)
	if err != nil {
		p.update(func(pr *Progress) {
			pr.Stage = StageFailed
			pr.Error = err.Error()
		})
		return res, err
	}

	p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	p.metrics.LastSuccessUnixTime.Set(float64(res.Matrix.GeneratedAt.Unix()))
	p.ready.Store(true)
	p.update(func(pr *Progress) { pr.Stage = StageDone })
	p.logger.Info("pipeline finished",
		"run_id", res.Matrix.RunID,
		"rows", len(res.Matrix.Index),
		"columns", len(res.Matrix.Columns),
		"skipped", len(res.Skipped),
		"duration", time.Since(start),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (Result, error) {
	var res Result
	var err error

	res.Listing, res.Runs, err = p.Align()
	if err != nil {
		return res, err
	}

	steps := res.Runs.Len() - 1
	p.update(func(pr *Progress) {
		pr.Stage = StageDeriving
		pr.AlignedRuns = res.Runs.Len()
		pr.Steps = steps
	})
	deriver := domain.NewDeriver(res.Runs, p.source)
	tables, skips, err := deriver.DeriveContext(ctx, p.opts.Groups, p.recordSkip,
		func(step int) { p.update(func(pr *Progress) { pr.Step = step }) })
	res.Skipped = skips
	if err != nil {
		return res, err
	}
	for _, t := range tables {
		p.metrics.RowsDerived.WithLabelValues(string(t.Group)).Add(float64(len(t.Rows)))
	}

	matrix, err := domain.Assemble(tables, p.opts.FillPolicy)
	if err != nil {
		return res, fmt.Errorf("assemble features: %w", err)
	}
	matrix.RunID = uuid.NewString()
	res.Matrix = matrix
	p.metrics.MatrixRows.Set(float64(len(matrix.Index)))

	p.update(func(pr *Progress) {
		pr.Stage = StagePersisting
		pr.RunID = matrix.RunID
		pr.Rows = len(matrix.Index)
	})
	for _, sink := range p.sinks {
		if err := p.persist(ctx, sink, matrix); err != nil {
			return res, err
		}
	}

	if p.opts.ManifestPath != "" {
		man := store.NewManifest(matrix, res.Runs.Len(), p.opts.LabelColumns, skips)
		if err := store.WriteManifest(p.opts.ManifestPath, man); err != nil {
			return res, err
		}
	}
	return res, nil
}

// recordSkip logs a dropped step and counts it by reason.
func (p *Pipeline) recordSkip(s domain.Skip) {
	reason := "other"
	var (
		readErr  *domain.SnapshotReadError
		indexErr *domain.LeadDayIndexError
	)
	switch {
	case errors.As(s.Err, &readErr):
		reason = "read"
	case errors.As(s.Err, &indexErr):
		reason = "lead_day"
	}
	p.metrics.StepsSkipped.WithLabelValues(string(s.Group), reason).Inc()
	p.update(func(pr *Progress) { pr.Skipped++ })
	p.logger.Warn("feature step skipped",
		"group", s.Group,
		"step", s.Step,
		"issue", s.Key.String(),
		"reason", reason,
		"error", s.Err,
	)
}

// persist writes m to sink, retrying with exponential backoff.
func (p *Pipeline) persist(ctx context.Context, sink Sink, m domain.FeatureMatrix) error {
	backoff := p.opts.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := sink.Persist(ctx, m)
		if err == nil {
			p.metrics.RowsPersisted.WithLabelValues(sink.Name()).Add(float64(len(m.Index)))
			p.logger.Info("feature matrix persisted", "sink", sink.Name(), "rows", len(m.Index))
			return nil
		}
		p.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
		if attempt >= p.opts.SinkRetries || ctx.Err() != nil {
			return fmt.Errorf("persist to %s: %w", sink.Name(), err)
		}

		p.logger.Warn("sink write failed, retrying", "sink", sink.Name(), "attempt", attempt, "backoff", backoff, "error", err)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("persist to %s: %w", sink.Name(), ctx.Err())
		}
		backoff = sharedretry.NextBackoff(backoff, maxRetryBackoff)
	}
}

func (p *Pipeline) writeTextfile() {
	if p.opts.MetricsTextfile == "" || p.opts.Gatherer == nil {
		return
	}
	if err := observability.WriteTextfile(p.opts.MetricsTextfile, p.opts.Gatherer); err != nil {
		p.logger.Error("write metrics textfile failed", "path", p.opts.MetricsTextfile, "error", err)
	}
}
