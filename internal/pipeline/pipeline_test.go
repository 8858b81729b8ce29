package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ensemble-features/internal/adapter/snapshot"
	"github.com/couchcryptid/ensemble-features/internal/adapter/store"
	"github.com/couchcryptid/ensemble-features/internal/config"
	"github.com/couchcryptid/ensemble-features/internal/domain"
	"github.com/couchcryptid/ensemble-features/internal/observability"
	"github.com/couchcryptid/ensemble-features/internal/pipeline"
)

var models = []string{"ecmwf", "ecmwf-eps", "gfs-ens-bc", "cmc-ens"}

// issues are a morning, noon and next-morning cycle; run n carries the
// series 100*(n+1)+i at index i.
var issues = []string{"20240101.00", "20240101.12", "20240102.00"}

// --- fixtures ---

func writeSnapshot(t *testing.T, dir, model, issue string, base float64, rows int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Date,Lead,LeadDay,Value\n")
	b.WriteString("2024-01-01,0,0,0\n")
	for i := range rows {
		fmt.Fprintf(&b, "2024-01-%02d,%d,%d,%g\n", i+2, i+1, i+1, base+float64(i))
	}
	name := fmt.Sprintf("%s.%s.gw_hdd.csv", model, issue)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o600))
}

func writeHistory(t *testing.T, dir string, models ...string) {
	t.Helper()
	for _, m := range models {
		for n, issue := range issues {
			writeSnapshot(t, dir, m, issue, float64(100*(n+1)), 15)
		}
	}
}

type fixture struct {
	dir     string
	out     string
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "RawData")
	require.NoError(t, os.Mkdir(dir, 0o755))
	return &fixture{
		dir:     dir,
		out:     filepath.Join(root, "features_gw_hdd.csv"),
		metrics: observability.NewMetricsForTesting(),
	}
}

func (f *fixture) pipeline(policy domain.FillPolicy, sinks ...pipeline.Sink) *pipeline.Pipeline {
	cfg := &config.Config{
		DataDir:         f.dir,
		DegreeDayMetric: "gw_hdd",
		CycleHours:      []int{0, 12},
	}
	for _, m := range models {
		cfg.Models = append(cfg.Models, config.ModelTrim{Model: m})
	}
	cfg.Groups = domain.DefaultGroups(12)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := snapshot.NewCatalog(cfg, logger, f.metrics)
	source := snapshot.NewCachedLoader(snapshot.Loader{}, 2*len(models), f.metrics)
	opts := pipeline.Options{
		Models:       cfg.ModelNames(),
		Groups:       cfg.Groups,
		FillPolicy:   policy,
		LabelColumns: cfg.LabelColumns(),
		ManifestPath: store.ManifestPath(f.out),
		SinkRetries:  3,
		RetryBackoff: time.Millisecond,
	}
	return pipeline.New(catalog, source, sinks, opts, logger, f.metrics)
}

func column(t *testing.T, m domain.FeatureMatrix, name string) []float64 {
	t.Helper()
	col, ok := m.Column(name)
	require.True(t, ok, "column %s", name)
	return col
}

// --- mocks ---

type flakySink struct {
	failures int
	calls    int
	got      domain.FeatureMatrix
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Persist(_ context.Context, m domain.FeatureMatrix) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("broker unavailable")
	}
	s.got = m
	return nil
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	p := f.pipeline(domain.FillZero, store.NewCSVStore(f.out))

	require.Error(t, p.CheckReadiness(context.Background()))

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Runs.Len())
	assert.Empty(t, res.Skipped)

	m := res.Matrix
	_, err = uuid.Parse(m.RunID)
	require.NoError(t, err)
	require.Len(t, m.Index, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), m.Index[0])
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), m.Index[1])

	// Same-date step has offset 0; the step over midnight has offset 1.
	assert.Equal(t, []float64{100, 99}, column(t, m, "ecmwf-eps_10"))
	assert.Equal(t, []float64{100, 99}, column(t, m, "gfs-ens-bc_14"))
	assert.Equal(t, []float64{100, 99}, column(t, m, "ecmwf_diff_8"))
	assert.Equal(t, []float64{100, 99}, column(t, m, "day_8_error"))
	assert.Equal(t, []float64{0, 0}, column(t, m, "cmc-ens_9"), "same-cycle reference")
	assert.Equal(t, []float64{0, 99}, column(t, m, "error_9"), "lagged row zero-filled at the first step")
	assert.Equal(t, []float64{1, 0}, column(t, m, "noon"))

	require.NoError(t, p.CheckReadiness(context.Background()))
	progress := p.Progress()
	assert.Equal(t, pipeline.StageDone, progress.Stage)
	assert.Equal(t, 2, progress.Step)
	assert.Equal(t, m.RunID, progress.RunID)

	saved, err := store.NewCSVStore(f.out).Load()
	require.NoError(t, err)
	assert.Equal(t, m.Columns, saved.Columns)
	assert.FileExists(t, store.ManifestPath(f.out))

	assert.InDelta(t, 3, testutil.ToFloat64(f.metrics.AlignedRuns), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.RowsPersisted.WithLabelValues("csv")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RowsDerived.WithLabelValues(string(domain.GroupLaggedError))), 0)
	assert.Positive(t, testutil.ToFloat64(f.metrics.SeriesCache.WithLabelValues("hit")))
}

func TestPipeline_Run_EmptyModelFailsAlignment(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, "ecmwf", "ecmwf-eps", "gfs-ens-bc")
	p := f.pipeline(domain.FillZero)

	_, err := p.Run(context.Background())

	var aerr *domain.AlignmentEmptyError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 0, aerr.Counts["cmc-ens"])
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, pipeline.StageFailed, p.Progress().Stage)
	assert.NoFileExists(t, f.out)
}

func TestPipeline_Run_TruncatedSnapshotSkipsSteps(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	writeSnapshot(t, f.dir, "gfs-ens-bc", issues[2], 300, 5)
	sink := &flakySink{}
	p := f.pipeline(domain.FillMissing, sink)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	// gfs-ens-bc reads its own truncated run; cmc-ens reads it as reference.
	require.Len(t, res.Skipped, 2)
	groups := []domain.GroupID{res.Skipped[0].Group, res.Skipped[1].Group}
	assert.ElementsMatch(t, []domain.GroupID{domain.GroupGFSDivergence, domain.GroupCMCDivergence}, groups)
	var indexErr *domain.LeadDayIndexError
	require.ErrorAs(t, res.Skipped[0].Err, &indexErr)

	gfs := column(t, sink.got, "gfs-ens-bc_9")
	assert.Equal(t, 100.0, gfs[0])
	assert.True(t, math.IsNaN(gfs[1]), "missing policy keeps the gap")
	assert.Equal(t, []float64{100, 99}, column(t, sink.got, "ecmwf-eps_9"))

	assert.InDelta(t, 1, testutil.ToFloat64(
		f.metrics.StepsSkipped.WithLabelValues(string(domain.GroupGFSDivergence), "lead_day")), 0)
	assert.Equal(t, 2, p.Progress().Skipped)
}

func TestPipeline_Run_UnreadableSnapshot(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	path := filepath.Join(f.dir, "ecmwf."+issues[1]+".gw_hdd.csv")
	require.NoError(t, os.WriteFile(path, []byte("just one column\n"), 0o600))
	p := f.pipeline(domain.FillZero)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	// Only ecmwf-divergence reads ecmwf snapshots, and only as current.
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, res.Skipped[0].Step)
	for _, s := range res.Skipped {
		assert.Equal(t, domain.GroupECMWFDivergence, s.Group)
		var readErr *domain.SnapshotReadError
		assert.ErrorAs(t, s.Err, &readErr)
	}
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SnapshotReadErrors), 0)
}

func TestPipeline_Run_CorruptSnapshotCountedOnce(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	path := filepath.Join(f.dir, "ecmwf-eps."+issues[1]+".gw_hdd.csv")
	require.NoError(t, os.WriteFile(path, []byte("just one column\n"), 0o600))
	p := f.pipeline(domain.FillZero)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	// Most groups read ecmwf-eps, so one bad file drops several rows.
	assert.Greater(t, len(res.Skipped), 1)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SnapshotReadErrors), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(
		f.metrics.StepsSkipped.WithLabelValues(string(domain.GroupEnsembleRevision), "read")), 0)
}

func TestPipeline_Run_RetriesSink(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	sink := &flakySink{failures: 2}
	p := f.pipeline(domain.FillZero, sink)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sink.calls)
	assert.Equal(t, res.Matrix.RunID, sink.got.RunID)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.SinkErrors.WithLabelValues("flaky")), 0)
}

func TestPipeline_Run_SinkExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	sink := &flakySink{failures: 10}
	p := f.pipeline(domain.FillZero, sink)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist to flaky")
	assert.Equal(t, 3, sink.calls)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	p := f.pipeline(domain.FillZero)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_Align(t *testing.T) {
	f := newFixture(t)
	writeHistory(t, f.dir, models...)
	writeSnapshot(t, f.dir, "ecmwf", "20240102.12", 400, 15) // only one model has it
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "ecmwf.bad.00.gw_hdd.csv"), nil, 0o600))

	listing, runs, err := f.pipeline(domain.FillZero).Align()
	require.NoError(t, err)
	assert.Len(t, listing.Files["ecmwf"], 4)
	assert.Len(t, listing.Rejected, 1)
	assert.Equal(t, 3, runs.Len())
	assert.Equal(t, "20240102.00", runs.Keys[2].String())
}
