package snapshot

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ensemble-features/internal/config"
	"github.com/couchcryptid/ensemble-features/internal/domain"
	"github.com/couchcryptid/ensemble-features/internal/observability"
)

const body = `Date,Lead,LeadDay,Value
2024-01-01,0,0,50.0
2024-01-02,1,1,10.5
2024-01-03,2,2,11.5
2024-01-04,3,3,
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(body), 0o600))
	}
}

func testConfig(dir string, trims ...config.ModelTrim) *config.Config {
	return &config.Config{
		DataDir:         dir,
		DegreeDayMetric: "gw_hdd",
		CycleHours:      []int{0, 12},
		Models:          trims,
	}
}

func TestCatalog_Discover(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"ecmwf.20240102.00.gw_hdd.csv",
		"ecmwf.20240101.12.gw_hdd.csv",
		"ecmwf.20240101.00.gw_hdd.csv",
		"ecmwf.20240103.00.gw_hdd.csv",
		"ecmwf-eps.20240101.12.gw_hdd.csv",
		"ecmwf-eps.20240101.00.gw_hdd.csv",
		"ecmwf.20240104.00.ew_cdd.csv", // other metric, ignored
		"ecmwf.2024-01-05.00.gw_hdd.csv",
		"ecmwf.20240105.06.gw_hdd.csv",
		"ecmwf.20240105.00.gw_hdd.txt", // not a csv
		"README.md",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "ecmwf.20240106.00.gw_hdd.csv"), 0o755))

	cfg := testConfig(dir, config.ModelTrim{Model: "ecmwf", Trim: 1}, config.ModelTrim{Model: "ecmwf-eps"})
	metrics := observability.NewMetricsForTesting()
	listing, err := NewCatalog(cfg, discardLogger(), metrics).Discover(cfg.ModelNames())
	require.NoError(t, err)

	ecmwf := listing.Files["ecmwf"]
	require.Len(t, ecmwf, 3, "earliest of four valid files trimmed")
	assert.Equal(t, "20240101.12", ecmwf[0].Key.String())
	assert.Equal(t, "20240102.00", ecmwf[1].Key.String())
	assert.Equal(t, "20240103.00", ecmwf[2].Key.String())
	assert.Equal(t, filepath.Join(dir, "ecmwf.20240101.12.gw_hdd.csv"), ecmwf[0].Path)

	eps := listing.Files["ecmwf-eps"]
	require.Len(t, eps, 2)
	assert.Equal(t, "ecmwf-eps", eps[0].Model)

	var rejected []string
	for _, r := range listing.Rejected {
		rejected = append(rejected, r.Name)
		var perr *domain.FilenameParseError
		assert.ErrorAs(t, r.Err, &perr)
	}
	assert.ElementsMatch(t, []string{"ecmwf.2024-01-05.00.gw_hdd.csv", "ecmwf.20240105.06.gw_hdd.csv"}, rejected)

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FilenameErrors), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.SnapshotsCataloged.WithLabelValues("ecmwf")), 0)
}

func TestCatalog_EmptyModel(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "ecmwf.20240101.00.gw_hdd.csv")

	cfg := testConfig(dir, config.ModelTrim{Model: "ecmwf"}, config.ModelTrim{Model: "cmc-ens"})
	listing, err := NewCatalog(cfg, discardLogger(), observability.NewMetricsForTesting()).Discover(cfg.ModelNames())
	require.NoError(t, err)

	assert.Len(t, listing.Files["ecmwf"], 1)
	assert.Empty(t, listing.Files["cmc-ens"])
	assert.Contains(t, listing.Files, "cmc-ens")
}

func TestCatalog_TrimExceedsCount(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "ecmwf.20240101.00.gw_hdd.csv", "ecmwf.20240101.12.gw_hdd.csv")

	cfg := testConfig(dir, config.ModelTrim{Model: "ecmwf", Trim: 3})
	listing, err := NewCatalog(cfg, discardLogger(), observability.NewMetricsForTesting()).Discover(cfg.ModelNames())
	require.NoError(t, err)
	assert.Empty(t, listing.Files["ecmwf"])
}

func TestCatalog_MissingDirectory(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "absent"), config.ModelTrim{Model: "ecmwf"})
	_, err := NewCatalog(cfg, discardLogger(), observability.NewMetricsForTesting()).Discover(cfg.ModelNames())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_Series(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "ecmwf.20240101.00.gw_hdd.csv")
	file, err := domain.ParseSnapshotName("ecmwf.20240101.00.gw_hdd.csv", []int{0, 12})
	require.NoError(t, err)
	file.Path = filepath.Join(dir, file.Path)

	s, err := Loader{}.Series(file)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	v, err := s.At(0)
	require.NoError(t, err)
	assert.InDelta(t, 10.5, v, 1e-9)
	v, err = s.At(2)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v), "empty cell reads as NaN")
}

func TestLoader_MissingFile(t *testing.T) {
	file := domain.SnapshotFile{Model: "ecmwf", Path: filepath.Join(t.TempDir(), "gone.csv")}
	_, err := Loader{}.Series(file)

	var rerr *domain.SnapshotReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, file.Path, rerr.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
