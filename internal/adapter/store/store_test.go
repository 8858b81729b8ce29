package store

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

func testMatrix() domain.FeatureMatrix {
	return domain.FeatureMatrix{
		RunID:       "2b7e1516-28ae-4d2a-a6d2-abf7158809cf",
		GeneratedAt: time.Date(2024, 1, 3, 6, 30, 0, 0, time.UTC),
		Policy:      domain.FillMissing,
		Index: []time.Time{
			time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
		},
		Columns: []string{"gfs-ens-bc_9", "ecmwf_diff_8", "noon"},
		Values: [][]float64{
			{1.5, 99, 1},
			{math.NaN(), -0.125, 0},
			{1234567.891, 0, 1},
		},
	}
}

// nanEqual treats NaN cells as equal so matrices with missing values compare.
var nanEqual = cmpopts.EquateNaNs()

func TestWriteCSV_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testMatrix()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "features", buf.Bytes())
}

func TestCSVStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features_gw_hdd.csv")
	s := NewCSVStore(path)
	want := testMatrix()

	require.NoError(t, s.Persist(context.Background(), want))
	got, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, want.Columns, got.Columns)
	if diff := cmp.Diff(want.Index, got.Index); diff != "" {
		t.Errorf("index mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Values, got.Values, nanEqual); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestCSVStore_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	s := NewCSVStore(path)
	require.NoError(t, s.Persist(context.Background(), testMatrix()))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, got.Index, 3)
}

func TestReadCSV_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty feature file"},
		{"wrong index column", "date,a\n2024-01-01 00:00:00,1\n", "issue_time"},
		{"bad time", "issue_time,a\n2024-01-01T00:00:00Z,1\n", "line 2"},
		{"bad value", "issue_time,a\n2024-01-01 00:00:00,abc\n", "column a"},
		{"ragged row", "issue_time,a,b\n2024-01-01 00:00:00,1\n", "line 2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	want := testMatrix()
	require.NoError(t, s.Persist(ctx, want))
	// Persisting the same run twice replaces it.
	require.NoError(t, s.Persist(ctx, want))

	got, err := s.Load(ctx, want.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, nanEqual); diff != "" {
		t.Errorf("matrix mismatch (-want +got):\n%s", diff)
	}

	latest, err := s.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.RunID, latest)
}

func TestSQLiteStore_LatestRunIDOrdersSubsecond(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	older := testMatrix()
	older.RunID = "older"
	older.GeneratedAt = time.Date(2024, 1, 3, 6, 30, 5, 0, time.UTC)
	newer := testMatrix()
	newer.RunID = "newer"
	newer.GeneratedAt = older.GeneratedAt.Add(500 * time.Millisecond)

	require.NoError(t, s.Persist(ctx, newer))
	require.NoError(t, s.Persist(ctx, older))

	latest, err := s.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newer", latest)

	got, err := s.Load(ctx, "newer")
	require.NoError(t, err)
	assert.True(t, newer.GeneratedAt.Equal(got.GeneratedAt))
}

func TestSQLiteStore_Errors(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.LatestRunID(ctx)
	require.ErrorIs(t, err, ErrRunNotFound)

	m := testMatrix()
	m.RunID = ""
	require.Error(t, s.Persist(ctx, m))
}

func TestWriteManifest(t *testing.T) {
	m := testMatrix()
	skips := []domain.Skip{{
		Group: domain.GroupGFSDivergence,
		Step:  1,
		Key:   domain.NewRunKey(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 0),
		Err:   &domain.LeadDayIndexError{Path: "gfs-ens-bc.20240102.00.gw_hdd.csv", Index: 11, Len: 5},
	}}

	path := ManifestPath(filepath.Join(t.TempDir(), "features_gw_hdd.csv"))
	assert.True(t, strings.HasSuffix(path, "features_gw_hdd.manifest.json"))
	require.NoError(t, WriteManifest(path, NewManifest(m, 4, []string{"gfs-ens-bc_9"}, skips)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Manifest
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, m.RunID, got.RunID)
	assert.True(t, m.GeneratedAt.Equal(got.GeneratedAt))
	assert.Equal(t, "missing", got.FillPolicy)
	assert.Equal(t, 4, got.AlignedRuns)
	assert.Equal(t, 3, got.Rows)
	assert.Equal(t, m.Columns, got.Columns)
	require.Len(t, got.Skipped, 1)
	assert.Equal(t, domain.GroupGFSDivergence, got.Skipped[0].Group)
	assert.Equal(t, "20240102.00", got.Skipped[0].IssueTime)

	require.Len(t, got.Summary, 3)
	assert.Equal(t, 2, got.Summary[0].Count, "NaN cell ignored")
	assert.Equal(t, 1, got.Summary[2].Zeros)
}
