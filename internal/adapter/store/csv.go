package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

const (
	indexColumn = "issue_time"
	timeLayout  = "2006-01-02 15:04:05"
)

// CSVStore persists a FeatureMatrix as a single CSV file.
type CSVStore struct {
	path string
}

// NewCSVStore creates a store writing to path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Name identifies the sink in logs and metrics.
func (s *CSVStore) Name() string { return "csv" }

// Persist writes m to a temporary file next to the target and renames it into
// place, so readers never see a partial matrix.
func (s *CSVStore) Persist(_ context.Context, m domain.FeatureMatrix) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".features-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := WriteCSV(tmp, m); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename feature matrix: %w", err)
	}
	return nil
}

// Load reads the matrix back from the store's path.
func (s *CSVStore) Load() (domain.FeatureMatrix, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return domain.FeatureMatrix{}, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV writes m with an issue_time index column followed by the feature
// columns. Missing cells are written empty.
func WriteCSV(w io.Writer, m domain.FeatureMatrix) error {
	cw := csv.NewWriter(w)

	header := append([]string{indexColumn}, m.Columns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for i, t := range m.Index {
		record[0] = t.UTC().Format(timeLayout)
		for j, v := range m.Values[i] {
			record[j+1] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a matrix written by WriteCSV. Empty cells read as NaN.
func ReadCSV(r io.Reader) (domain.FeatureMatrix, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.FeatureMatrix{}, errors.New("empty feature file")
	}
	if err != nil {
		return domain.FeatureMatrix{}, fmt.Errorf("read header: %w", err)
	}
	if header[0] != indexColumn {
		return domain.FeatureMatrix{}, fmt.Errorf("first column is %q, want %q", header[0], indexColumn)
	}

	m := domain.FeatureMatrix{Columns: header[1:]}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.FeatureMatrix{}, fmt.Errorf("line %d: %w", line, err)
		}

		t, err := time.Parse(timeLayout, record[0])
		if err != nil {
			return domain.FeatureMatrix{}, fmt.Errorf("line %d: issue time: %w", line, err)
		}
		row := make([]float64, len(m.Columns))
		for j, cell := range record[1:] {
			if row[j], err = parseValue(cell); err != nil {
				return domain.FeatureMatrix{}, fmt.Errorf("line %d column %s: %w", line, m.Columns[j], err)
			}
		}
		m.Index = append(m.Index, t)
		m.Values = append(m.Values, row)
	}
	return m, nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseValue(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
