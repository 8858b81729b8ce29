package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	leadDayColumn   = 2
	valueColumnName = "Value"
	minColumns      = 3
)

// SeriesPoint is one filtered snapshot row.
type SeriesPoint struct {
	LeadDay int
	Value   float64
}

// RunSeries is the lead-day series of one snapshot after the lead-day filter.
// Index 0 corresponds to lead day 1.
type RunSeries struct {
	File   SnapshotFile
	Points []SeriesPoint
}

// Len returns the number of filtered rows.
func (s RunSeries) Len() int { return len(s.Points) }

// At returns the value at a zero-based index, or a LeadDayIndexError when the
// index falls outside the series.
func (s RunSeries) At(index int) (float64, error) {
	if index < 0 || index >= len(s.Points) {
		return 0, &LeadDayIndexError{Path: s.File.Path, Index: index, Len: len(s.Points)}
	}
	return s.Points[index].Value, nil
}

// ParseSeries reads a snapshot body, keeping rows whose lead-day indicator
// (column index 2) is at least 1. Any malformed input yields a SnapshotReadError.
// Empty Value cells read as NaN.
func ParseSeries(file SnapshotFile, r io.Reader) (RunSeries, error) {
	fail := func(err error) (RunSeries, error) {
		return RunSeries{}, &SnapshotReadError{Path: file.Path, Err: err}
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return fail(errors.New("empty snapshot"))
	}
	if err != nil {
		return fail(err)
	}
	if len(header) < minColumns {
		return fail(fmt.Errorf("expected at least %d columns, got %d", minColumns, len(header)))
	}

	valueIdx := -1
	for i, h := range header {
		if strings.TrimSpace(h) == valueColumnName {
			valueIdx = i
			break
		}
	}
	if valueIdx < 0 {
		return fail(fmt.Errorf("missing %q column", valueColumnName))
	}

	series := RunSeries{File: file}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}

		indicator, err := strconv.ParseFloat(strings.TrimSpace(row[leadDayColumn]), 64)
		if err != nil {
			return fail(fmt.Errorf("line %d: lead-day indicator %q: %w", line, row[leadDayColumn], err))
		}
		if indicator < 1 {
			continue
		}

		value, err := parseValue(row[valueIdx])
		if err != nil {
			return fail(fmt.Errorf("line %d: value %q: %w", line, row[valueIdx], err))
		}
		series.Points = append(series.Points, SeriesPoint{LeadDay: int(indicator), Value: value})
	}
	return series, nil
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
