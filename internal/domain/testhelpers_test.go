package domain

import (
	"fmt"
	"testing"
	"time"
)

var testCycles = []int{0, 12}

// fakeSource serves series from memory keyed by path.
type fakeSource struct {
	series map[string]RunSeries
	errs   map[string]error
	calls  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{series: map[string]RunSeries{}, errs: map[string]error{}}
}

func (f *fakeSource) Series(file SnapshotFile) (RunSeries, error) {
	f.calls++
	if err, ok := f.errs[file.Path]; ok {
		return RunSeries{}, err
	}
	s, ok := f.series[file.Path]
	if !ok {
		return RunSeries{}, &SnapshotReadError{Path: file.Path, Err: fmt.Errorf("no fixture")}
	}
	return s, nil
}

func (f *fakeSource) put(file SnapshotFile, values ...float64) {
	s := RunSeries{File: file}
	for i, v := range values {
		s.Points = append(s.Points, SeriesPoint{LeadDay: i + 1, Value: v})
	}
	f.series[file.Path] = s
}

func key(t *testing.T, date string, hour int) RunKey {
	t.Helper()
	d, err := time.Parse("20060102", date)
	if err != nil {
		t.Fatalf("bad test date %q: %v", date, err)
	}
	return NewRunKey(d, hour)
}

func snapshot(model string, k RunKey) SnapshotFile {
	name := fmt.Sprintf("%s.%s.gw_hdd.csv", model, k)
	return SnapshotFile{Model: model, Key: k, Metric: "gw_hdd", Path: name}
}

func catalogOf(models []string, keys ...RunKey) map[string][]SnapshotFile {
	out := make(map[string][]SnapshotFile, len(models))
	for _, m := range models {
		for _, k := range keys {
			out[m] = append(out[m], snapshot(m, k))
		}
	}
	return out
}

// ramp returns n values start, start+1, ...
func ramp(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}
