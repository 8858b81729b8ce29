package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	issueDateLayout = "20060102"
	snapshotExt     = "csv"
	snapshotFields  = 5
)

// RunKey identifies one forecast cycle by issue date and hour.
// Keys are comparable and can be used as map keys.
type RunKey struct {
	Date time.Time // UTC midnight of the issue date
	Hour int
}

// NewRunKey builds a RunKey, dropping any time-of-day component from date.
func NewRunKey(date time.Time, hour int) RunKey {
	y, m, d := date.Date()
	return RunKey{Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Hour: hour}
}

// Time returns the issue timestamp: the issue date at the issue hour, UTC.
func (k RunKey) Time() time.Time {
	return k.Date.Add(time.Duration(k.Hour) * time.Hour)
}

// EffectiveDate is the calendar date lead day 0 is anchored to.
func (k RunKey) EffectiveDate() time.Time {
	y, m, d := k.Time().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Compare orders keys by issue date, then hour.
func (k RunKey) Compare(o RunKey) int {
	if c := k.Date.Compare(o.Date); c != 0 {
		return c
	}
	switch {
	case k.Hour < o.Hour:
		return -1
	case k.Hour > o.Hour:
		return 1
	}
	return 0
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s.%02d", k.Date.Format(issueDateLayout), k.Hour)
}

// SnapshotFile is one snapshot on disk.
type SnapshotFile struct {
	Model  string
	Key    RunKey
	Metric string
	Path   string
}

// ParseSnapshotName parses "<model>.<YYYYMMDD>.<HH>.<metric>.csv". The hour
// must be one of cycleHours. The returned file has Path set to name.
func ParseSnapshotName(name string, cycleHours []int) (SnapshotFile, error) {
	parts := strings.Split(name, ".")
	if len(parts) != snapshotFields {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: fmt.Sprintf("expected %d dot-separated fields, got %d", snapshotFields, len(parts))}
	}
	model, dateStr, hourStr, metric, ext := parts[0], parts[1], parts[2], parts[3], parts[4]

	if model == "" || metric == "" {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: "empty model or metric field"}
	}
	if ext != snapshotExt {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: fmt.Sprintf("unexpected extension %q", ext)}
	}
	if len(dateStr) != len(issueDateLayout) {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: fmt.Sprintf("issue date %q is not YYYYMMDD", dateStr)}
	}
	date, err := time.Parse(issueDateLayout, dateStr)
	if err != nil {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: fmt.Sprintf("issue date %q is not YYYYMMDD", dateStr)}
	}
	if len(hourStr) != 2 {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: fmt.Sprintf("issue hour %q is not HH", hourStr)}
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: fmt.Sprintf("issue hour %q is not HH", hourStr)}
	}
	if !slices.Contains(cycleHours, hour) {
		return SnapshotFile{}, &FilenameParseError{Name: name, Reason: fmt.Sprintf("issue hour %02d is not a configured cycle", hour)}
	}

	return SnapshotFile{
		Model:  model,
		Key:    NewRunKey(date, hour),
		Metric: metric,
		Path:   name,
	}, nil
}

// SortFiles orders files ascending by RunKey.
func SortFiles(files []SnapshotFile) {
	slices.SortStableFunc(files, func(a, b SnapshotFile) int { return a.Key.Compare(b.Key) })
}

// TrimPrefix drops the earliest n files of a sorted catalog.
func TrimPrefix(files []SnapshotFile, n int) []SnapshotFile {
	if n <= 0 {
		return files
	}
	if n >= len(files) {
		return nil
	}
	return files[n:]
}
