package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrColumnCollision is returned when two feature groups produce the same column name.
	ErrColumnCollision = errors.New("feature column collision")

	// ErrUnknownGroup is returned for a group id outside the closed GroupID set.
	ErrUnknownGroup = errors.New("unknown feature group")

	// errNoPredecessor marks a step that has no earlier run to compare against.
	// It is not a failure and is never recorded as a skip.
	errNoPredecessor = errors.New("step has no predecessor run")
)

// FilenameParseError reports a snapshot file name that does not follow
// <model>.<YYYYMMDD>.<HH>.<metric>.csv. The file is excluded from its catalog.
type FilenameParseError struct {
	Name   string
	Reason string
}

func (e *FilenameParseError) Error() string {
	return fmt.Sprintf("parse snapshot name %q: %s", e.Name, e.Reason)
}

// SnapshotReadError reports a snapshot body that could not be read as a table.
// The run pair that needed it is skipped.
type SnapshotReadError struct {
	Path string
	Err  error
}

func (e *SnapshotReadError) Error() string {
	return fmt.Sprintf("read snapshot %s: %v", e.Path, e.Err)
}

func (e *SnapshotReadError) Unwrap() error { return e.Err }

// LeadDayIndexError reports an index beyond the filtered length of a series.
// The feature row for that step is dropped.
type LeadDayIndexError struct {
	Path  string
	Index int
	Len   int
}

func (e *LeadDayIndexError) Error() string {
	return fmt.Sprintf("lead-day index %d out of range for %s (len %d)", e.Index, e.Path, e.Len)
}

// AlignmentEmptyError reports that no run survived intersection across all
// required models. It is the only fatal condition of a run.
type AlignmentEmptyError struct {
	// Counts holds each model's catalog size before alignment.
	Counts map[string]int
}

func (e *AlignmentEmptyError) Error() string {
	if len(e.Counts) == 0 {
		return "no aligned runs: no models configured"
	}
	models := make([]string, 0, len(e.Counts))
	for m := range e.Counts {
		models = append(models, m)
	}
	sort.Strings(models)
	parts := make([]string, len(models))
	for i, m := range models {
		parts[i] = fmt.Sprintf("%s=%d", m, e.Counts[m])
	}
	return "no aligned runs across models (" + strings.Join(parts, ", ") + ")"
}
