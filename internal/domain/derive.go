package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SeriesSource loads the filtered series of a snapshot.
type SeriesSource interface {
	Series(file SnapshotFile) (RunSeries, error)
}

// FeatureRow holds one group's values for one aligned run, in column order.
type FeatureRow struct {
	Time   time.Time
	Values []float64
}

// GroupTable accumulates the rows derived for one group.
type GroupTable struct {
	Group   GroupID
	Columns []string
	Rows    []FeatureRow
}

// Skip records a step dropped for one group and why.
type Skip struct {
	Group GroupID
	Step  int
	Key   RunKey
	Err   error
}

// Deriver computes feature rows over an aligned run sequence.
type Deriver struct {
	runs   AlignedRuns
	source SeriesSource
}

// NewDeriver creates a Deriver reading snapshots through source.
func NewDeriver(runs AlignedRuns, source SeriesSource) *Deriver {
	return &Deriver{runs: runs, source: source}
}

// Derive walks every consecutive aligned-run step and derives one row per
// group per step. Row-level failures are returned as skips; they never stop
// the walk. onSkip, when non-nil, is called as each skip is recorded.
func (d *Deriver) Derive(groups []GroupSpec, onSkip func(Skip)) ([]GroupTable, []Skip) {
	tables, skips, _ := d.DeriveContext(context.Background(), groups, onSkip, nil)
	return tables, skips
}

// DeriveContext is Derive with ctx checked before each step. onStep, when
// non-nil, is called after each step with the step index. On cancellation the
// rows derived so far are returned with ctx's error.
func (d *Deriver) DeriveContext(ctx context.Context, groups []GroupSpec, onSkip func(Skip), onStep func(step int)) ([]GroupTable, []Skip, error) {
	tables := make([]GroupTable, len(groups))
	for i, g := range groups {
		tables[i] = GroupTable{Group: g.ID, Columns: g.Columns()}
	}

	var skips []Skip
	for step := 1; step < d.runs.Len(); step++ {
		if err := ctx.Err(); err != nil {
			return tables, skips, err
		}
		for i, g := range groups {
			row, err := d.DeriveStep(g, step)
			if errors.Is(err, errNoPredecessor) {
				continue
			}
			if err != nil {
				s := Skip{Group: g.ID, Step: step, Key: d.runs.Keys[step], Err: err}
				skips = append(skips, s)
				if onSkip != nil {
					onSkip(s)
				}
				continue
			}
			tables[i].Rows = append(tables[i].Rows, row)
		}
		if onStep != nil {
			onStep(step)
		}
	}
	return tables, skips, nil
}

// DeriveStep derives g's row for the step ending at aligned run step. The row
// is stamped with that run's issue time.
func (d *Deriver) DeriveStep(g GroupSpec, step int) (FeatureRow, error) {
	if step < 1 || step >= d.runs.Len() {
		return FeatureRow{}, errNoPredecessor
	}
	stamp := d.runs.Keys[step]

	if g.ID == GroupNoon {
		v := 0.0
		if stamp.Hour == g.NoonHour {
			v = 1
		}
		return FeatureRow{Time: stamp.Time(), Values: []float64{v}}, nil
	}

	target := step - g.RowLag
	if target < 1 {
		return FeatureRow{}, errNoPredecessor
	}

	curFile, ok := d.runs.File(g.Current, target)
	if !ok {
		return FeatureRow{}, fmt.Errorf("model %s not aligned", g.Current)
	}
	refFile, ok := d.runs.File(g.Reference, target-g.ReferenceLag)
	if !ok {
		return FeatureRow{}, fmt.Errorf("model %s not aligned", g.Reference)
	}

	// The offset always comes from the stamped step, even for lagged rows.
	offset := 0
	if g.ReferenceLag > 0 {
		offset = ResolveOffset(stamp, d.runs.Keys[step-1])
	}

	cur, err := d.source.Series(curFile)
	if err != nil {
		return FeatureRow{}, err
	}
	ref, err := d.source.Series(refFile)
	if err != nil {
		return FeatureRow{}, err
	}

	values := make([]float64, 0, g.Hi-g.Lo+1)
	for i := g.Lo; i <= g.Hi; i++ {
		ci, ri := i-offset, i
		if g.Anchor == AnchorCurrent {
			ci, ri = i, i+offset
		}
		c, err := cur.At(ci)
		if err != nil {
			return FeatureRow{}, err
		}
		r, err := ref.At(ri)
		if err != nil {
			return FeatureRow{}, err
		}
		values = append(values, c-r)
	}
	return FeatureRow{Time: stamp.Time(), Values: values}, nil
}
