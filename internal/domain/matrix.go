package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// FillPolicy decides what absent cells hold after the outer join.
type FillPolicy int

const (
	// FillZero replaces absent cells with 0.
	FillZero FillPolicy = iota
	// FillMissing keeps absent cells as NaN.
	FillMissing
)

func (p FillPolicy) String() string {
	if p == FillMissing {
		return "missing"
	}
	return "zero"
}

// ParseFillPolicy accepts "zero" or "missing".
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zero":
		return FillZero, nil
	case "missing":
		return FillMissing, nil
	default:
		return FillZero, fmt.Errorf("unknown fill policy %q", s)
	}
}

// FeatureMatrix is the assembled feature table, one row per issue time.
type FeatureMatrix struct {
	RunID       string
	GeneratedAt time.Time
	Policy      FillPolicy

	Index   []time.Time
	Columns []string
	// Values is row-major: Values[row][col].
	Values [][]float64
}

// Column returns a copy of the named column.
func (m FeatureMatrix) Column(name string) ([]float64, bool) {
	j := slices.Index(m.Columns, name)
	if j < 0 {
		return nil, false
	}
	out := make([]float64, len(m.Values))
	for i, row := range m.Values {
		out[i] = row[j]
	}
	return out, true
}

// Row returns the i-th row keyed by column name.
func (m FeatureMatrix) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(m.Columns))
	for j, c := range m.Columns {
		row[c] = m.Values[i][j]
	}
	return row
}

// Assemble outer-joins group tables on issue time. Columns keep group order;
// rows are ascending by issue time. Absent cells are filled per policy.
func Assemble(tables []GroupTable, policy FillPolicy) (FeatureMatrix, error) {
	var columns []string
	offsets := make([]int, len(tables))
	owner := make(map[string]GroupID)
	for i, t := range tables {
		offsets[i] = len(columns)
		for _, c := range t.Columns {
			if prev, ok := owner[c]; ok {
				return FeatureMatrix{}, fmt.Errorf("%w: %q in %s and %s", ErrColumnCollision, c, prev, t.Group)
			}
			owner[c] = t.Group
			columns = append(columns, c)
		}
	}

	seen := make(map[int64]bool)
	var index []time.Time
	for _, t := range tables {
		for _, r := range t.Rows {
			if !seen[r.Time.UnixNano()] {
				seen[r.Time.UnixNano()] = true
				index = append(index, r.Time.UTC())
			}
		}
	}
	slices.SortFunc(index, time.Time.Compare)

	rowOf := make(map[int64]int, len(index))
	values := make([][]float64, len(index))
	for i, ts := range index {
		rowOf[ts.UnixNano()] = i
		row := make([]float64, len(columns))
		for j := range row {
			row[j] = math.NaN()
		}
		values[i] = row
	}

	for ti, t := range tables {
		for _, r := range t.Rows {
			if len(r.Values) != len(t.Columns) {
				return FeatureMatrix{}, fmt.Errorf("group %s row at %s has %d values for %d columns",
					t.Group, r.Time.Format(time.RFC3339), len(r.Values), len(t.Columns))
			}
			copy(values[rowOf[r.Time.UnixNano()]][offsets[ti]:], r.Values)
		}
	}

	if policy == FillZero {
		for _, row := range values {
			for j, v := range row {
				if math.IsNaN(v) {
					row[j] = 0
				}
			}
		}
	}

	return FeatureMatrix{
		GeneratedAt: clock.Now().UTC(),
		Policy:      policy,
		Index:       index,
		Columns:     columns,
		Values:      values,
	}, nil
}
