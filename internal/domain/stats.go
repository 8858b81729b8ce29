package domain

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColumnSummary describes the non-missing values of one matrix column.
type ColumnSummary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Zeros  int     `json:"zeros"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Describe summarizes every column of m, ignoring NaN cells.
func Describe(m FeatureMatrix) []ColumnSummary {
	out := make([]ColumnSummary, 0, len(m.Columns))
	for _, name := range m.Columns {
		col, _ := m.Column(name)
		present := col[:0]
		for _, v := range col {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}

		s := ColumnSummary{Column: name, Count: len(present)}
		if len(present) > 0 {
			s.Zeros = len(present) - floats.Count(func(v float64) bool { return v != 0 }, present)
			s.Min = floats.Min(present)
			s.Max = floats.Max(present)
			s.Mean = stat.Mean(present, nil)
		}
		if len(present) > 1 {
			s.StdDev = stat.StdDev(present, nil)
		}
		out = append(out, s)
	}
	return out
}
