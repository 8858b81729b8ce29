package domain

import (
	"fmt"
	"math"
	"time"
)

// Check verifies a persisted matrix is usable for training: the index is
// strictly ascending, column names are unique, every label column is
// present, and under FillZero no cell is missing. It returns every problem
// found.
func (m FeatureMatrix) Check(labels []string, policy FillPolicy) []error {
	var errs []error

	for i := 1; i < len(m.Index); i++ {
		if !m.Index[i].After(m.Index[i-1]) {
			errs = append(errs, fmt.Errorf("row %d: issue time %s does not follow %s",
				i, m.Index[i].Format(time.RFC3339), m.Index[i-1].Format(time.RFC3339)))
		}
	}

	seen := make(map[string]bool, len(m.Columns))
	for _, c := range m.Columns {
		if seen[c] {
			errs = append(errs, fmt.Errorf("%w: %q appears twice", ErrColumnCollision, c))
		}
		seen[c] = true
	}
	for _, l := range labels {
		if !seen[l] {
			errs = append(errs, fmt.Errorf("label column %q is missing", l))
		}
	}

	if policy == FillZero {
		for i, row := range m.Values {
			for j, v := range row {
				if math.IsNaN(v) {
					errs = append(errs, fmt.Errorf("row %d column %s: missing value under zero fill", i, m.Columns[j]))
				}
			}
		}
	}
	return errs
}
