package snapshot

import (
	"os"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

// Loader reads snapshot bodies from disk.
type Loader struct{}

// Series opens the snapshot and parses its filtered lead-day series.
func (Loader) Series(file domain.SnapshotFile) (domain.RunSeries, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return domain.RunSeries{}, &domain.SnapshotReadError{Path: file.Path, Err: err}
	}
	defer f.Close()
	return domain.ParseSeries(file, f)
}
