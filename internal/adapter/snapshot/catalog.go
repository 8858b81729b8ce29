package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/ensemble-features/internal/config"
	"github.com/couchcryptid/ensemble-features/internal/domain"
	"github.com/couchcryptid/ensemble-features/internal/observability"
)

// Catalog discovers snapshot files for the configured models in one flat directory.
type Catalog struct {
	dir        string
	metric     string
	cycleHours []int
	trim       func(model string) int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewCatalog creates a Catalog over cfg.DataDir.
func NewCatalog(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Catalog {
	return &Catalog{
		dir:        cfg.DataDir,
		metric:     cfg.DegreeDayMetric,
		cycleHours: cfg.CycleHours,
		trim:       cfg.Trim,
		logger:     logger,
		metrics:    metrics,
	}
}

// Discover lists the snapshots of each model. A file belongs to a model when
// its name starts with "<model>." and ends with ".csv"; it must then parse and
// carry the configured metric or it is rejected. Each catalog is sorted by run
// key and its earliest files are trimmed. A missing directory is an error; a
// model with no files yields an empty catalog.
func (c *Catalog) Discover(models []string) (domain.Listing, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("read snapshot directory: %w", err)
	}

	listing := domain.Listing{Files: make(map[string][]domain.SnapshotFile, len(models))}
	for _, model := range models {
		var files []domain.SnapshotFile
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, model+".") || !strings.HasSuffix(name, ".csv") {
				continue
			}
			f, err := c.accept(model, name)
			if err != nil {
				c.reject(&listing, name, err)
				continue
			}
			files = append(files, f)
		}

		domain.SortFiles(files)
		trimmed := domain.TrimPrefix(files, c.trim(model))
		listing.Files[model] = trimmed

		c.metrics.SnapshotsCataloged.WithLabelValues(model).Add(float64(len(trimmed)))
		c.logger.Debug("model cataloged", "model", model, "found", len(files), "kept", len(trimmed))
	}
	return listing, nil
}

func (c *Catalog) accept(model, name string) (domain.SnapshotFile, error) {
	f, err := domain.ParseSnapshotName(name, c.cycleHours)
	if err != nil {
		return domain.SnapshotFile{}, err
	}
	if f.Metric != c.metric {
		return domain.SnapshotFile{}, errOtherMetric
	}
	f.Path = filepath.Join(c.dir, name)
	return f, nil
}

var errOtherMetric = errors.New("carries another metric")

func (c *Catalog) reject(l *domain.Listing, name string, err error) {
	if errors.Is(err, errOtherMetric) {
		return
	}
	l.Rejected = append(l.Rejected, domain.RejectedFile{Name: name, Err: err})
	c.metrics.FilenameErrors.Inc()
	c.logger.Warn("snapshot file excluded", "file", name, "error", err)
}
