package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

// Manifest describes one persisted feature matrix.
type Manifest struct {
	RunID        string                 `json:"run_id"`
	GeneratedAt  time.Time              `json:"generated_at"`
	FillPolicy   string                 `json:"fill_policy"`
	AlignedRuns  int                    `json:"aligned_runs"`
	Rows         int                    `json:"rows"`
	Columns      []string               `json:"columns"`
	LabelColumns []string               `json:"label_columns,omitempty"`
	Skipped      []SkippedStep          `json:"skipped,omitempty"`
	Summary      []domain.ColumnSummary `json:"summary"`
}

// SkippedStep is the manifest form of a domain.Skip.
type SkippedStep struct {
	Group     domain.GroupID `json:"group"`
	IssueTime string         `json:"issue_time"`
	Error     string         `json:"error"`
}

// NewManifest summarizes m. alignedRuns is the length of the aligned sequence
// the matrix was derived from.
func NewManifest(m domain.FeatureMatrix, alignedRuns int, labels []string, skips []domain.Skip) Manifest {
	man := Manifest{
		RunID:        m.RunID,
		GeneratedAt:  m.GeneratedAt,
		FillPolicy:   m.Policy.String(),
		AlignedRuns:  alignedRuns,
		Rows:         len(m.Index),
		Columns:      m.Columns,
		LabelColumns: labels,
		Summary:      domain.Describe(m),
	}
	for _, s := range skips {
		man.Skipped = append(man.Skipped, SkippedStep{
			Group:     s.Group,
			IssueTime: s.Key.String(),
			Error:     s.Err.Error(),
		})
	}
	return man
}

// ManifestPath derives the manifest location from a matrix output path:
// features.csv becomes features.manifest.json.
func ManifestPath(outputPath string) string {
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".manifest.json"
}

// WriteManifest writes man as indented JSON.
func WriteManifest(path string, man Manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil { //nolint:gosec // manifest is not sensitive
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
