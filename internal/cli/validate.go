package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ensemble-features/internal/adapter/store"
	"github.com/couchcryptid/ensemble-features/internal/domain"
)

type validateOptions struct {
	sqlitePath string
	runID      string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate [features.csv]",
		Short: "Check a persisted feature matrix",
		Long: `Read a feature matrix CSV (OUTPUT_PATH by default) and check that its issue
times are strictly ascending, its columns are unique, every label column is
present and, under zero fill, no cell is empty. Prints per-column statistics.

With --sqlite the matrix is read from a SQLite feature store instead: the run
named by --run-id, or the most recently generated run.

Exits 1 when any check fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.sqlitePath != "" {
				if len(args) == 1 {
					return NewExitError(ExitCommandError, "a CSV path cannot be combined with --sqlite")
				}
				m, source, err := loadSQLiteRun(cmd.Context(), opts.sqlitePath, opts.runID)
				if err != nil {
					return err
				}
				return runValidate(cmd, rootOpts, source, m)
			}

			path := rootOpts.cfg.OutputPath
			if len(args) == 1 {
				path = args[0]
			}
			m, err := store.NewCSVStore(path).Load()
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", path), err)
			}
			return runValidate(cmd, rootOpts, path, m)
		},
	}
	cmd.Flags().StringVar(&opts.sqlitePath, "sqlite", "", "read the matrix from this SQLite feature store")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run to validate with --sqlite (default: latest)")
	return cmd
}

// loadSQLiteRun reads one run from a SQLite feature store and names its source.
func loadSQLiteRun(ctx context.Context, path, runID string) (domain.FeatureMatrix, string, error) {
	st, err := store.OpenSQLite(path)
	if err != nil {
		return domain.FeatureMatrix{}, "", WrapExitError(ExitCommandError, fmt.Sprintf("failed to open %s", path), err)
	}
	defer st.Close()

	if runID == "" {
		if runID, err = st.LatestRunID(ctx); err != nil {
			return domain.FeatureMatrix{}, "", WrapExitError(ExitCommandError, fmt.Sprintf("failed to find latest run in %s", path), err)
		}
	}
	m, err := st.Load(ctx, runID)
	if err != nil {
		return domain.FeatureMatrix{}, "", WrapExitError(ExitCommandError, fmt.Sprintf("failed to read run %s", runID), err)
	}
	return m, fmt.Sprintf("%s (run %s)", path, runID), nil
}

type validateReport struct {
	Path    string                 `json:"path"`
	Rows    int                    `json:"rows"`
	Columns int                    `json:"columns"`
	Summary []domain.ColumnSummary `json:"summary"`
}

func runValidate(cmd *cobra.Command, opts *RootOptions, path string, m domain.FeatureMatrix) error {
	cfg := opts.cfg

	report := validateReport{
		Path:    path,
		Rows:    len(m.Index),
		Columns: len(m.Columns),
		Summary: domain.Describe(m),
	}
	text := func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d rows x %d columns\n", report.Path, report.Rows, report.Columns)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "column\tcount\tzeros\tmean\tstddev\tmin\tmax")
		for _, s := range report.Summary {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\n",
				s.Column, s.Count, s.Zeros, s.Mean, s.StdDev, s.Min, s.Max)
		}
		tw.Flush()
	}

	out := printer{format: opts.Format, w: cmd.OutOrStdout()}
	if problems := m.Check(cfg.LabelColumns(), cfg.FillPolicy); len(problems) > 0 {
		if err := out.failure(report, problems, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(problems)))
	}
	return out.result(report, text)
}
