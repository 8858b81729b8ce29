package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ensemble-features/internal/domain"
	"github.com/couchcryptid/ensemble-features/internal/observability"
)

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the runs every required model has in common",
		Long: `Scan the snapshot directory, report how many snapshots each model has after
trimming, which files were rejected, and the aligned run keys.

Nothing is derived or written. Exits 1 when no run is shared by every model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCatalog(cmd, rootOpts)
		},
	}
}

type catalogReport struct {
	Models   map[string]int   `json:"models"`
	Rejected []rejectedReport `json:"rejected,omitempty"`
	Passes   int              `json:"passes"`
	Aligned  []string         `json:"aligned"`
}

type rejectedReport struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

func runCatalog(cmd *cobra.Command, opts *RootOptions) error {
	cfg := opts.cfg
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	p := newPipeline(cfg, nil, logger, defaultMetrics())

	listing, runs, err := p.Align()
	var empty *domain.AlignmentEmptyError
	if err != nil && !errors.As(err, &empty) {
		return WrapExitError(ExitCommandError, "catalog failed", err)
	}

	report := catalogReport{Models: make(map[string]int, len(listing.Files)), Passes: runs.Passes}
	for model, files := range listing.Files {
		report.Models[model] = len(files)
	}
	for _, r := range listing.Rejected {
		report.Rejected = append(report.Rejected, rejectedReport{Name: r.Name, Error: r.Err.Error()})
	}
	for _, k := range runs.Keys {
		report.Aligned = append(report.Aligned, k.String())
	}

	out := printer{format: opts.Format, w: cmd.OutOrStdout()}
	text := func(w io.Writer) {
		for _, model := range cfg.ModelNames() {
			fmt.Fprintf(w, "%-12s %d snapshots\n", model, report.Models[model])
		}
		for _, r := range report.Rejected {
			fmt.Fprintf(w, "rejected %s: %s\n", r.Name, r.Error)
		}
		fmt.Fprintf(w, "%d aligned runs\n", len(report.Aligned))
		for _, k := range report.Aligned {
			fmt.Fprintln(w, k)
		}
	}

	if empty != nil {
		if err := out.failure(report, []error{empty}, text); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "no aligned runs", empty)
	}
	return out.result(report, text)
}
