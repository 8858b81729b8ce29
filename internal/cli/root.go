package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ensemble-features/internal/config"
	"github.com/couchcryptid/ensemble-features/internal/domain"
)

// RootOptions holds global flags for all commands. Flags override the
// corresponding environment variables.
type RootOptions struct {
	Format     string // "json" | "text"
	DataDir    string
	Metric     string
	Output     string
	FillPolicy string
	Sinks      []string

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the featurize CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "featurize",
		Short: "Derive lag features from archived forecast snapshots",
		Long: `featurize aligns archived degree-day forecast snapshots across models and
derives run-over-run revision and divergence features for model training.

Settings come from the environment (DATA_DIR, MODEL_TRIMS, FEATURE_SINKS, ...)
and may be overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.cfg = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.DataDir, "data-dir", "", "snapshot directory (DATA_DIR)")
	flags.StringVar(&opts.Metric, "metric", "", "degree-day metric (DEGREE_DAY_METRIC)")
	flags.StringVarP(&opts.Output, "output", "o", "", "feature matrix CSV path (OUTPUT_PATH)")
	flags.StringVar(&opts.FillPolicy, "fill", "", "missing cell policy, zero|missing (FILL_POLICY)")
	flags.StringSliceVar(&opts.Sinks, "sink", nil, "feature sinks, csv|sqlite|kafka (FEATURE_SINKS)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = opts.DataDir
	}
	if flags.Changed("metric") {
		cfg.DegreeDayMetric = opts.Metric
		if os.Getenv("OUTPUT_PATH") == "" {
			cfg.OutputPath = config.DefaultOutputPath(opts.Metric)
		}
	}
	if flags.Changed("output") {
		cfg.OutputPath = opts.Output
	}
	if flags.Changed("fill") {
		if cfg.FillPolicy, err = domain.ParseFillPolicy(opts.FillPolicy); err != nil {
			return nil, err
		}
	}
	if flags.Changed("sink") {
		cfg.Sinks = opts.Sinks
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
