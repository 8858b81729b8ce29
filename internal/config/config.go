package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

// Sink names accepted by FEATURE_SINKS.
const (
	SinkCSV    = "csv"
	SinkSQLite = "sqlite"
	SinkKafka  = "kafka"
)

const defaultModelTrims = "ecmwf=3,ecmwf-eps=2,gfs-ens-bc=2,cmc-ens=2"

// ModelTrim names a required model and how many of its earliest snapshots
// are dropped before alignment.
type ModelTrim struct {
	Model string
	Trim  int
}

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	DataDir         string
	OutputPath      string
	DegreeDayMetric string
	CycleHours      []int
	NoonHour        int
	Models          []ModelTrim
	Groups          []domain.GroupSpec
	FillPolicy      domain.FillPolicy
	SeriesCacheSize int

	Sinks        []string
	SQLitePath   string
	KafkaBrokers []string
	KafkaTopic   string
	SinkRetries  int

	MetricsAddr     string
	MetricsTextfile string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	metric := sharedcfg.EnvOrDefault("DEGREE_DAY_METRIC", "gw_hdd")

	cycleHours, err := parseCycleHours(sharedcfg.EnvOrDefault("CYCLE_HOURS", "00,12"))
	if err != nil {
		return nil, err
	}

	noonHour, err := strconv.Atoi(sharedcfg.EnvOrDefault("NOON_HOUR", "12"))
	if err != nil || noonHour < 0 || noonHour > 23 {
		return nil, errors.New("invalid NOON_HOUR")
	}

	models, err := ParseModelTrims(sharedcfg.EnvOrDefault("MODEL_TRIMS", defaultModelTrims))
	if err != nil {
		return nil, err
	}

	policy, err := domain.ParseFillPolicy(sharedcfg.EnvOrDefault("FILL_POLICY", "zero"))
	if err != nil {
		return nil, fmt.Errorf("invalid FILL_POLICY: %w", err)
	}

	sinkRetries, err := strconv.Atoi(sharedcfg.EnvOrDefault("SINK_RETRIES", "3"))
	if err != nil || sinkRetries < 1 {
		return nil, errors.New("invalid SINK_RETRIES: must be at least 1")
	}

	groups := domain.DefaultGroups(noonHour)
	if path := os.Getenv("FEATURE_GROUPS_FILE"); path != "" {
		groups, err = LoadGroups(path, noonHour)
		if err != nil {
			return nil, fmt.Errorf("invalid FEATURE_GROUPS_FILE: %w", err)
		}
	}

	cfg := &Config{
		DataDir:         sharedcfg.EnvOrDefault("DATA_DIR", "RawData"),
		OutputPath:      sharedcfg.EnvOrDefault("OUTPUT_PATH", DefaultOutputPath(metric)),
		DegreeDayMetric: metric,
		CycleHours:      cycleHours,
		NoonHour:        noonHour,
		Models:          models,
		Groups:          groups,
		FillPolicy:      policy,
		SeriesCacheSize: parseSeriesCacheSize(),

		Sinks:        splitList(sharedcfg.EnvOrDefault("FEATURE_SINKS", SinkCSV)),
		SQLitePath:   sharedcfg.EnvOrDefault("SQLITE_PATH", "features.db"),
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "ensemble-features"),
		SinkRetries:  sinkRetries,

		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		MetricsTextfile: os.Getenv("METRICS_TEXTFILE"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency. It is run by Load and should be
// rerun after flags override fields.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}
	if c.DegreeDayMetric == "" || strings.Contains(c.DegreeDayMetric, ".") {
		return errors.New("DEGREE_DAY_METRIC must be non-empty and contain no dots")
	}
	if len(c.Models) == 0 {
		return errors.New("MODEL_TRIMS must name at least one model")
	}
	for _, s := range c.Sinks {
		if !slices.Contains([]string{SinkCSV, SinkSQLite, SinkKafka}, s) {
			return fmt.Errorf("FEATURE_SINKS: unknown sink %q", s)
		}
	}
	if slices.Contains(c.Sinks, SinkCSV) && c.OutputPath == "" {
		return errors.New("OUTPUT_PATH is required for the csv sink")
	}
	if slices.Contains(c.Sinks, SinkSQLite) && c.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required for the sqlite sink")
	}
	if slices.Contains(c.Sinks, SinkKafka) {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required for the kafka sink")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required for the kafka sink")
		}
	}

	if err := domain.ValidateGroups(c.Groups); err != nil {
		return fmt.Errorf("feature groups: %w", err)
	}
	names := c.ModelNames()
	for _, g := range c.Groups {
		for _, m := range g.Models() {
			if !slices.Contains(names, m) {
				return fmt.Errorf("feature group %s reads model %q, which is not listed in MODEL_TRIMS", g.ID, m)
			}
		}
	}
	return nil
}

// DefaultOutputPath is the matrix path used when OUTPUT_PATH is unset.
func DefaultOutputPath(metric string) string {
	return fmt.Sprintf("features_%s.csv", metric)
}

// ModelNames returns the required models in configured order.
func (c *Config) ModelNames() []string {
	names := make([]string, len(c.Models))
	for i, m := range c.Models {
		names[i] = m.Model
	}
	return names
}

// Trim returns the prefix trim count for model.
func (c *Config) Trim(model string) int {
	for _, m := range c.Models {
		if m.Model == model {
			return m.Trim
		}
	}
	return 0
}

// LabelColumns returns the columns the downstream trainer treats as labels:
// the ensemble self-revision features.
func (c *Config) LabelColumns() []string {
	for _, g := range c.Groups {
		if g.ID == domain.GroupEnsembleRevision {
			return g.Columns()
		}
	}
	return nil
}

// ParseModelTrims parses "model=trim,model=trim". A bare model name means trim 0.
func ParseModelTrims(s string) ([]ModelTrim, error) {
	var out []ModelTrim
	for _, item := range splitList(s) {
		name, countStr, hasCount := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if name == "" || strings.Contains(name, ".") {
			return nil, fmt.Errorf("invalid MODEL_TRIMS entry %q", item)
		}
		trim := 0
		if hasCount {
			n, err := strconv.Atoi(strings.TrimSpace(countStr))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid MODEL_TRIMS entry %q", item)
			}
			trim = n
		}
		for _, m := range out {
			if m.Model == name {
				return nil, fmt.Errorf("MODEL_TRIMS lists %q twice", name)
			}
		}
		out = append(out, ModelTrim{Model: name, Trim: trim})
	}
	return out, nil
}

func parseCycleHours(s string) ([]int, error) {
	var hours []int
	for _, item := range splitList(s) {
		h, err := strconv.Atoi(item)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid CYCLE_HOURS entry %q", item)
		}
		hours = append(hours, h)
	}
	if len(hours) == 0 {
		return nil, errors.New("CYCLE_HOURS is required")
	}
	return hours, nil
}

func parseSeriesCacheSize() int {
	if s := os.Getenv("SERIES_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
