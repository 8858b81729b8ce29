package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ensemble_features"

// Metrics holds the Prometheus counters, histograms, and gauges for the feature pipeline.
type Metrics struct {
	SnapshotsCataloged  *prometheus.CounterVec // labels: model
	FilenameErrors      prometheus.Counter
	SnapshotReadErrors  prometheus.Counter
	AlignedRuns         prometheus.Gauge
	AlignmentPasses     prometheus.Gauge
	RowsDerived         *prometheus.CounterVec // labels: group
	StepsSkipped        *prometheus.CounterVec // labels: group, reason={read,lead_day,other}
	SeriesCache         *prometheus.CounterVec // labels: result={hit,miss}
	MatrixRows          prometheus.Gauge
	RowsPersisted       *prometheus.CounterVec // labels: sink
	SinkErrors          *prometheus.CounterVec // labels: sink
	PipelineRunning     prometheus.Gauge
	PipelineDuration    prometheus.Histogram
	LastSuccessUnixTime prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SnapshotsCataloged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_cataloged_total",
			Help:      "Snapshot files accepted into a model catalog.",
		}, []string{"model"}),
		FilenameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filename_errors_total",
			Help:      "Snapshot files excluded because their name could not be parsed.",
		}),
		SnapshotReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_read_errors_total",
			Help:      "Snapshot bodies that could not be read as a table.",
		}),
		AlignedRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aligned_runs",
			Help:      "Runs present in every required model in the last pipeline run.",
		}),
		AlignmentPasses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alignment_passes",
			Help:      "Intersection passes needed to reach a fixed point.",
		}),
		RowsDerived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_derived_total",
			Help:      "Feature rows derived, by group.",
		}, []string{"group"}),
		StepsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_skipped_total",
			Help:      "Run steps dropped for a group, by reason.",
		}, []string{"group", "reason"}),
		SeriesCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_cache_total",
			Help:      "Snapshot series cache lookups by result.",
		}, []string{"result"}),
		MatrixRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "matrix_rows",
			Help:      "Rows in the last assembled feature matrix.",
		}),
		RowsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_persisted_total",
			Help:      "Feature matrix rows written, by sink.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sink write attempts, by sink.",
		}, []string{"sink"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress.",
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of a complete catalog-align-derive-persist run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccessUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful pipeline run.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SnapshotsCataloged,
		m.FilenameErrors,
		m.SnapshotReadErrors,
		m.AlignedRuns,
		m.AlignmentPasses,
		m.RowsDerived,
		m.StepsSkipped,
		m.SeriesCache,
		m.MatrixRows,
		m.RowsPersisted,
		m.SinkErrors,
		m.PipelineRunning,
		m.PipelineDuration,
		m.LastSuccessUnixTime,
	}
}

// WriteTextfile writes every metric gathered by g to path in the Prometheus
// text format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
