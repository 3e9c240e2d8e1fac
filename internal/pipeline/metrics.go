package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks ingestion pipeline activity.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	filesClassified *prometheus.CounterVec
	chunksIndexed   prometheus.Counter
	chunksFailed    prometheus.Counter
	runDuration     prometheus.Histogram
}

// NewMetrics creates and registers pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoindex_runs_total",
			Help: "Ingestion runs by outcome.",
		}, []string{"status"}),
		filesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoindex_files_classified_total",
			Help: "Files seen by the classifier, by decision reason.",
		}, []string{"reason"}),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoindex_chunks_indexed_total",
			Help: "Chunks successfully upserted into the index.",
		}),
		chunksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoindex_chunks_failed_total",
			Help: "Chunks in batches that failed after retries.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repoindex_run_duration_seconds",
			Help:    "End-to-end ingestion run duration.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.runsTotal, m.filesClassified, m.chunksIndexed, m.chunksFailed, m.runDuration)
	}
	return m
}
