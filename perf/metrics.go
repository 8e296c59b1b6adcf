package perf

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Registry holds the data index collectors. It is separate from the
// default registry so tests and the CLI see only these series.
var Registry = prometheus.NewRegistry()

var (
	filesClassified = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataindex_files_classified_total",
			Help: "Files whose type was detected, by file type.",
		},
		[]string{"file_type"},
	)

	classifyFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataindex_classify_failures_total",
			Help: "Names that failed detection or parsing, by stage.",
		},
		[]string{"stage"},
	)

	checksumBytes = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "dataindex_checksum_bytes_total",
		Help: "Bytes read while computing MD5 digests.",
	})

	checksumDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "dataindex_checksum_duration_seconds",
		Help:    "Time taken to compute one MD5 digest.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	filesRegistered = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataindex_files_registered_total",
			Help: "Registration attempts, by outcome (registered, exists, failed).",
		},
		[]string{"outcome"},
	)
)

// Failure stages for ObserveClassifyFailure.
const (
	StageDetect = "detect"
	StageParse  = "parse"
)

// ObserveClassified counts one detected file of fileType.
func ObserveClassified(fileType string) {
	filesClassified.WithLabelValues(fileType).Inc()
}

// ObserveClassifyFailure counts one name rejected at stage.
func ObserveClassifyFailure(stage string) {
	classifyFailures.WithLabelValues(stage).Inc()
}

// ObserveChecksum records one digest over n bytes.
func ObserveChecksum(n int64, d time.Duration) {
	checksumBytes.Add(float64(n))
	checksumDuration.Observe(d.Seconds())
}

// ObserveRegistration counts one registration attempt by outcome.
func ObserveRegistration(outcome string) {
	filesRegistered.WithLabelValues(outcome).Inc()
}

// WriteText writes every collector in the Prometheus text exposition format.
func WriteText(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile atomically writes every collector to path, for the
// node_exporter textfile collector. The file name should end in ".prom".
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
