package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricNamespace = "mongomigrate"

// Job metrics.
var (
	//nolint:gochecknoglobals
	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "jobs_total",
		Help:      "Total number of migration jobs by mode and result.",
		Namespace: metricNamespace,
	}, []string{"mode", "result"})

	//nolint:gochecknoglobals
	jobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "jobs_running",
		Help:      "Number of migration jobs in progress.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	jobDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "job_duration_seconds",
		Help:      "Duration of migration jobs in seconds.",
		Namespace: metricNamespace,
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"mode"})
)

// Collection metrics.
var (
	//nolint:gochecknoglobals
	collectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "collections_total",
		Help:      "Total number of migrated collections by mode and result.",
		Namespace: metricNamespace,
	}, []string{"mode", "result"})

	//nolint:gochecknoglobals
	collectionsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "collections_dropped_total",
		Help:      "Total number of non-empty target collections dropped before a complete copy.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	collectionDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "collection_duration_seconds",
		Help:      "Duration of a single collection migration in seconds.",
		Namespace: metricNamespace,
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
	}, []string{"mode"})
)

// Document counters.
var (
	//nolint:gochecknoglobals
	documentsReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "documents_read_total",
		Help:      "Total count of documents read from sources.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	documentsInsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "documents_inserted_total",
		Help:      "Total count of documents inserted into targets.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	readSizeBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "read_size_bytes_total",
		Help:      "Total size of the read documents in bytes.",
		Namespace: metricNamespace,
	})
)

//nolint:gochecknoglobals
var connectionTestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name:      "connection_tests_total",
	Help:      "Total number of connection tests by side and result.",
	Namespace: metricNamespace,
}, []string{"side", "result"})

// Init initializes and registers the metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricNamespace,
	}))

	reg.MustRegister(
		jobsTotal,
		jobsRunning,
		jobDurationSeconds,

		collectionsTotal,
		collectionsDroppedTotal,
		collectionDurationSeconds,

		documentsReadTotal,
		documentsInsertedTotal,
		readSizeBytesTotal,

		connectionTestsTotal,
	)
}

func result(ok bool) string {
	if ok {
		return "success"
	}

	return "failure"
}

// JobStarted increments the running jobs gauge.
func JobStarted() {
	jobsRunning.Inc()
}

// JobFinished records a finished job and decrements the running jobs gauge.
func JobFinished(mode string, ok bool, dur time.Duration) {
	jobsRunning.Dec()
	jobsTotal.WithLabelValues(mode, result(ok)).Inc()
	jobDurationSeconds.WithLabelValues(mode).Observe(dur.Seconds())
}

// ObserveCollection records one migrated collection.
func ObserveCollection(mode string, ok bool, dur time.Duration) {
	collectionsTotal.WithLabelValues(mode, result(ok)).Inc()
	collectionDurationSeconds.WithLabelValues(mode).Observe(dur.Seconds())
}

// IncCollectionsDropped increments the dropped target collections counter.
func IncCollectionsDropped() {
	collectionsDroppedTotal.Inc()
}

// AddDocumentsRead increments the read documents counter.
func AddDocumentsRead(v int) {
	documentsReadTotal.Add(float64(v))
}

// AddDocumentsInserted increments the inserted documents counter.
func AddDocumentsInserted(v int) {
	documentsInsertedTotal.Add(float64(v))
}

// AddReadSize increments the read size counter.
func AddReadSize(v uint64) {
	readSizeBytesTotal.Add(float64(v))
}

// ObserveConnectionTest records one probe of the source or target side.
func ObserveConnectionTest(side string, ok bool) {
	connectionTestsTotal.WithLabelValues(side, result(ok)).Inc()
}
