package statereader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the self-instrumentation surface for a Reader: how many
// flushes ran, how big each batch was, how long the backing-store round
// trip took, and how often routing failed. The teacher uses
// prometheus/client_golang as a query client against an external
// Prometheus (internal/metricdata/prometheus.go); this is the sibling half
// of the same module, registering the Reader's own counters/histograms.
type Metrics struct {
	flushesTotal      prometheus.Counter
	batchSize         prometheus.Histogram
	flushDuration     prometheus.Histogram
	fatalErrorsTotal  *prometheus.CounterVec
	decodeErrorsTotal prometheus.Counter
}

// NewMetrics registers a Metrics set on reg and returns it. Pass
// prometheus.NewRegistry() (or prometheus.DefaultRegisterer) from the
// calling binary.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statereader",
			Name:      "flushes_total",
			Help:      "Number of backing-store round trips performed.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "statereader",
			Name:      "flush_batch_size",
			Help:      "Number of distinct TagKeys carried by each flush.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "statereader",
			Name:      "flush_duration_seconds",
			Help:      "Time spent performing one backing-store round trip.",
			Buckets:   prometheus.DefBuckets,
		}),
		fatalErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statereader",
			Name:      "flush_fatal_errors_total",
			Help:      "Fatal flush errors, by sentinel.",
		}, []string{"reason"}),
		decodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statereader",
			Name:      "decode_errors_total",
			Help:      "Per-handle decode failures.",
		}),
	}

	reg.MustRegister(m.flushesTotal, m.batchSize, m.flushDuration, m.fatalErrorsTotal, m.decodeErrorsTotal)
	return m
}

func (m *Metrics) observeFlush(batch int, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.flushesTotal.Inc()
	m.batchSize.Observe(float64(batch))
	m.flushDuration.Observe(dur.Seconds())
	if ferr, ok := err.(*FatalFlushError); ok {
		m.fatalErrorsTotal.WithLabelValues(ferr.Sentinel.Error()).Inc()
	}
}

func (m *Metrics) observeDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrorsTotal.Inc()
}
