// Package metrics exposes the tracked reader's activity as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/metal-toolbox/tracked-reader/tracker"
)

var _ tracker.Observer = &PrometheusMetricsProvider{}

// PrometheusMetricsProvider is a metrics provider that uses Prometheus.
type PrometheusMetricsProvider struct {
	reads           *prometheus.CounterVec
	bytesRead       prometheus.Counter
	seeks           *prometheus.CounterVec
	ioErrors        *prometheus.CounterVec
	position        prometheus.Gauge
	estimatedSize   prometheus.Gauge
	chunkOperations *prometheus.GaugeVec
}

// NewPrometheusMetricsProviderForRegisterer returns a new PrometheusMetricsProvider
// that uses the given prometheus.Registerer.
func NewPrometheusMetricsProviderForRegisterer(r prometheus.Registerer) *PrometheusMetricsProvider {
	p := &PrometheusMetricsProvider{
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:      "reads_total",
				Namespace: MetricsNamespace,
				Help:      "The total number of reads forwarded to the stream.",
			},
			[]string{"outcome"},
		),
		bytesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:      "bytes_read_total",
				Namespace: MetricsNamespace,
				Help:      "The total number of bytes read from the stream.",
			},
		),
		seeks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:      "seeks_total",
				Namespace: MetricsNamespace,
				Help:      "The total number of seeks forwarded to the stream.",
			},
			[]string{"whence", "outcome"},
		),
		ioErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:      "io_errors_total",
				Namespace: MetricsNamespace,
				Help:      "The total number of failed reads by error kind.",
			},
			[]string{"kind"},
		),
		position: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:      "position_bytes",
				Namespace: MetricsNamespace,
				Help:      "The stream position as known to the tracker.",
			},
		),
		estimatedSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:      "estimated_size_bytes",
				Namespace: MetricsNamespace,
				Help:      "The stream size inferred from the latest end-relative seek, -1 if unknown.",
			},
		),
		chunkOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:      "chunk_operations",
				Namespace: MetricsNamespace,
				Help:      "The number of recorded ranges touching a chunk in the latest report.",
			},
			[]string{"chunk"},
		),
	}

	p.estimatedSize.Set(-1)

	// This is variadic function so we can pass as many metrics as we want
	r.MustRegister(
		p.reads,
		p.bytesRead,
		p.seeks,
		p.ioErrors,
		p.position,
		p.estimatedSize,
		p.chunkOperations,
	)

	return p
}

// ObserveRead implements tracker.Observer.
func (p *PrometheusMetricsProvider) ObserveRead(n int, kind tracker.ErrorKind, failed bool) {
	p.reads.WithLabelValues(string(outcomeOf(failed))).Inc()

	if n > 0 {
		p.bytesRead.Add(float64(n))
	}

	if failed {
		p.ioErrors.WithLabelValues(kind.String()).Inc()
	}
}

// ObserveSeek implements tracker.Observer.
func (p *PrometheusMetricsProvider) ObserveSeek(whence int, failed bool) {
	name, ok := whenceNames[whence]
	if !ok {
		name = strconv.Itoa(whence)
	}

	p.seeks.WithLabelValues(name, string(outcomeOf(failed))).Inc()
}

// ObservePosition implements tracker.Observer.
func (p *PrometheusMetricsProvider) ObservePosition(pos uint64, size uint64, sizeKnown bool) {
	p.position.Set(float64(pos))

	if sizeKnown {
		p.estimatedSize.Set(float64(size))
	}
}

// SetReport replaces the per-chunk gauges with the content of s.
func (p *PrometheusMetricsProvider) SetReport(s tracker.Summary) {
	p.chunkOperations.Reset()

	for chunk, n := range s.IOOperations {
		p.chunkOperations.WithLabelValues(strconv.FormatUint(chunk, 10)).Set(float64(n))
	}
}
