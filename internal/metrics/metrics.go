// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensorfeed"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so packages can take one unconditionally.
type Metrics struct {
	reg *prometheus.Registry

	bytesRead       prometheus.Counter
	samples         prometheus.Counter
	decodeErrors    *prometheus.CounterVec
	transportErrors prometheus.Counter
	windowLen       prometheus.Gauge
	connected       prometheus.Gauge
	summaries       *prometheus.CounterVec
	summarySkipped  prometheus.Counter
	summaryLatency  prometheus.Histogram
	sseClients      prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry, along
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes read from the device byte source.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples decoded and pushed into the window.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Lines dropped because they were not a JSON object.",
		}, []string{"kind"}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Sessions ended by a read failure on the byte source.",
		}),
		windowLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_length",
			Help:      "Samples currently held in the rolling window.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected",
			Help:      "1 while a session is streaming, 0 otherwise.",
		}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Summaries published, by origin (ai or fallback).",
		}, []string{"source"}),
		summarySkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_skipped_total",
			Help:      "Summary ticks skipped because a call was still running.",
		}),
		summaryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_latency_seconds",
			Help:      "Time from dispatch to a published summary.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_clients",
			Help:      "Connected server-sent event clients.",
		}),
	}

	reg.MustRegister(
		m.bytesRead, m.samples, m.decodeErrors, m.transportErrors,
		m.windowLen, m.connected, m.summaries, m.summarySkipped,
		m.summaryLatency, m.sseClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) AddBytes(n int) {
	if m != nil {
		m.bytesRead.Add(float64(n))
	}
}

// ObserveSample records one pushed sample and the window length after it.
func (m *Metrics) ObserveSample(windowLen int) {
	if m == nil {
		return
	}
	m.samples.Inc()
	m.windowLen.Set(float64(windowLen))
}

func (m *Metrics) IncDecodeError(kind string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncTransportError() {
	if m != nil {
		m.transportErrors.Inc()
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) SetWindowLen(n int) {
	if m != nil {
		m.windowLen.Set(float64(n))
	}
}

// ObserveSummary records one published summary.
func (m *Metrics) ObserveSummary(source string, latency time.Duration) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(source).Inc()
	m.summaryLatency.Observe(latency.Seconds())
}

// AddSummarySkipped adds n skipped ticks.
func (m *Metrics) AddSummarySkipped(n int64) {
	if m != nil && n > 0 {
		m.summarySkipped.Add(float64(n))
	}
}

func (m *Metrics) SetSSEClients(n int) {
	if m != nil {
		m.sseClients.Set(float64(n))
	}
}
