// Package metrics exposes Prometheus instrumentation for sync passes,
// upstream calls and history writes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SyncPasses       *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	HistoryRows      *prometheus.CounterVec
	WriteFailures    prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SyncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldesmon_sync_passes_total",
			Help: "Sync passes by outcome.",
		}, []string{"outcome"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldesmon_upstream_requests_total",
			Help: "Upstream HTTP exchanges by endpoint and status code (0 when no response).",
		}, []string{"endpoint", "code"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eldesmon_upstream_request_duration_seconds",
			Help:    "Upstream HTTP exchange latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		HistoryRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eldesmon_history_rows_total",
			Help: "History rows appended by table.",
		}, []string{"table"}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eldesmon_history_write_failures_total",
			Help: "Device statuses whose history write failed.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SyncPasses,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.HistoryRows,
		m.WriteFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PassFinished counts one finished sync pass.
func (m *Metrics) PassFinished(outcome string) {
	if m == nil {
		return
	}
	m.SyncPasses.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one upstream exchange. It matches the eldes
// client's request observer signature.
func (m *Metrics) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RowsWritten counts appended history rows.
func (m *Metrics) RowsWritten(table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.HistoryRows.WithLabelValues(table).Add(float64(n))
}

// WriteFailed counts one failed history write.
func (m *Metrics) WriteFailed() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}
