package redisnode

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "redisnode"

// PrometheusMetrics is a MetricsCollector exporting to Prometheus
type PrometheusMetrics struct {
	syncDuration     prometheus.Histogram
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	replicationBytes prometheus.Counter
	keys             prometheus.Gauge
	reconnections    prometheus.Counter
	errorsTotal      *prometheus.CounterVec
}

// NewPrometheusMetrics registers the node collectors with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "replication",
			Name:      "sync_duration_seconds",
			Help:      "Time taken by full resynchronizations",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "command",
			Name:      "total",
			Help:      "Total commands processed",
		}, []string{"command"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Command processing duration",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
		}, []string{"command"}),
		replicationBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "replication",
			Name:      "bytes_total",
			Help:      "Replication bytes sent or received",
		}),
		keys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "keyspace",
			Name:      "keys",
			Help:      "Number of keys",
		}),
		reconnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "replication",
			Name:      "reconnections_total",
			Help:      "Reconnections to the master",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Errors by type",
		}, []string{"type"}),
	}
}

func (m *PrometheusMetrics) RecordSyncDuration(duration time.Duration) {
	m.syncDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordCommandProcessed(cmd string, duration time.Duration) {
	m.commandsTotal.WithLabelValues(cmd).Inc()
	m.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordNetworkBytes(bytes int64) {
	m.replicationBytes.Add(float64(bytes))
}

func (m *PrometheusMetrics) RecordKeyCount(count int64) {
	m.keys.Set(float64(count))
}

func (m *PrometheusMetrics) RecordReconnection() {
	m.reconnections.Inc()
}

func (m *PrometheusMetrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// MetricsHandler serves the metrics gathered by g on /metrics and a
// liveness probe on /health. A nil g uses prometheus.DefaultGatherer.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}
