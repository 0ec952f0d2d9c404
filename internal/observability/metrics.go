package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	PipelineRuns         *prometheus.CounterVec
	StageErrors          *prometheus.CounterVec
	PipelineStageLatency *prometheus.HistogramVec
	BroadcastDrops       prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live interview sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Answer pipeline runs by outcome.",
		}, []string{"outcome"}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures by stage and code.",
		}, []string{"stage", "code"}),
		PipelineStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_latency_ms",
			Help:      "Latency per pipeline stage in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000},
		}, []string{"stage"}),
		BroadcastDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Room events dropped because a subscriber was saturated.",
		}),
	}
}

func (m *Metrics) ObserveStageLatency(stage string, d time.Duration) {
	m.PipelineStageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
