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
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	ChannelEvents    *prometheus.CounterVec
	PeerRequests     *prometheus.CounterVec
	RiskChecks       *prometheus.CounterVec
	RiskCheckLatency prometheus.Histogram
	WSMessages       *prometheus.CounterVec
	FeedDrops        *prometheus.CounterVec

	Latency *LatencyWindow
}

// NewMetrics registers instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers instruments on reg; tests pass a fresh registry.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "1 while a pairing session is connected, else 0.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle transitions by event.",
		}, []string{"event"}),
		ChannelEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_events_total",
			Help:      "Pairing channel events by type.",
		}, []string{"event"}),
		PeerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_requests_total",
			Help:      "Inbound peer requests by category and outcome.",
		}, []string{"category", "outcome"}),
		RiskChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_checks_total",
			Help:      "Risk assessment calls by outcome.",
		}, []string{"outcome"}),
		RiskCheckLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_check_latency_ms",
			Help:      "Latency of risk assessment calls in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FeedDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_drops_total",
			Help:      "Presentation events dropped for slow subscribers.",
		}, []string{"type"}),
		Latency: NewLatencyWindow(128),
	}
}

// NewUnregisteredMetrics returns instruments on a private registry, for
// components built without a metrics sink.
func NewUnregisteredMetrics() *Metrics {
	return NewMetricsWith("txlens", prometheus.NewRegistry())
}

func (m *Metrics) ObserveRiskCheck(d time.Duration, outcome string) {
	m.RiskChecks.WithLabelValues(outcome).Inc()
	m.RiskCheckLatency.Observe(float64(d.Milliseconds()))
	m.Latency.Observe(StageRiskCheck, d)
	if outcome != "ok" {
		m.Latency.Count("risk_" + outcome)
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
