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
	WSMessages       *prometheus.CounterVec
	WSWriteErrors    *prometheus.CounterVec
	GatewayErrors    *prometheus.CounterVec
	MemoryWrites     *prometheus.CounterVec
	MemoryRetrievals *prometheus.CounterVec
	ReportEvents     *prometheus.CounterVec
	StageLatency     *prometheus.HistogramVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active conversation sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by stage.",
		}, []string{"stage"}),
		GatewayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Model gateway errors by provider and operation.",
		}, []string{"provider", "op"}),
		MemoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Long-term memory records written by kind.",
		}, []string{"kind"}),
		MemoryRetrievals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_retrievals_total",
			Help:      "Memory retrievals by outcome.",
		}, []string{"outcome"}),
		ReportEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_events_total",
			Help:      "Report scheduler outcomes by kind.",
		}, []string{"kind", "outcome"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 200, 400, 800, 1500, 3000, 6000},
		}, []string{"stage"}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.observe(stage, ms)
}

// StageSnapshot reports rolling latency percentiles for each observed stage.
func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.snapshot(time.Now())
}

func (m *Metrics) ObserveOutboundMessage(messageType, outcome string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues("outbound_"+outcome, messageType).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) IncWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) IncWSWriteError(stage string) {
	if m == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncGatewayError(provider, op string) {
	if m == nil {
		return
	}
	m.GatewayErrors.WithLabelValues(provider, op).Inc()
}

func (m *Metrics) IncMemoryWrite(kind string) {
	if m == nil {
		return
	}
	m.MemoryWrites.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncMemoryRetrieval(outcome string) {
	if m == nil {
		return
	}
	m.MemoryRetrievals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncReportEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.ReportEvents.WithLabelValues(kind, outcome).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
