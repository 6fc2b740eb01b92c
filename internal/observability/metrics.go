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
	ActiveRelays      prometheus.Gauge
	RelayEvents       *prometheus.CounterVec
	RelayOutcomes     *prometheus.CounterVec
	UpstreamMessages  *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	RecordOps         *prometheus.CounterVec
	FirstChunkLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveRelays: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_relays",
			Help:      "Number of relay invocations currently streaming.",
		}),
		RelayEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Outbound events delivered to callers by event name.",
		}, []string{"event"}),
		RelayOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_outcomes_total",
			Help:      "Terminal relay outcomes by reason.",
		}, []string{"outcome"}),
		UpstreamMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_messages_total",
			Help:      "Provider socket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		RecordOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_ops_total",
			Help:      "Record store operations by op and result.",
		}, []string{"op", "result"}),
		FirstChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_chunk_latency_ms",
			Help:      "Latency from relay start to the first streamed chunk in milliseconds.",
			Buckets:   []float64{250, 500, 750, 1000, 1500, 2500, 4000, 8000},
		}),
		stages: newStageWindow(256),
	}
}

// Every observe method accepts a nil *Metrics so callers built without
// instruments need no guards.

func (m *Metrics) ObserveFirstChunkLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstChunkLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StageFirstChunk, d)
}

// ObserveStage records one relay stage latency in the rolling window.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

// ObserveOutcome counts a finished or rejected relay by outcome label.
func (m *Metrics) ObserveOutcome(label string) {
	if m == nil {
		return
	}
	m.RelayOutcomes.WithLabelValues(label).Inc()
	if m.stages != nil {
		m.stages.ObserveOutcome(label)
	}
}

func (m *Metrics) ObserveRecordOp(op, result string) {
	if m == nil {
		return
	}
	m.RecordOps.WithLabelValues(op, result).Inc()
}

// SnapshotStages returns the current rolling stage latency summary.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stages == nil {
		return StageSnapshot{
			GeneratedAt: time.Now().UTC(),
			Stages:      []StageStats{},
			Outcomes:    map[string]int{},
		}
	}
	return m.stages.Snapshot()
}

// ResetStages clears the rolling stage window and its outcome counts.
func (m *Metrics) ResetStages() {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
