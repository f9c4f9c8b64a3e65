package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine execution metrics, all namespaced
// with "agentflow_":
//
//   - inflight_nodes (gauge): nodes currently executing.
//   - approvals_pending (gauge): approvals parked in the registry.
//   - node_latency_ms (histogram): node duration by type and status.
//   - executions_total (counter): finished executions by terminal status.
//   - rejection_loops_total (counter): rejection-feedback re-entries.
//   - events_total (counter): events published to the bus by type.
//
// Wire it into an engine with WithMetrics; a nil *PrometheusMetrics on
// the engine disables collection.
type PrometheusMetrics struct {
	inflightNodes    prometheus.Gauge
	approvalsPending prometheus.Gauge
	nodeLatency      *prometheus.HistogramVec
	executions       *prometheus.CounterVec
	rejectionLoops   *prometheus.CounterVec
	events           *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the engine metrics with the
// given registry. A nil registry uses prometheus.DefaultRegisterer.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewPrometheusMetrics(registry)
//	engine, err := flow.NewEngine(flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "inflight_nodes",
			Help:      "Current number of node executors running concurrently",
		}),
		approvalsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "approvals_pending",
			Help:      "Approvals currently parked in the approval registry",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds, dispatch to completion",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node_type", "status"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "executions_total",
			Help:      "Finished executions by terminal status",
		}, []string{"status"}),
		rejectionLoops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "rejection_loops_total",
			Help:      "Rejection-feedback re-entries by target node type",
		}, []string{"node_type"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "events_total",
			Help:      "Events published to the execution event bus",
		}, []string{"type"}),
	}
}

func (m *PrometheusMetrics) nodeStarted() {
	if m == nil {
		return
	}
	m.inflightNodes.Inc()
}

func (m *PrometheusMetrics) nodeFinished(nodeType NodeType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeLatency.WithLabelValues(string(nodeType), status).Observe(float64(elapsed.Milliseconds()))
}

func (m *PrometheusMetrics) approvalParked() {
	if m == nil {
		return
	}
	m.approvalsPending.Inc()
}

func (m *PrometheusMetrics) approvalResolved() {
	if m == nil {
		return
	}
	m.approvalsPending.Dec()
}

func (m *PrometheusMetrics) executionFinished(status ExecutionStatus) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(string(status)).Inc()
}

func (m *PrometheusMetrics) rejectionLoop(nodeType NodeType) {
	if m == nil {
		return
	}
	m.rejectionLoops.WithLabelValues(string(nodeType)).Inc()
}

func (m *PrometheusMetrics) eventPublished(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}
