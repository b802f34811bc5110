package flakeid

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsCollector records operational metrics. Implementations must be
// safe for concurrent use and must not block.
type metricsCollector interface {
	RecordIDGenerated()
	RecordSequenceExhausted()
	RecordClockBackward()
	RecordNodeAllocated(nodeID int)
	RecordHeartbeat(success bool)
	RecordReclaimed(count int)
}

type nopMetrics struct{}

func (nopMetrics) RecordIDGenerated()        {}
func (nopMetrics) RecordSequenceExhausted()  {}
func (nopMetrics) RecordClockBackward()      {}
func (nopMetrics) RecordNodeAllocated(int)   {}
func (nopMetrics) RecordHeartbeat(bool)      {}
func (nopMetrics) RecordReclaimed(count int) {}

// prometheusMetrics implements metricsCollector backed by Prometheus.
type prometheusMetrics struct {
	idsGenerated      prometheus.Counter
	sequenceExhausted prometheus.Counter
	clockBackward     prometheus.Counter
	nodeID            prometheus.Gauge
	heartbeats        *prometheus.CounterVec
	reclaimed         prometheus.Counter
}

var _ metricsCollector = (*prometheusMetrics)(nil)

func newPrometheusMetrics(reg prometheus.Registerer, namespace string) *prometheusMetrics {
	var m = &prometheusMetrics{
		idsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "ids_generated_total",
			Help:      "Total identifiers minted by this process.",
		}),
		sequenceExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "sequence_exhausted_total",
			Help:      "Times the per-millisecond sequence ran out and the generator waited for the next millisecond.",
		}),
		clockBackward: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "clock_backward_total",
			Help:      "NextID calls rejected because the clock moved backward.",
		}),
		nodeID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "node_id",
			Help:      "Node id held by this process, -1 when none.",
		}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "heartbeats_total",
			Help:      "Heartbeat writes by result.",
		}, []string{"result"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reclaimed_nodes_total",
			Help:      "Stale node records deleted by this process.",
		}),
	}

	m.idsGenerated = register(reg, m.idsGenerated)
	m.sequenceExhausted = register(reg, m.sequenceExhausted)
	m.clockBackward = register(reg, m.clockBackward)
	m.nodeID = register(reg, m.nodeID)
	m.heartbeats = register(reg, m.heartbeats)
	m.reclaimed = register(reg, m.reclaimed)
	m.nodeID.Set(-1)

	return m
}

// register registers c, or returns the collector already registered under the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *prometheusMetrics) RecordIDGenerated() {
	m.idsGenerated.Inc()
}

func (m *prometheusMetrics) RecordSequenceExhausted() {
	m.sequenceExhausted.Inc()
}

func (m *prometheusMetrics) RecordClockBackward() {
	m.clockBackward.Inc()
}

func (m *prometheusMetrics) RecordNodeAllocated(nodeID int) {
	m.nodeID.Set(float64(nodeID))
}

func (m *prometheusMetrics) RecordHeartbeat(success bool) {
	m.heartbeats.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *prometheusMetrics) RecordReclaimed(count int) {
	m.reclaimed.Add(float64(count))
}
