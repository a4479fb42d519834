// Package metrics exposes engine and checkpoint activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"paper_go/internal/checkpoint"
	"paper_go/internal/domain"
	"paper_go/internal/execution"
	"paper_go/internal/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	_ execution.Observer  = (*Metrics)(nil)
	_ checkpoint.Observer = (*Metrics)(nil)
)

// Metrics implements the engine and checkpoint observers on its own registry,
// so several simulators in one process (or tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	ordersAccepted  *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	fills           *prometheus.CounterVec
	fillRejections  *prometheus.CounterVec
	filledQty       *prometheus.CounterVec
	killSwitch      prometheus.Gauge
	queueDepth      prometheus.Gauge

	checkpointsPersisted prometheus.Counter
	checkpointsFailed    prometheus.Counter
	checkpointBytes      prometheus.Gauge
	checkpointDuration   prometheus.Histogram

	breakerState *prometheus.GaugeVec
}

// New creates and registers all metrics. identity is attached as a constant label.
func New(identity string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"identity": identity}

	return &Metrics{
		registry: reg,
		ordersAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "engine", Name: "orders_accepted_total",
			Help: "Orders that passed the risk gate", ConstLabels: labels,
		}, []string{"symbol", "side"}),
		ordersRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "engine", Name: "orders_rejected_total",
			Help: "Orders rejected at submit time, by reason", ConstLabels: labels,
		}, []string{"symbol", "reason"}),
		ordersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "engine", Name: "orders_cancelled_total",
			Help: "Orders that reached CANCELLED", ConstLabels: labels,
		}, []string{"symbol"}),
		fills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "engine", Name: "fills_total",
			Help: "Fill executions", ConstLabels: labels,
		}, []string{"symbol", "side"}),
		fillRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "engine", Name: "fill_rejections_total",
			Help: "Fills refused by the fill-time account check", ConstLabels: labels,
		}, []string{"symbol", "reason"}),
		filledQty: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "engine", Name: "filled_quantity_total",
			Help: "Filled quantity", ConstLabels: labels,
		}, []string{"symbol", "side"}),
		killSwitch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper", Subsystem: "risk", Name: "kill_switch",
			Help: "1 while the kill switch blocks new orders", ConstLabels: labels,
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper", Subsystem: "engine", Name: "pending_actions",
			Help: "Actions waiting in the time-ordered queue", ConstLabels: labels,
		}),
		checkpointsPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "checkpoint", Name: "persisted_total",
			Help: "Checkpoints written", ConstLabels: labels,
		}),
		checkpointsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "paper", Subsystem: "checkpoint", Name: "failed_total",
			Help: "Checkpoint writes that failed", ConstLabels: labels,
		}),
		checkpointBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper", Subsystem: "checkpoint", Name: "last_size_bytes",
			Help: "Size of the last persisted checkpoint", ConstLabels: labels,
		}),
		checkpointDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paper", Subsystem: "checkpoint", Name: "persist_duration_seconds",
			Help: "Time to encode and store a checkpoint", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "paper", Subsystem: "storage", Name: "circuit_breaker_state",
			Help: "0 closed, 1 open, 2 half-open", ConstLabels: labels,
		}, []string{"name"}),
	}
}

// Registry returns the registry holding these metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OrderAccepted(o domain.Order) {
	m.ordersAccepted.WithLabelValues(o.Symbol, string(o.Side)).Inc()
}

func (m *Metrics) OrderRejected(o domain.Order, reason domain.RejectReason) {
	m.ordersRejected.WithLabelValues(o.Symbol, string(reason)).Inc()
}

func (m *Metrics) Executed(o domain.Order, e domain.Execution) {
	if !e.IsFill() {
		m.fillRejections.WithLabelValues(o.Symbol, string(e.RejectReason)).Inc()
		return
	}
	m.fills.WithLabelValues(o.Symbol, string(o.Side)).Inc()
	m.filledQty.WithLabelValues(o.Symbol, string(o.Side)).Add(e.Quantity.InexactFloat64())
}

func (m *Metrics) OrderCancelled(o domain.Order) {
	m.ordersCancelled.WithLabelValues(o.Symbol).Inc()
}

func (m *Metrics) KillSwitchChanged(on bool) {
	if on {
		m.killSwitch.Set(1)
	} else {
		m.killSwitch.Set(0)
	}
}

func (m *Metrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) CheckpointPersisted(_ string, size int, took time.Duration) {
	m.checkpointsPersisted.Inc()
	m.checkpointBytes.Set(float64(size))
	m.checkpointDuration.Observe(took.Seconds())
}

func (m *Metrics) CheckpointFailed(string, error) {
	m.checkpointsFailed.Inc()
}

// BreakerTransition is an infra.CircuitBreaker OnTransition hook.
func (m *Metrics) BreakerTransition(name string, to infra.BreakerState) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}
