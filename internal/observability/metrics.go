package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tradepost"

// EscrowMetrics records escrow engine and worker activity.
type EscrowMetrics struct {
	transitions   *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
	gatewayTime   *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	breaches      *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	payouts       *prometheus.CounterVec
	reconciled    *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the process-wide metrics, registered with the default
// Prometheus registry on first use.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = NewEscrowMetrics(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	m := &EscrowMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Committed transaction state transitions.",
		}, []string{"from", "to"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "compensations_total",
			Help:      "Compensating actions by action and result.",
		}, []string{"action", "result"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "invariant_breaches_total",
			Help:      "Ledger states that should be unreachable. Any increase needs a human.",
		}, []string{"kind"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Transaction view cache lookups by result.",
		}, []string{"result"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "sweeps_total",
			Help:      "Completed transactions processed by the payout sweep.",
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "actions_total",
			Help:      "Repairs made by the reconciler.",
		}, []string{"action", "result"}),
	}
	reg.MustRegister(
		m.transitions,
		m.gatewayCalls,
		m.gatewayTime,
		m.compensations,
		m.breaches,
		m.cacheLookups,
		m.payouts,
		m.reconciled,
	)
	return m
}

func (m *EscrowMetrics) RecordTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *EscrowMetrics) RecordGatewayCall(op, outcome string, seconds float64) {
	m.gatewayCalls.WithLabelValues(op, outcome).Inc()
	m.gatewayTime.WithLabelValues(op).Observe(seconds)
}

func (m *EscrowMetrics) RecordCompensation(action string, ok bool) {
	m.compensations.WithLabelValues(action, result(ok)).Inc()
}

func (m *EscrowMetrics) RecordInvariantBreach(kind string) {
	m.breaches.WithLabelValues(kind).Inc()
}

func (m *EscrowMetrics) RecordCacheHit(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *EscrowMetrics) RecordPayout(ok bool) {
	m.payouts.WithLabelValues(result(ok)).Inc()
}

func (m *EscrowMetrics) RecordReconcile(action string, ok bool) {
	m.reconciled.WithLabelValues(action, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
