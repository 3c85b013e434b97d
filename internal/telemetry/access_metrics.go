package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AccessMetrics are the Prometheus counters scraped from /metrics.
type AccessMetrics struct {
	Decisions     *prometheus.CounterVec
	FailOpen      prometheus.Counter
	StoreErrors   *prometheus.CounterVec
	BatchRows     *prometheus.CounterVec
	BatchRejected *prometheus.CounterVec
	FanoutGrants  *prometheus.CounterVec
	AutoGrants    prometheus.Counter
	GateDenials   *prometheus.CounterVec
}

// NewAccessMetrics registers the access counters on reg.
func NewAccessMetrics(reg prometheus.Registerer) *AccessMetrics {
	factory := promauto.With(reg)

	return &AccessMetrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "decisions_total",
			Help:      "Chatflow permission decisions by outcome and reason.",
		}, []string{"decision", "reason"}),
		FailOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "fail_open_total",
			Help:      "Permission checks allowed because the store lookup failed.",
		}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "store_errors_total",
			Help:      "Store failures on the access read path by operation.",
		}, []string{"operation"}),
		BatchRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "batch_rows_total",
			Help:      "Bulk provisioning rows by commit outcome.",
		}, []string{"outcome"}),
		BatchRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "batch_rejected_total",
			Help:      "Bulk provisioning batches rejected before commit, by stage.",
		}, []string{"stage"}),
		FanoutGrants: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "fanout_grants_total",
			Help:      "Per-user grants written by role fan-out.",
		}, []string{"result"}),
		AutoGrants: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "auto_grants_total",
			Help:      "Per-user grants materialized from auto-grant role records.",
		}),
		GateDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow_access",
			Name:      "gate_denials_total",
			Help:      "Admin gate rejections by failure reason.",
		}, []string{"reason"}),
	}
}

// NewNopAccessMetrics returns counters registered on a throwaway registry.
func NewNopAccessMetrics() *AccessMetrics {
	return NewAccessMetrics(prometheus.NewRegistry())
}
