package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// ledger-api metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_active_requests",
		Help: "Current in-flight requests",
	})

	// ledger metrics
	AuditAppendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audit_append_total",
		Help: "Audit event appends",
	}, []string{"status"})

	ChainVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_chain_verify_total",
		Help: "Chain verification runs by result",
	}, []string{"result"})

	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_lock_wait_seconds",
		Help:    "Per-tenant append lock wait time",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// evidence metrics
	PackBuildTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_pack_build_total",
		Help: "Evidence pack builds",
	}, []string{"evidence_type", "status"})

	PackBuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_pack_build_duration_seconds",
		Help:    "Evidence pack build duration",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"evidence_type"})

	SealVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_seal_verify_total",
		Help: "Seal verifications by result",
	}, []string{"result"})

	PackStatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_pack_status_transitions_total",
		Help: "Evidence pack status transition count",
	}, []string{"from", "to"})

	// proof metrics
	SectionVerdictTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_section_verdict_total",
		Help: "Proof section verdicts",
	}, []string{"section_type", "verdict"})

	AnomalyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_anomaly_total",
		Help: "Anomalies detected by section generation",
	}, []string{"type"})

	// ledger-worker metrics
	SweepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_sweep_total",
		Help: "Verification sweeps",
	}, []string{"status"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_sweep_duration_seconds",
		Help:    "Verification sweep duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	SweepBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_sweep_backlog",
		Help: "Sealed packs awaiting verification",
	})

	// ledger-sealer metrics
	SealerRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_sealer_requests_total",
		Help: "Seal service requests",
	}, []string{"method", "code"})

	SealerActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_sealer_active_requests",
		Help: "Currently executing seal requests",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		AuditAppendTotal, ChainVerifyTotal, LockWaitSeconds,
		PackBuildTotal, PackBuildDuration, SealVerifyTotal, PackStatusTransitions,
		SectionVerdictTotal, AnomalyTotal,
		SweepTotal, SweepDuration, SweepBacklog,
		SealerRequestsTotal, SealerActiveRequests,
	)
}
