package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the protocol engine.
type Metrics struct {
	OutboundRequests  *prometheus.CounterVec
	OutboundLatency   *prometheus.HistogramVec
	Callbacks         *prometheus.CounterVec
	SignatureFailures *prometheus.CounterVec
	AuditDropped      prometheus.Counter
	AuditFailures     prometheus.Counter
	SettlementUpserts *prometheus.CounterVec
	TransactionsAlive prometheus.Gauge
	HTTPLatency       *prometheus.HistogramVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OutboundRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bap_outbound_requests_total",
			Help: "Signed requests sent to the network by action and outcome",
		}, []string{"action", "outcome"}),
		OutboundLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bap_outbound_request_duration_seconds",
			Help:    "Latency of signed network requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bap_callbacks_total",
			Help: "Inbound network callbacks by action and outcome",
		}, []string{"action", "outcome"}),
		SignatureFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bap_signature_failures_total",
			Help: "Rejected Authorization headers by reason",
		}, []string{"reason"}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "bap_audit_dropped_total",
			Help: "Audit entries dropped because the worker queue was full",
		}),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "bap_audit_failures_total",
			Help: "Audit entries that failed to persist or export",
		}),
		SettlementUpserts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bap_settlement_upserts_total",
			Help: "Settlement records processed from reconciliation callbacks",
		}, []string{"outcome"}),
		TransactionsAlive: f.NewGauge(prometheus.GaugeOpts{
			Name: "bap_transactions_started",
			Help: "Transactions created since process start",
		}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bap_http_request_duration_seconds",
			Help:    "HTTP handler latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveOutbound records one outbound dispatch.
func (m *Metrics) ObserveOutbound(action, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.OutboundRequests.WithLabelValues(action, outcome).Inc()
	m.OutboundLatency.WithLabelValues(action).Observe(took.Seconds())
}

// IncCallback records one inbound callback outcome.
func (m *Metrics) IncCallback(action, outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(action, outcome).Inc()
}

// IncSignatureFailure records a rejected Authorization header.
func (m *Metrics) IncSignatureFailure(reason string) {
	if m == nil {
		return
	}
	m.SignatureFailures.WithLabelValues(reason).Inc()
}

// IncAuditDropped counts audit entries lost to back-pressure.
func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// IncAuditFailure counts audit persistence errors.
func (m *Metrics) IncAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

// IncSettlement counts one reconciliation record outcome.
func (m *Metrics) IncSettlement(outcome string) {
	if m == nil {
		return
	}
	m.SettlementUpserts.WithLabelValues(outcome).Inc()
}

// IncTransactions counts a newly created transaction.
func (m *Metrics) IncTransactions() {
	if m == nil {
		return
	}
	m.TransactionsAlive.Inc()
}

// ObserveHTTP records one handled request.
func (m *Metrics) ObserveHTTP(route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPLatency.WithLabelValues(route, strconv.Itoa(status)).Observe(took.Seconds())
}
