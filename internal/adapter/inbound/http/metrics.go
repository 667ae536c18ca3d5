package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/service"
)

const metricsNamespace = "gymgate"

// Metrics holds all Prometheus metrics for gymgate.
// It implements service.GateMetrics and service.ThrottleMetrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	Decisions        *prometheus.CounterVec
	DecisionDuration prometheus.Histogram
	AuditEmitted     *prometheus.CounterVec
	ThrottleChecks   *prometheus.CounterVec
	LockoutsTotal    prometheus.Counter
	ActiveSessions   prometheus.Gauge
	RateLimitKeys    prometheus.Gauge
	AuditDropsTotal  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "endpoint", "status"}, // status=ok/refused/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "access_decisions_total",
				Help:      "Access decisions by outcome",
			},
			[]string{"outcome"},
		),
		DecisionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "access_decision_duration_seconds",
				Help:      "Time spent evaluating an access request",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
		),
		AuditEmitted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "access_audit_events_total",
				Help:      "Access decisions that produced an audit event",
			},
			[]string{"outcome"},
		),
		ThrottleChecks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "throttle_checks_total",
				Help:      "Sensitive action attempts by result",
			},
			[]string{"action", "result"}, // result=allowed/limited
		),
		LockoutsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "login_lockouts_total",
				Help:      "Login identifiers locked out",
			},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Number of identities with a tracked profile session",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit windows",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "audit_drops",
				Help:      "Audit events dropped due to backpressure since start",
			},
		),
	}
}

// ObserveDecision implements service.GateMetrics.
func (m *Metrics) ObserveDecision(outcome access.Outcome, elapsed time.Duration) {
	m.Decisions.WithLabelValues(outcome.String()).Inc()
	m.DecisionDuration.Observe(elapsed.Seconds())
}

// ObserveAuditEmitted implements service.GateMetrics.
func (m *Metrics) ObserveAuditEmitted(outcome access.Outcome) {
	m.AuditEmitted.WithLabelValues(outcome.String()).Inc()
}

// ObserveThrottle implements service.ThrottleMetrics.
func (m *Metrics) ObserveThrottle(action string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "limited"
	}
	m.ThrottleChecks.WithLabelValues(action, result).Inc()
}

// ObserveLockout implements service.ThrottleMetrics.
func (m *Metrics) ObserveLockout() {
	m.LockoutsTotal.Inc()
}

// Compile-time interface verification.
var (
	_ service.GateMetrics     = (*Metrics)(nil)
	_ service.ThrottleMetrics = (*Metrics)(nil)
)
