// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for bridge invocations.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	sonarfit "github.com/goliatone/go-sonarfit"
)

// Outcome labels besides error codes.
const (
	OutcomeSuccess        = "success"
	OutcomeNotImplemented = "not_implemented"
)

// Metrics holds the bridge collectors. Create one per registry.
type Metrics struct {
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	inflight           prometheus.Gauge
	lateCallbacks      *prometheus.CounterVec
}

var _ sonarfit.ArbiterObserver = (*Metrics)(nil)

// NewMetrics registers the bridge collectors on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sonarfit_invocations_total",
				Help: "Total number of bridge invocations",
			},
			[]string{"method", "outcome"}, // outcome: success, not_implemented or an error code
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sonarfit_invocation_duration_seconds",
				Help:    "Time from dispatch to reply in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 900, 1800},
			},
			[]string{"method"},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sonarfit_inflight_invocations",
				Help: "Invocations dispatched and not yet replied",
			},
		),
		lateCallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sonarfit_late_callbacks_total",
				Help: "Engine callbacks received after the invocation was resolved",
			},
			[]string{"callback"},
		),
	}
}

// RecordInvocation counts one replied invocation.
func (m *Metrics) RecordInvocation(method string, reply sonarfit.Reply, duration time.Duration) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(method, OutcomeLabel(reply)).Inc()
	m.invocationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) InvocationStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) InvocationFinished() {
	if m != nil {
		m.inflight.Dec()
	}
}

// LateCallback implements sonarfit.ArbiterObserver.
func (m *Metrics) LateCallback(kind sonarfit.CallbackKind) {
	if m != nil {
		m.lateCallbacks.WithLabelValues(string(kind)).Inc()
	}
}

// OutcomeLabel reduces a reply to a bounded label value.
func OutcomeLabel(reply sonarfit.Reply) string {
	switch {
	case reply.NotImplemented:
		return OutcomeNotImplemented
	case reply.Err != nil:
		if code := reply.Code(); code != "" {
			return code
		}
		return sonarfit.CodeInternal
	default:
		return OutcomeSuccess
	}
}
