// Package metrics holds the Prometheus instruments of the push service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics bundles the service counters. A nil *Metrics records nothing.
type Metrics struct {
	sends       *prometheus.CounterVec
	recipients  *prometheus.CounterVec
	tokenWrites *prometheus.CounterVec
	dispatch    *prometheus.HistogramVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_sends_total",
				Help: "Total number of send operations by addressing mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		recipients: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_recipients_total",
				Help: "Total number of per-token delivery outcomes from batch sends",
			},
			[]string{"outcome"},
		),
		tokenWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_token_writes_total",
				Help: "Total number of token store writes issued by reconciliation",
			},
			[]string{"op", "result"},
		),
		dispatch: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "push_dispatch_duration_seconds",
				Help:    "Duration of provider calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
}

// Send records one send operation.
func (m *Metrics) Send(mode string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.sends.WithLabelValues(mode, outcome).Inc()
}

// Recipients records per-token outcomes of a batch.
func (m *Metrics) Recipients(success, failure int) {
	if m == nil {
		return
	}
	m.recipients.WithLabelValues(OutcomeSuccess).Add(float64(success))
	m.recipients.WithLabelValues(OutcomeFailure).Add(float64(failure))
}

// TokenWrite records one reconciliation write. op is "touch" or "deactivate".
func (m *Metrics) TokenWrite(op string, err error) {
	if m == nil {
		return
	}
	result := OutcomeSuccess
	if err != nil {
		result = OutcomeError
	}
	m.tokenWrites.WithLabelValues(op, result).Inc()
}

// ObserveDispatch records the duration of a provider call started at start.
func (m *Metrics) ObserveDispatch(mode string, start time.Time) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
