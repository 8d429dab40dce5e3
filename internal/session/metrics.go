package session

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes session counters to Prometheus.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	events     *prometheus.CounterVec
	casRetries prometheus.Counter
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elevate",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Session service calls by operation and outcome.",
		}, []string{"op", "result"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elevate",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Committed session lifecycle events by type.",
		}, []string{"type"}),
		casRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "elevate",
			Subsystem: "session",
			Name:      "cas_retries_total",
			Help:      "Compare-and-set attempts lost to a concurrent writer.",
		}),
	}
}

// Notify counts ev by type.
func (m *Metrics) Notify(_ context.Context, ev Event) error {
	if m != nil {
		m.events.WithLabelValues(string(ev.Type)).Inc()
	}
	return nil
}

// ObserveRequest counts one service call.
func (m *Metrics) ObserveRequest(op string, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, resultLabel(err)).Inc()
}

// CASRetry counts one lost compare-and-set.
func (m *Metrics) CASRetry() {
	if m != nil {
		m.casRetries.Inc()
	}
}

func resultLabel(err error) string {
	var conflict *ConflictError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, ErrFailedPrecondition):
		return "failed_precondition"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
