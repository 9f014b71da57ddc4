// Package metrics provides Prometheus metrics for the governor and the index server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/standardbeagle/staleguard/internal/governor"
	"github.com/standardbeagle/staleguard/internal/scheduler"
	"github.com/standardbeagle/staleguard/internal/transient"
)

const namespace = "staleguard"

// Governor records governor events. It implements governor.Observer.
type Governor struct {
	// Transitions counts state changes by destination state.
	Transitions *prometheus.CounterVec
	// Requests counts issued searches by attempt and trigger.
	Requests *prometheus.CounterVec
	// Responses counts accepted responses by outcome.
	Responses *prometheus.CounterVec
	// Discards counts responses dropped as stale.
	Discards *prometheus.CounterVec
	// RetryDelay observes armed backoff delays.
	RetryDelay prometheus.Histogram
	// Alerts counts structural failures.
	Alerts *prometheus.CounterVec
	// State is 1 for the current state of the most recently changed governor.
	State *prometheus.GaugeVec
}

// NewGovernor registers governor metrics with reg
func NewGovernor(reg prometheus.Registerer) *Governor {
	f := promauto.With(reg)
	return &Governor{
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "governor",
				Name:      "transitions_total",
				Help:      "Total number of view state transitions",
			},
			[]string{"to"},
		),
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "governor",
				Name:      "requests_total",
				Help:      "Total number of search requests issued",
			},
			[]string{"attempt", "trigger"},
		),
		Responses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "governor",
				Name:      "responses_total",
				Help:      "Total number of search responses applied",
			},
			[]string{"outcome"},
		),
		Discards: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "governor",
				Name:      "discarded_responses_total",
				Help:      "Total number of stale responses discarded",
			},
			[]string{"reason"},
		),
		RetryDelay: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "governor",
				Name:      "retry_delay_seconds",
				Help:      "Distribution of armed retry delays",
				Buckets:   []float64{0.5, 1, 1.5, 3, 6, 12, 30},
			},
		),
		Alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "governor",
				Name:      "alerts_total",
				Help:      "Total number of structural failures surfaced",
			},
			[]string{"terminal"},
		),
		State: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "governor",
				Name:      "state",
				Help:      "Current view state (1 = active)",
			},
			[]string{"state"},
		),
	}
}

var allKinds = []governor.Kind{
	governor.Fresh, governor.ShowingStale, governor.Suppressed, governor.Exhausted, governor.Dismissed,
}

// StateChanged implements governor.Observer
func (m *Governor) StateChanged(_, to governor.Kind) {
	m.Transitions.WithLabelValues(to.String()).Inc()
	for _, k := range allKinds {
		v := 0.0
		if k == to {
			v = 1
		}
		m.State.WithLabelValues(k.String()).Set(v)
	}
}

// RequestIssued implements governor.Observer
func (m *Governor) RequestIssued(req governor.Request) {
	trigger := "auto"
	if req.Manual {
		trigger = "manual"
	}
	m.Requests.WithLabelValues(strconv.Itoa(req.Attempt), trigger).Inc()
}

// ResponseResolved implements governor.Observer
func (m *Governor) ResponseResolved(_ governor.Request, outcome scheduler.Outcome) {
	m.Responses.WithLabelValues(outcome.String()).Inc()
}

// ResponseDiscarded implements governor.Observer
func (m *Governor) ResponseDiscarded(_ governor.Request, reason string) {
	m.Discards.WithLabelValues(reason).Inc()
}

// RetryArmed implements governor.Observer
func (m *Governor) RetryArmed(_ int, delay time.Duration) {
	m.RetryDelay.Observe(delay.Seconds())
}

// AlertRaised implements governor.Observer
func (m *Governor) AlertRaised(a *transient.Alert) {
	m.Alerts.WithLabelValues(strconv.FormatBool(a.Terminal)).Inc()
}

var _ governor.Observer = (*Governor)(nil)
