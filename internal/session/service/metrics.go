package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"portal/internal/session/models"
)

type Metrics struct {
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	discarded   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_session_transitions_total",
			Help: "Committed session transitions by resulting state",
		}, []string{"state"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_signin_outcomes_total",
			Help: "Sign-in attempts by outcome",
		}, []string{"outcome"}),
		discarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "portal_signin_discarded_total",
			Help: "Sign-in results discarded because the attempt was no longer pending",
		}),
	}
}

func (m *Metrics) recordTransition(state models.State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(state)).Inc()
}

// recordOutcome counts a finished attempt. OutcomeNone is a successful
// sign-in.
func (m *Metrics) recordOutcome(outcome models.Outcome) {
	if m == nil {
		return
	}
	label := string(outcome)
	if outcome == models.OutcomeNone {
		label = "signed_in"
	}
	m.outcomes.WithLabelValues(label).Inc()
}

func (m *Metrics) recordDiscarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}
