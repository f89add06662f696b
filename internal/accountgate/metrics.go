package accountgate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	decisionAllowed            = "allowed"
	decisionDenied             = "denied"
	decisionVerificationFailed = "verification_failed"
	decisionInvalid            = "invalid_argument"
)

type Metrics struct {
	decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "portal_account_gate_decisions_total",
			Help: "Account creation hook decisions",
		}, []string{"decision"}),
	}
}

func (m *Metrics) record(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}
