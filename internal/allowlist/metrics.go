package allowlist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the allow-list counter.
const (
	OutcomeAuthorized         = "authorized"
	OutcomeDenied             = "denied"
	OutcomeVerificationFailed = "verification_failed"
	OutcomeInvalidInput       = "invalid_input"
)

type Metrics struct {
	checks *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		checks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "portal_allowlist_checks_total",
			Help: "Allow-list checks by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) record(outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
}
