package upstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks upstream read latency by action and outcome.
type Metrics struct {
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_upstream_request_duration_seconds",
			Help:    "Latency of upstream read API calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"action", "outcome"}),
	}
}

func (m *Metrics) observe(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(action, outcome).Observe(d.Seconds())
}
