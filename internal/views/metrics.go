package views

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"portal/internal/upstream"
)

type Metrics struct {
	loads  *prometheus.HistogramVec
	stale  *prometheus.CounterVec
	joined *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		loads: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_view_load_duration_seconds",
			Help:    "Duration of committed view loads by view and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"view", "outcome"}),
		stale: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_view_stale_discards_total",
			Help: "View responses discarded because the key changed before they resolved",
		}, []string{"view"}),
		joined: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_view_joined_loads_total",
			Help: "Loads that joined a fetch already in flight for the same key",
		}, []string{"view"}),
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ready"
	}
	return string(upstream.CategoryOf(err))
}

func (m *Metrics) observeLoad(view, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(view, outcome).Observe(d.Seconds())
}

func (m *Metrics) recordStale(view string) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(view).Inc()
}

func (m *Metrics) recordJoined(view string) {
	if m == nil {
		return
	}
	m.joined.WithLabelValues(view).Inc()
}
