package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatched requests. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates dispatch collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modserve",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Requests dispatched, by location and outcome.",
		}, []string{"location", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modserve",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent running the handler chain.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"location"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *Metrics) observe(location, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(location, outcome).Inc()
	m.duration.WithLabelValues(location).Observe(d.Seconds())
}
