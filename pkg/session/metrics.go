package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts session activity. A nil *Metrics records nothing.
type Metrics struct {
	opened  *prometheus.CounterVec
	errors  *prometheus.CounterVec
	sweeps  prometheus.Counter
	removed prometheus.Counter
}

// NewMetrics creates session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modserve",
			Subsystem: "session",
			Name:      "opened_total",
			Help:      "Sessions opened, by outcome (new or resumed).",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modserve",
			Subsystem: "session",
			Name:      "store_errors_total",
			Help:      "Store operations that failed, by operation.",
		}, []string{"op"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modserve",
			Subsystem: "session",
			Name:      "sweeps_total",
			Help:      "Cleanup sweeps run against the store.",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modserve",
			Subsystem: "session",
			Name:      "expired_removed_total",
			Help:      "Expired records removed by sweeps.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.opened, m.errors, m.sweeps, m.removed)
	}
	return m
}

func (m *Metrics) open(isNew bool) {
	if m == nil {
		return
	}
	if isNew {
		m.opened.WithLabelValues("new").Inc()
	} else {
		m.opened.WithLabelValues("resumed").Inc()
	}
}

func (m *Metrics) storeError(op string) {
	if m != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) sweep(removed int) {
	if m != nil {
		m.sweeps.Inc()
		m.removed.Add(float64(removed))
	}
}
