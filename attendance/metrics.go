package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
)

const outcomeAccepted = "accepted"

// Metrics counts attendance activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	verifications   *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter
	distance        prometheus.Histogram
}

// NewMetrics registers the attendance collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "verifications_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "sessions_created_total",
			Help:      "Attendance sessions opened.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "sessions_closed_total",
			Help:      "Attendance sessions closed early by their owner.",
		}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attendance",
			Name:      "mark_distance_meters",
			Help:      "Distance from the session origin of accepted check-ins.",
			Buckets:   []float64{5, 10, 25, 50, 75, 100, 150, 250, 500},
		}),
	}
	reg.MustRegister(m.verifications, m.sessionsCreated, m.sessionsClosed, m.distance)
	return m
}

// Verifications exposes the per-outcome counter.
func (m *Metrics) Verifications() *prometheus.CounterVec {
	return m.verifications
}

func (m *Metrics) observeVerification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDistance(meters float64) {
	if m == nil {
		return
	}
	m.distance.Observe(meters)
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
}
