package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session's Prometheus collectors.
type Metrics struct {
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	terminations    *prometheus.CounterVec
	authenticated   prometheus.Gauge
	refreshDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inframon",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inframon",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Access credential renewals by result.",
		}, []string{"result"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inframon",
			Subsystem: "session",
			Name:      "terminations_total",
			Help:      "Session terminations by reason.",
		}, []string{"reason"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inframon",
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while a session is active.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inframon",
			Subsystem: "session",
			Name:      "refresh_duration_seconds",
			Help:      "Latency of refresh endpoint calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.refreshes, m.terminations, m.authenticated, m.refreshDuration)
	}
	return m
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
	if result == "success" {
		m.authenticated.Set(1)
	}
}

func (m *Metrics) refresh(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(d.Seconds())
}

func (m *Metrics) restored() {
	if m == nil {
		return
	}
	m.authenticated.Set(1)
}

func (m *Metrics) terminated(reason Reason) {
	if m == nil {
		return
	}
	m.terminations.WithLabelValues(string(reason)).Inc()
	m.authenticated.Set(0)
}
