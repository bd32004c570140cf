package metrics

import "github.com/prometheus/client_golang/prometheus"

// PortalMetrics exposes counters/histograms for backend calls and the
// portal's background work.
type PortalMetrics struct {
	backendTotal   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	refreshTotal   *prometheus.CounterVec
	slotDiscarded  prometheus.Counter
	pollTotal      *prometheus.CounterVec
	mutationTotal  *prometheus.CounterVec
}

func NewPortalMetrics(reg prometheus.Registerer) *PortalMetrics {
	m := &PortalMetrics{
		backendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqueue",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total requests sent to the queue-management API",
		}, []string{"endpoint", "status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartqueue",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Latency of queue-management API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqueue",
			Subsystem: "session",
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by outcome",
		}, []string{"outcome"}),
		slotDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartqueue",
			Subsystem: "booking",
			Name:      "slot_fetch_discarded_total",
			Help:      "Slot fetch results dropped because a newer selection superseded them",
		}),
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqueue",
			Subsystem: "cache",
			Name:      "poll_total",
			Help:      "Scheduled refetches by view and outcome",
		}, []string{"view", "outcome"}),
		mutationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartqueue",
			Subsystem: "mutation",
			Name:      "total",
			Help:      "Mutations by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.backendTotal, m.backendLatency, m.refreshTotal, m.slotDiscarded, m.pollTotal, m.mutationTotal)
	return m
}

func (m *PortalMetrics) ObserveBackend(endpoint string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.backendTotal.WithLabelValues(endpoint, statusLabel(status)).Inc()
	m.backendLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *PortalMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *PortalMetrics) ObserveSlotDiscarded() {
	if m == nil {
		return
	}
	m.slotDiscarded.Inc()
}

func (m *PortalMetrics) ObservePoll(view, outcome string) {
	if m == nil {
		return
	}
	m.pollTotal.WithLabelValues(view, outcome).Inc()
}

func (m *PortalMetrics) ObserveMutation(kind, outcome string) {
	if m == nil {
		return
	}
	m.mutationTotal.WithLabelValues(kind, outcome).Inc()
}

func statusLabel(status int) string {
	switch {
	case status <= 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
