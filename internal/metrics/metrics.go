package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the check-in collectors. A nil *Metrics is a no-op.
type Metrics struct {
	CheckinOutcomes      *prometheus.CounterVec
	BackendRequests      *prometheus.HistogramVec
	ScansDropped         prometheus.Counter
	StatsRefreshFailures prometheus.Counter
	StatsTotalAttendees  prometheus.Gauge
}

// New registers the check-in collectors on reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CheckinOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_outcomes_total",
			Help: "Check-in invocations by terminal state and input method",
		}, []string{"state", "method"}),
		BackendRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkin_backend_request_duration_seconds",
			Help:    "Latency of signed backend calls by path and result kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "result"}),
		ScansDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "checkin_scans_dropped_total",
			Help: "Decode events dropped because a check-in was already in progress",
		}),
		StatsRefreshFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "checkin_stats_refresh_failures_total",
			Help: "Aggregate refreshes that failed and left the previous snapshot in place",
		}),
		StatsTotalAttendees: f.NewGauge(prometheus.GaugeOpts{
			Name: "checkin_stats_total_attendees",
			Help: "Total attendees reported by the last successful aggregate fetch",
		}),
	}
}

// ObserveOutcome counts one terminal check-in state.
func (m *Metrics) ObserveOutcome(state, method string) {
	if m == nil {
		return
	}
	m.CheckinOutcomes.WithLabelValues(state, method).Inc()
}

// ObserveRequest records one backend call.
func (m *Metrics) ObserveRequest(path, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(path, result).Observe(d.Seconds())
}

// IncrementScansDropped counts a scan discarded while busy.
func (m *Metrics) IncrementScansDropped() {
	if m == nil {
		return
	}
	m.ScansDropped.Inc()
}

// IncrementStatsRefreshFailures counts a failed aggregate refresh.
func (m *Metrics) IncrementStatsRefreshFailures() {
	if m == nil {
		return
	}
	m.StatsRefreshFailures.Inc()
}

// SetTotalAttendees publishes the latest total.
func (m *Metrics) SetTotalAttendees(total int) {
	if m == nil {
		return
	}
	m.StatsTotalAttendees.Set(float64(total))
}
