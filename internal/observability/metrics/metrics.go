package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking flows.
type SchedulingMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	autoScheduleExams *prometheus.CounterVec
	conflictsDetected prometheus.Counter
	operationLatency  *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careflow",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by source and outcome",
		}, []string{"source", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careflow",
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Reservation status transitions",
		}, []string{"to"}),
		autoScheduleExams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careflow",
			Subsystem: "scheduling",
			Name:      "auto_schedule_exams_total",
			Help:      "Per-exam outcomes of auto-schedule runs",
		}, []string{"outcome"}),
		conflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "careflow",
			Subsystem: "scheduling",
			Name:      "conflicts_detected_total",
			Help:      "Overlapping reservation pairs reported by conflict sweeps",
		}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "careflow",
			Subsystem: "scheduling",
			Name:      "operation_latency_seconds",
			Help:      "Latency of scheduling write operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.autoScheduleExams, m.conflictsDetected, m.operationLatency)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(source, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

func (m *SchedulingMetrics) ObserveAutoScheduleExam(success bool) {
	if m == nil {
		return
	}
	label := "failed"
	if success {
		label = "booked"
	}
	m.autoScheduleExams.WithLabelValues(label).Inc()
}

func (m *SchedulingMetrics) ObserveConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflictsDetected.Add(float64(n))
}

func (m *SchedulingMetrics) ObserveLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}
