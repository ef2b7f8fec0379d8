package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestSchedulingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)
	m.ObserveBooking("manual", "success")
	m.ObserveBooking("manual", "success")
	m.ObserveBooking("auto_protocol", "conflict")
	m.ObserveTransition("cancelled")
	m.ObserveAutoScheduleExam(true)
	m.ObserveAutoScheduleExam(false)
	m.ObserveConflicts(3)
	m.ObserveConflicts(0)
	m.ObserveLatency("schedule_exam", 0.02)

	if got := counterValue(t, reg, "careflow_scheduling_bookings_total", map[string]string{"source": "manual", "outcome": "success"}); got != 2 {
		t.Fatalf("expected 2 manual bookings, got %v", got)
	}
	if got := counterValue(t, reg, "careflow_scheduling_auto_schedule_exams_total", map[string]string{"outcome": "failed"}); got != 1 {
		t.Fatalf("expected 1 failed exam, got %v", got)
	}
	if got := counterValue(t, reg, "careflow_scheduling_conflicts_detected_total", nil); got != 3 {
		t.Fatalf("expected 3 conflicts, got %v", got)
	}
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("manual", "success")
	m.ObserveTransition("confirmed")
	m.ObserveAutoScheduleExam(true)
	m.ObserveConflicts(1)
	m.ObserveLatency("reschedule", 0.1)
}
