// Package scheduling orchestrates bookings: validation, qualification,
// atomic commit through the reservation store, rescheduling, status changes
// and protocol-driven auto-scheduling.
package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/availability"
	"github.com/wolfman30/careflow-scheduling/internal/protocols"
	"github.com/wolfman30/careflow-scheduling/internal/reservations"
)

// ScheduleRequest books one exam with a specific medic.
type ScheduleRequest struct {
	PatientID     string    `json:"patient_id"`
	ExamID        string    `json:"exam_id"`
	MedicID       string    `json:"medic_id"`
	StartTime     time.Time `json:"start_time"`
	ProtocolID    string    `json:"protocol_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	AutoScheduled bool      `json:"auto_scheduled,omitempty"`
	Reason        string    `json:"reason,omitempty"`

	source reservations.Source
}

// Validate checks the required fields.
func (r ScheduleRequest) Validate() error {
	const op = "scheduling: schedule exam"
	switch {
	case strings.TrimSpace(r.PatientID) == "":
		return apperr.Validation(op, "patient_id is required")
	case strings.TrimSpace(r.ExamID) == "":
		return apperr.Validation(op, "exam_id is required")
	case strings.TrimSpace(r.MedicID) == "":
		return apperr.Validation(op, "medic_id is required")
	case r.StartTime.IsZero():
		return apperr.Validation(op, "start_time is required")
	}
	return nil
}

// RescheduleRequest moves a reservation to a new start time.
type RescheduleRequest struct {
	ReservationID string    `json:"reservation_id"`
	NewStartTime  time.Time `json:"new_start_time"`
	Reason        string    `json:"reason,omitempty"`
}

func (r RescheduleRequest) Validate() error {
	const op = "scheduling: reschedule"
	if strings.TrimSpace(r.ReservationID) == "" {
		return apperr.Validation(op, "reservation_id is required")
	}
	if r.NewStartTime.IsZero() {
		return apperr.Validation(op, "new_start_time is required")
	}
	return nil
}

// AutoScheduleRequest books every exam a protocol recommends. A zero
// PreferredDate means now; a zero WindowDays uses the configured window.
type AutoScheduleRequest struct {
	PatientID     string    `json:"patient_id"`
	ProtocolID    string    `json:"protocol_id"`
	PreferredDate time.Time `json:"preferred_date,omitempty"`
	WindowDays    int       `json:"window_days,omitempty"`
}

func (r AutoScheduleRequest) Validate() error {
	const op = "scheduling: auto schedule"
	if strings.TrimSpace(r.PatientID) == "" {
		return apperr.Validation(op, "patient_id is required")
	}
	if strings.TrimSpace(r.ProtocolID) == "" {
		return apperr.Validation(op, "protocol_id is required")
	}
	if r.WindowDays < 0 {
		return apperr.Validation(op, "window_days must not be negative")
	}
	return nil
}

// SymptomScheduleRequest auto-schedules from the best protocol match.
type SymptomScheduleRequest struct {
	PatientID     string    `json:"patient_id"`
	Symptoms      []string  `json:"symptoms"`
	PreferredDate time.Time `json:"preferred_date,omitempty"`
	WindowDays    int       `json:"window_days,omitempty"`
}

func (r SymptomScheduleRequest) Validate() error {
	const op = "scheduling: auto schedule from symptoms"
	if strings.TrimSpace(r.PatientID) == "" {
		return apperr.Validation(op, "patient_id is required")
	}
	if len(protocols.CanonicalSymptoms(r.Symptoms)) == 0 {
		return apperr.Validation(op, "at least one symptom is required")
	}
	if r.WindowDays < 0 {
		return apperr.Validation(op, "window_days must not be negative")
	}
	return nil
}

// ExamOutcome is the result of auto-scheduling one exam.
type ExamOutcome struct {
	ExamID      string                    `json:"exam_id" dynamodbav:"examId"`
	ExamName    string                    `json:"exam_name,omitempty" dynamodbav:"examName,omitempty"`
	Success     bool                      `json:"success" dynamodbav:"success"`
	Reservation *reservations.Reservation `json:"reservation,omitempty" dynamodbav:"reservation,omitempty"`
	Reason      string                    `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
}

// AutoScheduleResult summarises one auto-schedule run. Failures never undo
// earlier successes.
type AutoScheduleResult struct {
	RunID      string        `json:"run_id" dynamodbav:"runId"`
	PatientID  string        `json:"patient_id" dynamodbav:"patientId"`
	ProtocolID string        `json:"protocol_id" dynamodbav:"protocolId"`
	Source     string        `json:"source" dynamodbav:"source"`
	Symptoms   []string      `json:"symptoms,omitempty" dynamodbav:"symptoms,omitempty"`
	Successful []ExamOutcome `json:"successful" dynamodbav:"successful"`
	Failed     []ExamOutcome `json:"failed" dynamodbav:"failed"`
	Total      int           `json:"total" dynamodbav:"total"`
	CreatedAt  time.Time     `json:"created_at" dynamodbav:"createdAt"`
}

// AutoScheduleBody is the transport form of an auto-schedule request.
// ProtocolID wins over Symptoms; PreferredDate is a clinic-local YYYY-MM-DD.
type AutoScheduleBody struct {
	PatientID     string   `json:"patient_id"`
	ProtocolID    string   `json:"protocol_id,omitempty"`
	Symptoms      []string `json:"symptoms,omitempty"`
	PreferredDate string   `json:"preferred_date,omitempty"`
	WindowDays    int      `json:"window_days,omitempty"`
}

// RunAutoSchedule dispatches body to the protocol or symptom flow.
func RunAutoSchedule(ctx context.Context, s *Scheduler, cal *availability.Calendar, body AutoScheduleBody) (*AutoScheduleResult, error) {
	var preferred time.Time
	if body.PreferredDate != "" {
		day, err := cal.ParseDate(body.PreferredDate)
		if err != nil {
			return nil, err
		}
		preferred = day
	}
	switch {
	case strings.TrimSpace(body.ProtocolID) != "":
		return s.AutoScheduleFromProtocol(ctx, AutoScheduleRequest{
			PatientID:     body.PatientID,
			ProtocolID:    body.ProtocolID,
			PreferredDate: preferred,
			WindowDays:    body.WindowDays,
		})
	case len(body.Symptoms) > 0:
		return s.AutoScheduleFromSymptoms(ctx, SymptomScheduleRequest{
			PatientID:     body.PatientID,
			Symptoms:      body.Symptoms,
			PreferredDate: preferred,
			WindowDays:    body.WindowDays,
		})
	default:
		return nil, apperr.Validation("scheduling: auto schedule", "protocol_id or symptoms is required")
	}
}
