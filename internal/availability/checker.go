package availability

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/internal/reservations"
)

// ReservationReader is the read side of the reservation store.
type ReservationReader interface {
	ActiveForMedic(ctx context.Context, medicID string, from, to time.Time) ([]reservations.Reservation, error)
}

// CheckRequest asks whether an exam can be booked at Start. A zero End
// defaults to Start plus the exam duration.
type CheckRequest struct {
	ExamID  string    `json:"exam_id"`
	MedicID string    `json:"medic_id,omitempty"`
	Start   time.Time `json:"start_time"`
	End     time.Time `json:"end_time,omitempty"`
}

// CheckResult answers a CheckRequest. "Nobody available" is a normal result,
// not an error.
type CheckResult struct {
	Available       bool               `json:"available"`
	Qualified       bool               `json:"qualified"`
	AvailableMedics []masterdata.Medic `json:"available_medics"`
	Start           time.Time          `json:"start_time"`
	End             time.Time          `json:"end_time"`
}

// Checker answers point-in-time availability questions.
type Checker struct {
	dir          masterdata.Directory
	reservations ReservationReader
}

// NewChecker creates a checker.
func NewChecker(dir masterdata.Directory, res ReservationReader) *Checker {
	if dir == nil || res == nil {
		panic("availability: directory and reservation reader required")
	}
	return &Checker{dir: dir, reservations: res}
}

// Check reports whether the requested medic, or any qualified medic when
// none is given, is free over the requested interval.
func (c *Checker) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	const op = "availability: check"
	if strings.TrimSpace(req.ExamID) == "" {
		return nil, apperr.Validation(op, "exam_id is required")
	}
	if req.Start.IsZero() {
		return nil, apperr.Validation(op, "start_time is required")
	}

	exam, err := c.dir.GetExam(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	start := req.Start
	end := req.End
	if end.IsZero() {
		end = start.Add(exam.Duration())
	}
	if !end.After(start) {
		return nil, apperr.Validation(op, "end_time must be after start_time")
	}

	result := &CheckResult{AvailableMedics: []masterdata.Medic{}, Start: start, End: end}

	var candidates []masterdata.Medic
	if req.MedicID != "" {
		medic, err := c.dir.GetMedic(ctx, req.MedicID)
		if err != nil {
			return nil, err
		}
		if !exam.Qualifies(*medic) {
			return result, nil
		}
		candidates = []masterdata.Medic{*medic}
	} else {
		candidates, err = masterdata.QualifiedMedics(ctx, c.dir, *exam)
		if err != nil {
			return nil, err
		}
	}
	result.Qualified = len(candidates) > 0

	for _, m := range candidates {
		busy, err := c.reservations.ActiveForMedic(ctx, m.ID, start, end)
		if err != nil {
			return nil, err
		}
		if len(busy) == 0 {
			result.AvailableMedics = append(result.AvailableMedics, m)
		}
	}
	result.Available = len(result.AvailableMedics) > 0
	return result, nil
}
