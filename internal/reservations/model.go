// Package reservations holds the reservation model, its status machine and
// the stores that enforce the per-medic no-overlap rule.
package reservations

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

// Status is a reservation lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return st, nil
	}
	return "", apperr.Validation("reservations: parse status", "unknown status %q", s)
}

// Active reports whether the status occupies the medic's calendar.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Source records how a reservation was created.
type Source string

const (
	SourceManual       Source = "manual"
	SourceAutoProtocol Source = "auto_protocol"
	SourceAutoSymptoms Source = "auto_symptoms"
)

// History actions.
const (
	ActionScheduled   = "scheduled"
	ActionRescheduled = "rescheduled"
	ActionNotes       = "notes_updated"
)

// MetadataEntry is one change recorded on a reservation.
type MetadataEntry struct {
	At       time.Time  `json:"at"`
	Actor    string     `json:"actor"`
	Action   string     `json:"action"`
	Reason   string     `json:"reason,omitempty"`
	OldStart *time.Time `json:"old_start,omitempty"`
	OldEnd   *time.Time `json:"old_end,omitempty"`
}

// SchedulingMetadata records who booked a reservation and every later change.
type SchedulingMetadata struct {
	ScheduledBy string          `json:"scheduled_by"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	Reason      string          `json:"reason,omitempty"`
	Source      Source          `json:"source"`
	History     []MetadataEntry `json:"history,omitempty"`
}

// Reservation books a medic for an exam over [StartTime, EndTime).
type Reservation struct {
	ID            string             `json:"id"`
	PatientID     string             `json:"patient_id"`
	MedicID       string             `json:"medic_id"`
	ExamID        string             `json:"exam_id"`
	StartTime     time.Time          `json:"start_time"`
	EndTime       time.Time          `json:"end_time"`
	Status        Status             `json:"status"`
	AutoScheduled bool               `json:"auto_scheduled"`
	ProtocolID    *string            `json:"protocol_id,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	Metadata      SchedulingMetadata `json:"metadata"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// OverlapsInterval reports whether r occupies any part of [start, end).
func (r Reservation) OverlapsInterval(start, end time.Time) bool {
	return Overlaps(r.StartTime, r.EndTime, start, end)
}

func (r Reservation) clone() Reservation {
	if r.ProtocolID != nil {
		id := *r.ProtocolID
		r.ProtocolID = &id
	}
	r.Metadata.History = append([]MetadataEntry(nil), r.Metadata.History...)
	return r
}

// ConflictError reports a booking that would overlap an active reservation
// of the same medic. Existing is nil when the database constraint caught the
// overlap and the colliding row is unknown.
type ConflictError struct {
	MedicID  string
	Start    time.Time
	End      time.Time
	Existing *Reservation
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return fmt.Sprintf("reservations: medic %s is already booked between %s and %s",
			e.MedicID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("reservations: medic %s is already booked between %s and %s by reservation %s",
		e.MedicID, e.Existing.StartTime.Format(time.RFC3339), e.Existing.EndTime.Format(time.RFC3339), e.Existing.ID)
}

// ErrorKind classifies the error as a conflict.
func (e *ConflictError) ErrorKind() apperr.Kind { return apperr.KindConflict }

// ErrorDetails adds the colliding reservation to the error envelope.
func (e *ConflictError) ErrorDetails() map[string]any {
	if e.Existing == nil {
		return nil
	}
	return map[string]any{"conflicting_reservation": e.Existing}
}

// ErrReservationNotFound is returned for unknown reservation ids.
var ErrReservationNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "reservation not found"}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Filter narrows reservation listings. From and To bound StartTime as
// [From, To).
type Filter struct {
	PatientID     string
	MedicID       string
	Status        Status
	AutoScheduled *bool
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// Normalize applies pagination defaults and caps.
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func (f Filter) matches(r Reservation) bool {
	if f.PatientID != "" && r.PatientID != f.PatientID {
		return false
	}
	if f.MedicID != "" && r.MedicID != f.MedicID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.AutoScheduled != nil && r.AutoScheduled != *f.AutoScheduled {
		return false
	}
	if f.From != nil && r.StartTime.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.StartTime.Before(*f.To) {
		return false
	}
	return true
}

// Page is one page of a listing.
type Page struct {
	Reservations []Reservation `json:"reservations"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}
