// Package masterdata gives the scheduling engine read access to patient,
// medic and exam records owned by other services.
package masterdata

import (
	"strings"
	"time"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

var (
	// ErrPatientNotFound is returned when a patient id is unknown
	ErrPatientNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "patient not found"}

	// ErrMedicNotFound is returned when a medic id is unknown
	ErrMedicNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "medic not found"}

	// ErrExamNotFound is returned when an exam id is unknown
	ErrExamNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "exam not found"}
)

// Patient is the subset of the patient record the engine needs.
type Patient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Medic is a member of staff who can perform exams.
type Medic struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Active    bool   `json:"active"`
}

// Exam describes a bookable exam.
type Exam struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Category             string   `json:"category"`
	DurationMinutes      int      `json:"duration_minutes"`
	QualifiedSpecialties []string `json:"qualified_specialties"`
}

// Duration is the length of one booking of the exam.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// Qualifies reports whether m may perform the exam. An exam without an
// explicit specialty list accepts medics whose specialty equals its category.
// Inactive medics never qualify.
func (e Exam) Qualifies(m Medic) bool {
	if !m.Active {
		return false
	}
	specialty := strings.TrimSpace(m.Specialty)
	if specialty == "" {
		return false
	}
	if len(e.QualifiedSpecialties) == 0 {
		return strings.EqualFold(specialty, strings.TrimSpace(e.Category))
	}
	for _, s := range e.QualifiedSpecialties {
		if strings.EqualFold(specialty, strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

// SpecialtyMatches is Qualifies without the active check. It is used to
// report why a specific medic was rejected.
func (e Exam) SpecialtyMatches(m Medic) bool {
	m.Active = true
	return e.Qualifies(m)
}
