// Package protocols stores clinical protocols and turns reported symptoms
// into ranked protocol matches and exam recommendations.
package protocols

import (
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

const (
	MinPriority = 1
	MaxPriority = 5
)

// ErrProtocolNotFound is returned when a protocol id is unknown
var ErrProtocolNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "protocol not found"}

// Protocol maps a symptom set to recommended exams and treatments.
type Protocol struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	Symptoms              []string  `json:"symptoms"`
	RecommendedExams      []string  `json:"recommended_exams"`
	RecommendedTreatments []string  `json:"recommended_treatments"`
	PriorityLevel         int       `json:"priority_level"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CanonicalSymptom lowercases and trims a symptom.
func CanonicalSymptom(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CanonicalSymptoms canonicalizes, drops blanks and de-duplicates symptoms,
// returning them sorted.
func CanonicalSymptoms(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		c := CanonicalSymptom(s)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *Protocol) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.Symptoms = CanonicalSymptoms(p.Symptoms)
	p.RecommendedExams = cleanList(p.RecommendedExams)
	p.RecommendedTreatments = cleanList(p.RecommendedTreatments)
}

func (p *Protocol) validate(op string) error {
	if p.Name == "" {
		return apperr.Validation(op, "name is required")
	}
	if len(p.Symptoms) == 0 {
		return apperr.Validation(op, "at least one symptom is required")
	}
	if p.PriorityLevel < MinPriority || p.PriorityLevel > MaxPriority {
		return apperr.Validation(op, "priority_level must be between %d and %d", MinPriority, MaxPriority)
	}
	seen := make(map[string]struct{}, len(p.RecommendedExams))
	for _, id := range p.RecommendedExams {
		if _, dup := seen[id]; dup {
			return apperr.Validation(op, "exam %s is listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// semanticallyEqual reports whether two protocols agree on every field that
// drives matching and booking.
func semanticallyEqual(a, b Protocol) bool {
	return a.PriorityLevel == b.PriorityLevel &&
		equalStrings(a.Symptoms, b.Symptoms) &&
		equalStrings(a.RecommendedExams, b.RecommendedExams) &&
		equalStrings(a.RecommendedTreatments, b.RecommendedTreatments)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CreateProtocolRequest is the body of a protocol create call.
type CreateProtocolRequest struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	Symptoms              []string `json:"symptoms"`
	RecommendedExams      []string `json:"recommended_exams"`
	RecommendedTreatments []string `json:"recommended_treatments"`
	PriorityLevel         int      `json:"priority_level"`
	Active                *bool    `json:"active,omitempty"`
}

func (r CreateProtocolRequest) toProtocol() Protocol {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return Protocol{
		Name:                  r.Name,
		Description:           r.Description,
		Symptoms:              r.Symptoms,
		RecommendedExams:      r.RecommendedExams,
		RecommendedTreatments: r.RecommendedTreatments,
		PriorityLevel:         r.PriorityLevel,
		Active:                active,
	}
}

// UpdateProtocolRequest is a partial update; nil fields are left unchanged.
type UpdateProtocolRequest struct {
	Name                  *string   `json:"name,omitempty"`
	Description           *string   `json:"description,omitempty"`
	Symptoms              *[]string `json:"symptoms,omitempty"`
	RecommendedExams      *[]string `json:"recommended_exams,omitempty"`
	RecommendedTreatments *[]string `json:"recommended_treatments,omitempty"`
	PriorityLevel         *int      `json:"priority_level,omitempty"`
	Active                *bool     `json:"active,omitempty"`
}

func (r UpdateProtocolRequest) apply(p Protocol) Protocol {
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.Description != nil {
		p.Description = *r.Description
	}
	if r.Symptoms != nil {
		p.Symptoms = *r.Symptoms
	}
	if r.RecommendedExams != nil {
		p.RecommendedExams = *r.RecommendedExams
	}
	if r.RecommendedTreatments != nil {
		p.RecommendedTreatments = *r.RecommendedTreatments
	}
	if r.PriorityLevel != nil {
		p.PriorityLevel = *r.PriorityLevel
	}
	if r.Active != nil {
		p.Active = *r.Active
	}
	return p
}

// ListFilter narrows List results.
type ListFilter struct {
	Active *bool
}

// ActiveOnly is the filter used by the matcher.
func ActiveOnly() ListFilter {
	active := true
	return ListFilter{Active: &active}
}

func (f ListFilter) matches(p Protocol) bool {
	return f.Active == nil || p.Active == *f.Active
}

func (f ListFilter) activeOnly() bool {
	return f.Active != nil && *f.Active
}

func clone(p Protocol) Protocol {
	p.Symptoms = append([]string(nil), p.Symptoms...)
	p.RecommendedExams = append([]string(nil), p.RecommendedExams...)
	p.RecommendedTreatments = append([]string(nil), p.RecommendedTreatments...)
	return p
}
