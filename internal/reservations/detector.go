package reservations

import (
	"context"
	"sort"
	"time"
)

// Conflict is a pair of active reservations of one medic that overlap.
type Conflict struct {
	Reservation1 string    `json:"reservation_1"`
	Reservation2 string    `json:"reservation_2"`
	MedicID      string    `json:"medic_id"`
	Start1       time.Time `json:"start_1"`
	End1         time.Time `json:"end_1"`
	Start2       time.Time `json:"start_2"`
	End2         time.Time `json:"end_2"`
}

// ActiveLister lists active reservations.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]Reservation, error)
}

// Detector audits stored reservations for overlaps that should never exist.
type Detector struct {
	store ActiveLister
}

// NewDetector creates a detector over store.
func NewDetector(store ActiveLister) *Detector {
	if store == nil {
		panic("reservations: store required")
	}
	return &Detector{store: store}
}

// Detect returns every overlap among active reservations.
func (d *Detector) Detect(ctx context.Context) ([]Conflict, error) {
	active, err := d.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return FindConflicts(active), nil
}

// FindConflicts groups reservations by medic, sorts each group by start and
// sweeps it. The anchor is the reservation reaching furthest so far, so one
// long booking overlapping several later ones reports each of them.
func FindConflicts(rs []Reservation) []Conflict {
	byMedic := make(map[string][]Reservation)
	var medics []string
	for _, r := range rs {
		if !r.Status.Active() {
			continue
		}
		if _, ok := byMedic[r.MedicID]; !ok {
			medics = append(medics, r.MedicID)
		}
		byMedic[r.MedicID] = append(byMedic[r.MedicID], r)
	}
	sort.Strings(medics)

	out := []Conflict{}
	for _, medic := range medics {
		group := byMedic[medic]
		sortByStart(group)
		anchor := group[0]
		for _, next := range group[1:] {
			if Overlaps(anchor.StartTime, anchor.EndTime, next.StartTime, next.EndTime) {
				out = append(out, Conflict{
					Reservation1: anchor.ID,
					Reservation2: next.ID,
					MedicID:      medic,
					Start1:       anchor.StartTime,
					End1:         anchor.EndTime,
					Start2:       next.StartTime,
					End2:         next.EndTime,
				})
			}
			if next.EndTime.After(anchor.EndTime) {
				anchor = next
			}
		}
	}
	return out
}
