package availability

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/internal/reservations"
)

// DefaultAlternativesDays is the search horizon when none is configured.
const DefaultAlternativesDays = 7

// Slot is one candidate interval for a medic.
type Slot struct {
	MedicID   string    `json:"medic_id"`
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
	Available bool      `json:"available"`
}

// SlotQuery lists the candidate slots of one medic on one day. A zero
// StepMinutes uses the configured granularity.
type SlotQuery struct {
	MedicID         string
	Date            time.Time
	DurationMinutes int
	StepMinutes     int
}

// AlternativesQuery searches for free slots over several days, starting at
// PreferredDate. DaysRange and Limit default to the configured horizon and
// no limit.
type AlternativesQuery struct {
	ExamID        string
	MedicID       string
	PreferredDate time.Time
	DaysRange     int
	Limit         int
}

// Options tunes the slot finder.
type Options struct {
	// GranularityMinutes is the default candidate step. Zero steps by the
	// requested duration.
	GranularityMinutes int
	AlternativesDays   int
	Now                func() time.Time
}

// SlotFinder generates candidate slots from the calendar and marks the ones
// that no active reservation overlaps.
type SlotFinder struct {
	dir          masterdata.Directory
	reservations ReservationReader
	calendar     *Calendar
	granularity  int
	days         int
	now          func() time.Time
}

// NewSlotFinder creates a slot finder.
func NewSlotFinder(dir masterdata.Directory, res ReservationReader, cal *Calendar, opts Options) *SlotFinder {
	if dir == nil || res == nil || cal == nil {
		panic("availability: directory, reservation reader and calendar required")
	}
	if opts.AlternativesDays <= 0 {
		opts.AlternativesDays = DefaultAlternativesDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SlotFinder{
		dir:          dir,
		reservations: res,
		calendar:     cal,
		granularity:  opts.GranularityMinutes,
		days:         opts.AlternativesDays,
		now:          opts.Now,
	}
}

// Calendar returns the business-hours calendar in use.
func (f *SlotFinder) Calendar() *Calendar { return f.calendar }

// FindSlots lists every candidate slot of the medic on q.Date in
// chronological order. No slot ends after closing time; closed days yield
// none.
func (f *SlotFinder) FindSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	const op = "availability: find slots"
	if strings.TrimSpace(q.MedicID) == "" {
		return nil, apperr.Validation(op, "medic_id is required")
	}
	if q.DurationMinutes <= 0 {
		return nil, apperr.Validation(op, "duration must be positive")
	}
	if q.StepMinutes < 0 {
		return nil, apperr.Validation(op, "step must not be negative")
	}
	if q.Date.IsZero() {
		return nil, apperr.Validation(op, "date is required")
	}
	if _, err := f.dir.GetMedic(ctx, q.MedicID); err != nil {
		return nil, err
	}
	return f.slotsFor(ctx, q)
}

func (f *SlotFinder) slotsFor(ctx context.Context, q SlotQuery) ([]Slot, error) {
	open, closing, ok := f.calendar.Window(q.Date)
	if !ok {
		return []Slot{}, nil
	}

	step := q.StepMinutes
	if step == 0 {
		step = f.granularity
	}
	if step == 0 {
		step = q.DurationMinutes
	}
	duration := time.Duration(q.DurationMinutes) * time.Minute
	stride := time.Duration(step) * time.Minute

	busy, err := f.reservations.ActiveForMedic(ctx, q.MedicID, open, closing)
	if err != nil {
		return nil, err
	}

	slots := []Slot{}
	for start := open; !start.Add(duration).After(closing); start = start.Add(stride) {
		end := start.Add(duration)
		slots = append(slots, Slot{
			MedicID:   q.MedicID,
			Start:     start,
			End:       end,
			Available: free(busy, start, end),
		})
	}
	return slots, nil
}

func free(busy []reservations.Reservation, start, end time.Time) bool {
	for _, r := range busy {
		if r.OverlapsInterval(start, end) {
			return false
		}
	}
	return true
}

// FindAlternatives returns the available slots for q.ExamID from the
// preferred date onwards, ordered by start then medic id. Slots that begin
// in the past are skipped.
func (f *SlotFinder) FindAlternatives(ctx context.Context, q AlternativesQuery) ([]Slot, error) {
	const op = "availability: find alternatives"
	if strings.TrimSpace(q.ExamID) == "" {
		return nil, apperr.Validation(op, "exam_id is required")
	}
	if q.DaysRange < 0 || q.Limit < 0 {
		return nil, apperr.Validation(op, "days_range and limit must not be negative")
	}
	exam, err := f.dir.GetExam(ctx, q.ExamID)
	if err != nil {
		return nil, err
	}

	var medics []masterdata.Medic
	if q.MedicID != "" {
		medic, err := f.dir.GetMedic(ctx, q.MedicID)
		if err != nil {
			return nil, err
		}
		if !exam.Qualifies(*medic) {
			return nil, apperr.Qualification(op, "medic %s is not qualified for exam %s", medic.ID, exam.ID)
		}
		medics = []masterdata.Medic{*medic}
	} else {
		medics, err = masterdata.QualifiedMedics(ctx, f.dir, *exam)
		if err != nil {
			return nil, err
		}
	}

	days := q.DaysRange
	if days == 0 {
		days = f.days
	}
	now := f.now()
	preferred := q.PreferredDate
	if preferred.IsZero() {
		preferred = now
	}
	first := f.calendar.DayStart(preferred)

	out := []Slot{}
	for d := 0; d < days; d++ {
		date := first.AddDate(0, 0, d)
		for _, m := range medics {
			slots, err := f.slotsFor(ctx, SlotQuery{MedicID: m.ID, Date: date, DurationMinutes: exam.DurationMinutes})
			if err != nil {
				return nil, err
			}
			for _, s := range slots {
				if s.Available && !s.Start.Before(now) {
					out = append(out, s)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].MedicID < out[j].MedicID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
