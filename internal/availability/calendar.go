// Package availability answers "who is free when" from the clinic calendar
// and the reservation store. Everything here is read-only and advisory; the
// reservation store is the final arbiter at booking time.
package availability

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

const dateLayout = "2006-01-02"

// DayHours represents the opening hours for a single day.
// Nil means the clinic is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "08:00" in 24-hour format
	Close string `json:"close"` // "17:00" in 24-hour format
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// ForDay returns the hours for a given weekday.
func (b *BusinessHours) ForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

func (b *BusinessHours) set(weekday time.Weekday, h *DayHours) {
	switch weekday {
	case time.Sunday:
		b.Sunday = h
	case time.Monday:
		b.Monday = h
	case time.Tuesday:
		b.Tuesday = h
	case time.Wednesday:
		b.Wednesday = h
	case time.Thursday:
		b.Thursday = h
	case time.Friday:
		b.Friday = h
	case time.Saturday:
		b.Saturday = h
	}
}

// UniformHours opens the same hours on each of days.
func UniformHours(open, close string, days []time.Weekday) BusinessHours {
	var b BusinessHours
	for _, d := range days {
		b.set(d, &DayHours{Open: open, Close: close})
	}
	return b
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekdays parses a comma separated list such as "mon,tue,wed".
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if len(part) > 3 {
			part = part[:3]
		}
		d, ok := weekdayNames[part]
		if !ok {
			return nil, fmt.Errorf("availability: unknown weekday %q", part)
		}
		out = append(out, d)
	}
	return out, nil
}

type window struct {
	open, close int // minutes after midnight
}

// Calendar resolves business hours to concrete instants in the clinic time
// zone.
type Calendar struct {
	loc  *time.Location
	days map[time.Weekday]window
}

// NewCalendar validates hours and binds them to loc.
func NewCalendar(hours BusinessHours, loc *time.Location) (*Calendar, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{loc: loc, days: make(map[time.Weekday]window)}
	for d := time.Sunday; d <= time.Saturday; d++ {
		h := hours.ForDay(d)
		if h == nil {
			continue
		}
		open, err := parseClock(h.Open)
		if err != nil {
			return nil, fmt.Errorf("availability: %s open: %w", d, err)
		}
		closing, err := parseClock(h.Close)
		if err != nil {
			return nil, fmt.Errorf("availability: %s close: %w", d, err)
		}
		if closing <= open {
			return nil, fmt.Errorf("availability: %s closes at or before opening", d)
		}
		c.days[d] = window{open: open, close: closing}
	}
	return c, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location is the clinic time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// DayStart returns local midnight of the day containing t.
func (c *Calendar) DayStart(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// Window returns the opening and closing instants for the day containing
// date. ok is false when the clinic is closed that day.
func (c *Calendar) Window(date time.Time) (open, close time.Time, ok bool) {
	day := c.DayStart(date)
	w, ok := c.days[day.Weekday()]
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := day.Date()
	open = time.Date(y, m, d, w.open/60, w.open%60, 0, 0, c.loc)
	close = time.Date(y, m, d, w.close/60, w.close%60, 0, 0, c.loc)
	return open, close, true
}

// ParseDate parses a YYYY-MM-DD date in the clinic time zone.
func (c *Calendar) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), c.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("availability: parse date", "date must be YYYY-MM-DD, got %q", s)
	}
	return t, nil
}
