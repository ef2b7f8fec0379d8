package reservations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

// Store persists reservations. Insert and Move run the overlap check and the
// write as one unit per medic, so two concurrent bookings for the same medic
// can never both succeed on overlapping intervals.
type Store interface {
	Get(ctx context.Context, id string) (*Reservation, error)
	List(ctx context.Context, filter Filter) (Page, error)
	// ActiveForMedic returns the medic's active reservations overlapping
	// [from, to), ordered by start.
	ActiveForMedic(ctx context.Context, medicID string, from, to time.Time) ([]Reservation, error)
	// ListActive returns every active reservation ordered by medic and start.
	ListActive(ctx context.Context) ([]Reservation, error)
	// Insert stores r as scheduled unless it overlaps an active reservation
	// of the same medic, in which case a *ConflictError is returned.
	Insert(ctx context.Context, r *Reservation) error
	// Move changes the interval of a non-terminal reservation, checking
	// overlaps against every other active reservation of the medic.
	Move(ctx context.Context, id string, start, end time.Time, entry MetadataEntry) (*Reservation, error)
	// Transition applies a status change. It reports false when the change
	// was a no-op (cancelling an already cancelled reservation).
	Transition(ctx context.Context, id string, to Status, entry MetadataEntry) (*Reservation, bool, error)
	UpdateNotes(ctx context.Context, id, notes string, entry MetadataEntry) (*Reservation, error)
	ProtocolReferenced(ctx context.Context, protocolID string) (bool, error)
	// ActiveExamIDs returns the exams the patient holds active reservations for.
	ActiveExamIDs(ctx context.Context, patientID string) ([]string, error)
}

// checkTransition validates from → to. changed is false for the
// cancel-after-cancel no-op.
func checkTransition(op string, r Reservation, to Status) (changed bool, err error) {
	if to == StatusCancelled && r.Status == StatusCancelled {
		return false, nil
	}
	if !CanTransition(r.Status, to) {
		return false, apperr.InvalidState(op, "cannot move reservation %s from %s to %s", r.ID, r.Status, to)
	}
	return true, nil
}

// MemoryStore is an in-memory Store. Writes hold a per-medic lock across the
// overlap check and the write; reads take only the shared data lock.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Reservation

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]Reservation),
		locks: make(map[string]*sync.Mutex),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) medicLock(medicID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[medicID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[medicID] = l
	}
	return l
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := r.clone()
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) (Page, error) {
	filter.Normalize()
	s.mu.RLock()
	var all []Reservation
	for _, r := range s.data {
		if filter.matches(r) {
			all = append(all, r.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartTime.Equal(all[j].StartTime) {
			return all[i].StartTime.Before(all[j].StartTime)
		}
		return all[i].ID < all[j].ID
	})

	page := Page{Reservations: []Reservation{}, Total: len(all), Limit: filter.Limit, Offset: filter.Offset}
	if filter.Offset < len(all) {
		end := filter.Offset + filter.Limit
		if end > len(all) {
			end = len(all)
		}
		page.Reservations = all[filter.Offset:end]
	}
	return page, nil
}

func (s *MemoryStore) ActiveForMedic(_ context.Context, medicID string, from, to time.Time) ([]Reservation, error) {
	s.mu.RLock()
	out := s.overlapping(medicID, from, to, "")
	s.mu.RUnlock()
	return out, nil
}

// overlapping must be called with mu held.
func (s *MemoryStore) overlapping(medicID string, from, to time.Time, excludeID string) []Reservation {
	var out []Reservation
	for _, r := range s.data {
		if r.MedicID != medicID || !r.Status.Active() || r.ID == excludeID {
			continue
		}
		if r.OverlapsInterval(from, to) {
			out = append(out, r.clone())
		}
	}
	sortByStart(out)
	return out
}

func (s *MemoryStore) ListActive(_ context.Context) ([]Reservation, error) {
	s.mu.RLock()
	var out []Reservation
	for _, r := range s.data {
		if r.Status.Active() {
			out = append(out, r.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MedicID != out[j].MedicID {
			return out[i].MedicID < out[j].MedicID
		}
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, r *Reservation) error {
	lock := s.medicLock(r.MedicID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	clash := s.overlapping(r.MedicID, r.StartTime, r.EndTime, "")
	s.mu.RUnlock()
	if len(clash) > 0 {
		return &ConflictError{MedicID: r.MedicID, Start: r.StartTime, End: r.EndTime, Existing: &clash[0]}
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := s.now()
	r.Status = StatusScheduled
	r.CreatedAt = now
	r.UpdatedAt = now

	s.mu.Lock()
	s.data[r.ID] = r.clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Move(ctx context.Context, id string, start, end time.Time, entry MetadataEntry) (*Reservation, error) {
	const op = "reservations: move"
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	lock := s.medicLock(current.MedicID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	r, ok := s.data[id]
	var clash []Reservation
	if ok {
		clash = s.overlapping(r.MedicID, start, end, id)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrReservationNotFound
	}
	if r.Status.Terminal() {
		return nil, apperr.InvalidState(op, "reservation %s is %s and cannot be rescheduled", id, r.Status)
	}
	if len(clash) > 0 {
		return nil, &ConflictError{MedicID: r.MedicID, Start: start, End: end, Existing: &clash[0]}
	}

	r = r.clone()
	oldStart, oldEnd := r.StartTime, r.EndTime
	entry.OldStart, entry.OldEnd = &oldStart, &oldEnd
	r.StartTime, r.EndTime = start, end
	r.Metadata.History = append(r.Metadata.History, entry)
	r.UpdatedAt = s.now()

	s.mu.Lock()
	s.data[id] = r
	s.mu.Unlock()
	out := r.clone()
	return &out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, to Status, entry MetadataEntry) (*Reservation, bool, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	lock := s.medicLock(current.MedicID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return nil, false, ErrReservationNotFound
	}
	changed, err := checkTransition("reservations: transition", r, to)
	if err != nil {
		return nil, false, err
	}
	if changed {
		r = r.clone()
		r.Status = to
		r.Metadata.History = append(r.Metadata.History, entry)
		r.UpdatedAt = s.now()
		s.data[id] = r
	}
	out := r.clone()
	return &out, changed, nil
}

func (s *MemoryStore) UpdateNotes(_ context.Context, id, notes string, entry MetadataEntry) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	r = r.clone()
	r.Notes = notes
	r.Metadata.History = append(r.Metadata.History, entry)
	r.UpdatedAt = s.now()
	s.data[id] = r
	out := r.clone()
	return &out, nil
}

func (s *MemoryStore) ProtocolReferenced(_ context.Context, protocolID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data {
		if r.ProtocolID != nil && *r.ProtocolID == protocolID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ActiveExamIDs(_ context.Context, patientID string) ([]string, error) {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, r := range s.data {
		if r.PatientID == patientID && r.Status.Active() {
			seen[r.ExamID] = struct{}{}
		}
	}
	s.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func sortByStart(rs []Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].StartTime.Equal(rs[j].StartTime) {
			return rs[i].StartTime.Before(rs[j].StartTime)
		}
		return rs[i].ID < rs[j].ID
	})
}
