package masterdata

import (
	"context"
	"sort"
	"sync"
)

// Directory is read access to master data.
type Directory interface {
	GetPatient(ctx context.Context, id string) (*Patient, error)
	GetMedic(ctx context.Context, id string) (*Medic, error)
	GetExam(ctx context.Context, id string) (*Exam, error)
	// ListMedics returns every medic ordered by id.
	ListMedics(ctx context.Context) ([]Medic, error)
}

// QualifiedMedics returns the active medics qualified for exam, ordered by id.
func QualifiedMedics(ctx context.Context, dir Directory, exam Exam) ([]Medic, error) {
	medics, err := dir.ListMedics(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Medic, 0, len(medics))
	for _, m := range medics {
		if exam.Qualifies(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// MemoryDirectory is an in-memory Directory used in development and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	patients map[string]Patient
	medics   map[string]Medic
	exams    map[string]Exam
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		patients: make(map[string]Patient),
		medics:   make(map[string]Medic),
		exams:    make(map[string]Exam),
	}
}

// PutPatient adds or replaces a patient.
func (d *MemoryDirectory) PutPatient(p Patient) {
	d.mu.Lock()
	d.patients[p.ID] = p
	d.mu.Unlock()
}

// PutMedic adds or replaces a medic.
func (d *MemoryDirectory) PutMedic(m Medic) {
	d.mu.Lock()
	d.medics[m.ID] = m
	d.mu.Unlock()
}

// PutExam adds or replaces an exam.
func (d *MemoryDirectory) PutExam(e Exam) {
	d.mu.Lock()
	d.exams[e.ID] = e
	d.mu.Unlock()
}

func (d *MemoryDirectory) GetPatient(_ context.Context, id string) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (d *MemoryDirectory) GetMedic(_ context.Context, id string) (*Medic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.medics[id]
	if !ok {
		return nil, ErrMedicNotFound
	}
	return &m, nil
}

func (d *MemoryDirectory) GetExam(_ context.Context, id string) (*Exam, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.exams[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	e.QualifiedSpecialties = append([]string(nil), e.QualifiedSpecialties...)
	return &e, nil
}

func (d *MemoryDirectory) ListMedics(_ context.Context) ([]Medic, error) {
	d.mu.RLock()
	out := make([]Medic, 0, len(d.medics))
	for _, m := range d.medics {
		out = append(out, m)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
