package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads master data tables maintained by the records
// service.
type PostgresDirectory struct {
	db DB
}

// NewPostgresDirectory creates a directory over db.
func NewPostgresDirectory(db DB) *PostgresDirectory {
	if db == nil {
		panic("masterdata: db required")
	}
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	err := d.db.QueryRow(ctx, `
		SELECT id, name, active
		FROM patients
		WHERE id = $1`, id).Scan(&p.ID, &p.Name, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, apperr.Internal("masterdata: get patient", err)
	}
	return &p, nil
}

func (d *PostgresDirectory) GetMedic(ctx context.Context, id string) (*Medic, error) {
	var m Medic
	err := d.db.QueryRow(ctx, `
		SELECT id, name, specialty, active
		FROM medics
		WHERE id = $1`, id).Scan(&m.ID, &m.Name, &m.Specialty, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMedicNotFound
	}
	if err != nil {
		return nil, apperr.Internal("masterdata: get medic", err)
	}
	return &m, nil
}

func (d *PostgresDirectory) GetExam(ctx context.Context, id string) (*Exam, error) {
	var e Exam
	err := d.db.QueryRow(ctx, `
		SELECT id, name, category, duration_minutes, qualified_specialties
		FROM exams
		WHERE id = $1`, id).Scan(&e.ID, &e.Name, &e.Category, &e.DurationMinutes, &e.QualifiedSpecialties)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, apperr.Internal("masterdata: get exam", err)
	}
	return &e, nil
}

func (d *PostgresDirectory) ListMedics(ctx context.Context) ([]Medic, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, name, specialty, active
		FROM medics
		ORDER BY id ASC`)
	if err != nil {
		return nil, apperr.Internal("masterdata: list medics", err)
	}
	defer rows.Close()

	var out []Medic
	for rows.Next() {
		var m Medic
		if err := rows.Scan(&m.ID, &m.Name, &m.Specialty, &m.Active); err != nil {
			return nil, apperr.Internal("masterdata: scan medic", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("masterdata: list medics", fmt.Errorf("rows: %w", err))
	}
	return out, nil
}
