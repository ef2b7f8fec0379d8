package protocols

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

const protocolColumns = `id, name, description, symptoms, recommended_exams, recommended_treatments, priority_level, active, created_at, updated_at`

// PostgresStore persists protocols in the protocols table.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("protocols: db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *Protocol) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO protocols (`+protocolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Name, p.Description, p.Symptoms, p.RecommendedExams, p.RecommendedTreatments,
		p.PriorityLevel, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return apperr.Internal("protocols: create", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Protocol, error) {
	row := s.db.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocols WHERE id = $1`, id)
	p, err := scanProtocol(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProtocolNotFound
	}
	if err != nil {
		return nil, apperr.Internal("protocols: get", err)
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *Protocol) error {
	p.UpdatedAt = time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE protocols
		SET name = $2, description = $3, symptoms = $4, recommended_exams = $5,
		    recommended_treatments = $6, priority_level = $7, active = $8, updated_at = $9
		WHERE id = $1
		RETURNING created_at`,
		p.ID, p.Name, p.Description, p.Symptoms, p.RecommendedExams, p.RecommendedTreatments,
		p.PriorityLevel, p.Active, p.UpdatedAt,
	)
	if err := row.Scan(&p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProtocolNotFound
		}
		return apperr.Internal("protocols: update", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Protocol, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter.Active != nil {
		rows, err = s.db.Query(ctx, `SELECT `+protocolColumns+` FROM protocols WHERE active = $1 ORDER BY id ASC`, *filter.Active)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+protocolColumns+` FROM protocols ORDER BY id ASC`)
	}
	if err != nil {
		return nil, apperr.Internal("protocols: list", err)
	}
	defer rows.Close()

	var out []Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, apperr.Internal("protocols: scan", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("protocols: list", fmt.Errorf("rows: %w", err))
	}
	return out, nil
}

func scanProtocol(row pgx.Row) (*Protocol, error) {
	var p Protocol
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Symptoms, &p.RecommendedExams,
		&p.RecommendedTreatments, &p.PriorityLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
