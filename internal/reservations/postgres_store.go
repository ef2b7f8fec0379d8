package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

// Querier is the read side of a pgx pool or transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the pool interface used by PostgresStore.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	reservationColumns = `id, patient_id, medic_id, exam_id, start_time, end_time, status, auto_scheduled, protocol_id, notes, metadata, created_at, updated_at`

	// exclusionViolation is raised by the reservations_no_overlap constraint.
	exclusionViolation = "23P01"
)

// PostgresStore persists reservations. Writes take a transaction-scoped
// advisory lock on the medic before checking overlaps; the GiST exclusion
// constraint on (medic_id, tstzrange) rejects anything that slips past.
type PostgresStore struct {
	pool PgxPool
	read Querier
	now  func() time.Time
}

// NewPostgresStore creates a store over pool.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("reservations: pool required")
	}
	return &PostgresStore{pool: pool, read: pool, now: func() time.Time { return time.Now().UTC() }}
}

// WithReadReplica serves advisory reads (availability, listings, conflict
// sweeps) from replica. Writes and their overlap checks stay on the primary.
func (s *PostgresStore) WithReadReplica(replica Querier) *PostgresStore {
	if replica != nil {
		s.read = replica
	}
	return s
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, apperr.Internal("reservations: get", err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) (Page, error) {
	filter.Normalize()
	where := " WHERE 1=1"
	var args []any
	argIdx := 1

	if filter.PatientID != "" {
		where += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.MedicID != "" {
		where += fmt.Sprintf(" AND medic_id = $%d", argIdx)
		args = append(args, filter.MedicID)
		argIdx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.AutoScheduled != nil {
		where += fmt.Sprintf(" AND auto_scheduled = $%d", argIdx)
		args = append(args, *filter.AutoScheduled)
		argIdx++
	}
	if filter.From != nil {
		where += fmt.Sprintf(" AND start_time >= $%d", argIdx)
		args = append(args, *filter.From)
		argIdx++
	}
	if filter.To != nil {
		where += fmt.Sprintf(" AND start_time < $%d", argIdx)
		args = append(args, *filter.To)
		argIdx++
	}

	page := Page{Reservations: []Reservation{}, Limit: filter.Limit, Offset: filter.Offset}
	if err := s.read.QueryRow(ctx, `SELECT count(*) FROM reservations`+where, args...).Scan(&page.Total); err != nil {
		return Page{}, apperr.Internal("reservations: count", err)
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations` + where +
		fmt.Sprintf(" ORDER BY start_time ASC, id ASC LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	rows, err := s.read.Query(ctx, query, args...)
	if err != nil {
		return Page{}, apperr.Internal("reservations: list", err)
	}
	defer rows.Close()
	list, err := collect(rows)
	if err != nil {
		return Page{}, apperr.Internal("reservations: list", err)
	}
	page.Reservations = append(page.Reservations, list...)
	return page, nil
}

func (s *PostgresStore) ActiveForMedic(ctx context.Context, medicID string, from, to time.Time) ([]Reservation, error) {
	rows, err := s.read.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE medic_id = $1 AND status IN ('scheduled', 'confirmed')
		  AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC, id ASC`, medicID, from, to)
	if err != nil {
		return nil, apperr.Internal("reservations: active for medic", err)
	}
	defer rows.Close()
	list, err := collect(rows)
	if err != nil {
		return nil, apperr.Internal("reservations: active for medic", err)
	}
	return list, nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]Reservation, error) {
	rows, err := s.read.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status IN ('scheduled', 'confirmed')
		ORDER BY medic_id ASC, start_time ASC, id ASC`)
	if err != nil {
		return nil, apperr.Internal("reservations: list active", err)
	}
	defer rows.Close()
	list, err := collect(rows)
	if err != nil {
		return nil, apperr.Internal("reservations: list active", err)
	}
	return list, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r *Reservation) (err error) {
	const op = "reservations: insert"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockMedic(ctx, tx, r.MedicID); err != nil {
		return apperr.Internal(op, err)
	}
	if err = firstOverlap(ctx, tx, r.MedicID, r.StartTime, r.EndTime, ""); err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := s.now()
	r.Status = StatusScheduled
	r.CreatedAt = now
	r.UpdatedAt = now
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return apperr.Internal(op, fmt.Errorf("marshal metadata: %w", err))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.PatientID, r.MedicID, r.ExamID, r.StartTime, r.EndTime, string(r.Status),
		r.AutoScheduled, r.ProtocolID, r.Notes, meta, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(op, err, r.MedicID, r.StartTime, r.EndTime)
	}
	if err = tx.Commit(ctx); err != nil {
		return mapWriteError(op, err, r.MedicID, r.StartTime, r.EndTime)
	}
	return nil
}

func (s *PostgresStore) Move(ctx context.Context, id string, start, end time.Time, entry MetadataEntry) (_ *Reservation, err error) {
	const op = "reservations: move"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	r, err := lockRow(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, apperr.InvalidState(op, "reservation %s is %s and cannot be rescheduled", id, r.Status)
	}
	if err = lockMedic(ctx, tx, r.MedicID); err != nil {
		return nil, apperr.Internal(op, err)
	}
	if err = firstOverlap(ctx, tx, r.MedicID, start, end, id); err != nil {
		return nil, err
	}

	oldStart, oldEnd := r.StartTime, r.EndTime
	entry.OldStart, entry.OldEnd = &oldStart, &oldEnd
	r.StartTime, r.EndTime = start, end
	r.Metadata.History = append(r.Metadata.History, entry)
	r.UpdatedAt = s.now()
	if err = updateRow(ctx, tx, r); err != nil {
		return nil, mapWriteError(op, err, r.MedicID, start, end)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, mapWriteError(op, err, r.MedicID, start, end)
	}
	return r, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, to Status, entry MetadataEntry) (_ *Reservation, changed bool, err error) {
	const op = "reservations: transition"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, apperr.Internal(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil || !changed {
			_ = tx.Rollback(ctx)
		}
	}()

	r, err := lockRow(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	changed, err = checkTransition(op, *r, to)
	if err != nil || !changed {
		return r, false, err
	}

	r.Status = to
	r.Metadata.History = append(r.Metadata.History, entry)
	r.UpdatedAt = s.now()
	if err = updateRow(ctx, tx, r); err != nil {
		return nil, false, apperr.Internal(op, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, false, apperr.Internal(op, fmt.Errorf("commit: %w", err))
	}
	return r, true, nil
}

func (s *PostgresStore) UpdateNotes(ctx context.Context, id, notes string, entry MetadataEntry) (_ *Reservation, err error) {
	const op = "reservations: update notes"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	r, err := lockRow(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.Notes = notes
	r.Metadata.History = append(r.Metadata.History, entry)
	r.UpdatedAt = s.now()
	if err = updateRow(ctx, tx, r); err != nil {
		return nil, apperr.Internal(op, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, fmt.Errorf("commit: %w", err))
	}
	return r, nil
}

func (s *PostgresStore) ProtocolReferenced(ctx context.Context, protocolID string) (bool, error) {
	var referenced bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE protocol_id = $1)`, protocolID).Scan(&referenced)
	if err != nil {
		return false, apperr.Internal("reservations: protocol referenced", err)
	}
	return referenced, nil
}

func (s *PostgresStore) ActiveExamIDs(ctx context.Context, patientID string) ([]string, error) {
	rows, err := s.read.Query(ctx, `
		SELECT DISTINCT exam_id
		FROM reservations
		WHERE patient_id = $1 AND status IN ('scheduled', 'confirmed')
		ORDER BY exam_id`, patientID)
	if err != nil {
		return nil, apperr.Internal("reservations: active exams", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("reservations: active exams", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("reservations: active exams", err)
	}
	return out, nil
}

func lockMedic(ctx context.Context, q Querier, medicID string) error {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, medicID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func lockRow(ctx context.Context, q Querier, id string) (*Reservation, error) {
	r, err := scanReservation(q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, apperr.Internal("reservations: lock row", err)
	}
	return r, nil
}

// firstOverlap returns a *ConflictError for the earliest active reservation
// of medicID intersecting [start, end), ignoring excludeID.
func firstOverlap(ctx context.Context, q Querier, medicID string, start, end time.Time, excludeID string) error {
	existing, err := scanReservation(q.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE medic_id = $1 AND status IN ('scheduled', 'confirmed')
		  AND start_time < $3 AND end_time > $2 AND id <> $4
		ORDER BY start_time ASC
		LIMIT 1`, medicID, start, end, excludeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return apperr.Internal("reservations: overlap check", err)
	}
	return &ConflictError{MedicID: medicID, Start: start, End: end, Existing: existing}
}

func updateRow(ctx context.Context, q Querier, r *Reservation) error {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = q.Exec(ctx, `
		UPDATE reservations
		SET start_time = $2, end_time = $3, status = $4, notes = $5, metadata = $6, updated_at = $7
		WHERE id = $1`,
		r.ID, r.StartTime, r.EndTime, string(r.Status), r.Notes, meta, r.UpdatedAt)
	return err
}

func mapWriteError(op string, err error, medicID string, start, end time.Time) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return &ConflictError{MedicID: medicID, Start: start, End: end}
	}
	return apperr.Internal(op, err)
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		r      Reservation
		status string
		meta   []byte
	)
	if err := row.Scan(&r.ID, &r.PatientID, &r.MedicID, &r.ExamID, &r.StartTime, &r.EndTime, &status,
		&r.AutoScheduled, &r.ProtocolID, &r.Notes, &meta, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &r, nil
}

func collect(rows pgx.Rows) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
