// Package audit keeps an append-only trail of scheduling decisions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action names an audited scheduling decision.
type Action string

const (
	ActionScheduled     Action = "scheduling.reservation_scheduled"
	ActionRescheduled   Action = "scheduling.reservation_rescheduled"
	ActionStatusChanged Action = "scheduling.status_changed"
	ActionAutoSchedule  Action = "scheduling.auto_schedule_run"
	ActionProtocolSaved Action = "scheduling.protocol_saved"
)

// Entry is one immutable audit record.
type Entry struct {
	ID            string          `json:"id"`
	Action        Action          `json:"action"`
	Actor         string          `json:"actor"`
	ReservationID string          `json:"reservation_id,omitempty"`
	PatientID     string          `json:"patient_id,omitempty"`
	MedicID       string          `json:"medic_id,omitempty"`
	ProtocolID    string          `json:"protocol_id,omitempty"`
	ExamIDs       []string        `json:"exam_ids,omitempty"`
	Symptoms      []string        `json:"symptoms,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Recorder stores audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Store writes audit entries to scheduling_audit_events.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("audit: db required")
	}
	return &Store{db: db}
}

// Record inserts entry, filling its id and timestamp when missing.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Details) == 0 {
		entry.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO scheduling_audit_events (
			id, action, actor, reservation_id, patient_id, medic_id,
			protocol_id, exam_ids, symptoms, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		string(entry.Action),
		entry.Actor,
		nullString(entry.ReservationID),
		nullString(entry.PatientID),
		nullString(entry.MedicID),
		nullString(entry.ProtocolID),
		pq.Array(nonNil(entry.ExamIDs)),
		pq.Array(nonNil(entry.Symptoms)),
		[]byte(entry.Details),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record %s: %w", entry.Action, err)
	}
	return nil
}

// Filter specifies criteria for querying audit entries.
type Filter struct {
	ReservationID string
	PatientID     string
	Action        Action
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
}

// Query returns matching entries, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, action, actor, reservation_id, patient_id, medic_id,
			   protocol_id, exam_ids, symptoms, details, created_at
		FROM scheduling_audit_events
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if filter.ReservationID != "" {
		query += fmt.Sprintf(" AND reservation_id = $%d", argIdx)
		args = append(args, filter.ReservationID)
		argIdx++
	}
	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, string(filter.Action))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                 Entry
			action                            string
			reservationID, patientID, medicID sql.NullString
			protocolID                        sql.NullString
			details                           []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.Actor, &reservationID, &patientID, &medicID,
			&protocolID, pq.Array(&e.ExamIDs), pq.Array(&e.Symptoms), &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan entry: %w", err)
		}
		e.Action = Action(action)
		e.ReservationID = reservationID.String
		e.PatientID = patientID.String
		e.MedicID = medicID.String
		e.ProtocolID = protocolID.String
		e.Details = details
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}

// MemoryRecorder keeps entries in memory for tests and local runs.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries, oldest first.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
