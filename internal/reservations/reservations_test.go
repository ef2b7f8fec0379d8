package reservations

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func booking(medic string, start time.Time, minutes int) *Reservation {
	return &Reservation{
		PatientID: "p1",
		MedicID:   medic,
		ExamID:    "ecg",
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusNoShow, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusNoShow, StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	_, err := ParseStatus("tentative")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	st, err := ParseStatus(" Confirmed ")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, st)
}

func TestOverlaps(t *testing.T) {
	assert.True(t, Overlaps(at(10, 0), at(10, 20), at(10, 10), at(10, 30)))
	assert.True(t, Overlaps(at(10, 0), at(11, 0), at(10, 15), at(10, 30)))
	assert.False(t, Overlaps(at(10, 0), at(10, 20), at(10, 20), at(10, 40)), "touching intervals")
	assert.False(t, Overlaps(at(10, 0), at(10, 20), at(11, 0), at(11, 20)))
}

func TestMemoryStoreInsertConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := booking("m1", at(10, 0), 20)
	require.NoError(t, store.Insert(ctx, first))
	assert.Equal(t, StatusScheduled, first.Status)

	err := store.Insert(ctx, booking("m1", at(10, 10), 20))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.Existing.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Contains(t, conflict.ErrorDetails(), "conflicting_reservation")

	require.NoError(t, store.Insert(ctx, booking("m1", at(10, 20), 20)), "adjacent booking")
	require.NoError(t, store.Insert(ctx, booking("m2", at(10, 10), 20)), "other medic")

	_, _, err = store.Transition(ctx, first.ID, StatusCancelled, MetadataEntry{Action: "cancelled"})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, booking("m1", at(10, 0), 15)), "cancelled slot is free")
}

func TestMemoryStoreMove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	r := booking("m1", at(10, 0), 20)
	require.NoError(t, store.Insert(ctx, r))
	other := booking("m1", at(15, 0), 20)
	require.NoError(t, store.Insert(ctx, other))

	moved, err := store.Move(ctx, r.ID, at(14, 0), at(14, 20), MetadataEntry{Action: ActionRescheduled, Reason: "patient request"})
	require.NoError(t, err)
	assert.Equal(t, at(14, 0), moved.StartTime)
	assert.Equal(t, StatusScheduled, moved.Status)
	require.Len(t, moved.Metadata.History, 1)
	assert.Equal(t, at(10, 0), *moved.Metadata.History[0].OldStart)

	require.NoError(t, store.Insert(ctx, booking("m1", at(10, 0), 20)), "old interval freed")

	_, err = store.Move(ctx, r.ID, at(14, 10), at(14, 30), MetadataEntry{})
	require.NoError(t, err, "overlap with itself is ignored")

	_, err = store.Move(ctx, r.ID, at(14, 50), at(15, 10), MetadataEntry{})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, other.ID, conflict.Existing.ID)

	_, _, err = store.Transition(ctx, other.ID, StatusNoShow, MetadataEntry{})
	require.NoError(t, err)
	_, err = store.Move(ctx, other.ID, at(16, 0), at(16, 20), MetadataEntry{})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = store.Move(ctx, "missing", at(16, 0), at(16, 20), MetadataEntry{})
	assert.True(t, errors.Is(err, ErrReservationNotFound))
}

func TestMemoryStoreTransition(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := booking("m1", at(9, 0), 30)
	require.NoError(t, store.Insert(ctx, r))

	got, changed, err := store.Transition(ctx, r.ID, StatusConfirmed, MetadataEntry{Action: "confirmed"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusConfirmed, got.Status)

	_, changed, err = store.Transition(ctx, r.ID, StatusCancelled, MetadataEntry{Action: "cancelled"})
	require.NoError(t, err)
	assert.True(t, changed)

	got, changed, err = store.Transition(ctx, r.ID, StatusCancelled, MetadataEntry{Action: "cancelled"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, got.Metadata.History, 2, "no-op cancel leaves history untouched")

	_, _, err = store.Transition(ctx, r.ID, StatusCompleted, MetadataEntry{})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		r := booking("m1", at(8, 0).Add(time.Duration(i)*30*time.Minute), 20)
		if i%5 == 0 {
			r.AutoScheduled = true
			r.PatientID = "p2"
		}
		require.NoError(t, store.Insert(ctx, r))
	}

	page, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Len(t, page.Reservations, DefaultLimit)

	page, err = store.List(ctx, Filter{Limit: 500, Offset: 20})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)
	assert.Len(t, page.Reservations, 5)

	auto := true
	page, err = store.List(ctx, Filter{AutoScheduled: &auto, PatientID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)

	from, to := at(9, 0), at(10, 0)
	page, err = store.List(ctx, Filter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	ids, err := store.ActiveExamIDs(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"ecg"}, ids)
}

func TestMemoryStoreNoOverlapUnderRandomOperations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	medics := []string{"m1", "m2", "m3"}
	var ids []string

	for i := 0; i < 500; i++ {
		start := at(8, 0).Add(time.Duration(rng.Intn(48)) * 10 * time.Minute)
		end := start.Add(time.Duration(1+rng.Intn(6)) * 10 * time.Minute)
		switch op := rng.Intn(10); {
		case op < 6 || len(ids) == 0:
			r := booking(medics[rng.Intn(len(medics))], start, int(end.Sub(start)/time.Minute))
			if err := store.Insert(ctx, r); err == nil {
				ids = append(ids, r.ID)
			}
		case op < 8:
			_, _ = store.Move(ctx, ids[rng.Intn(len(ids))], start, end, MetadataEntry{})
		default:
			_, _, _ = store.Transition(ctx, ids[rng.Intn(len(ids))], StatusCancelled, MetadataEntry{})
		}
	}

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, active)
	assert.Empty(t, FindConflicts(active))
}

func TestMemoryStoreConcurrentInsertsSameSlot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Insert(ctx, booking("m1", at(10, i%3*5), 20))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperr.Is(err, apperr.KindConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 49, conflicts)
	active, _ := store.ListActive(ctx)
	assert.Empty(t, FindConflicts(active))
}

func TestFindConflicts(t *testing.T) {
	long := Reservation{ID: "long", MedicID: "m1", Status: StatusScheduled, StartTime: at(9, 0), EndTime: at(12, 0)}
	a := Reservation{ID: "a", MedicID: "m1", Status: StatusConfirmed, StartTime: at(9, 30), EndTime: at(10, 0)}
	b := Reservation{ID: "b", MedicID: "m1", Status: StatusScheduled, StartTime: at(11, 0), EndTime: at(11, 30)}
	clear := Reservation{ID: "c", MedicID: "m1", Status: StatusScheduled, StartTime: at(12, 0), EndTime: at(12, 30)}
	cancelled := Reservation{ID: "x", MedicID: "m1", Status: StatusCancelled, StartTime: at(9, 0), EndTime: at(13, 0)}
	otherMedic := Reservation{ID: "o", MedicID: "m2", Status: StatusScheduled, StartTime: at(9, 0), EndTime: at(12, 0)}

	conflicts := FindConflicts([]Reservation{b, clear, a, cancelled, long, otherMedic})
	require.Len(t, conflicts, 2)
	assert.Equal(t, "long", conflicts[0].Reservation1)
	assert.Equal(t, "a", conflicts[0].Reservation2)
	assert.Equal(t, "long", conflicts[1].Reservation1)
	assert.Equal(t, "b", conflicts[1].Reservation2)

	assert.Empty(t, FindConflicts(nil))
}

func TestDetector(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, booking("m1", at(10, 0), 20)))
	require.NoError(t, store.Insert(ctx, booking("m1", at(10, 20), 20)))

	conflicts, err := NewDetector(store).Detect(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

var pgColumns = []string{"id", "patient_id", "medic_id", "exam_id", "start_time", "end_time", "status", "auto_scheduled", "protocol_id", "notes", "metadata", "created_at", "updated_at"}

func TestPostgresStoreInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)
	ctx := context.Background()

	r := booking("m1", at(10, 0), 20)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("m1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM reservations").WithArgs("m1", r.StartTime, r.EndTime, "").WillReturnRows(pgxmock.NewRows(pgColumns))
	mock.ExpectExec("INSERT INTO reservations").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Insert(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, StatusScheduled, r.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInsertConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)
	ctx := context.Background()

	protocolID := "cardiac"
	r := booking("m1", at(10, 10), 20)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("m1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM reservations").WithArgs("m1", r.StartTime, r.EndTime, "").WillReturnRows(
		pgxmock.NewRows(pgColumns).AddRow("r-1", "p1", "m1", "ecg", at(10, 0), at(10, 20), "scheduled", false, &protocolID, "", []byte(`{"source":"manual"}`), day, day))
	mock.ExpectRollback()

	err = store.Insert(ctx, r)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "r-1", conflict.Existing.ID)
	assert.Equal(t, SourceManual, conflict.Existing.Metadata.Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreExclusionViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)

	r := booking("m1", at(10, 0), 20)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM reservations").WillReturnRows(pgxmock.NewRows(pgColumns))
	mock.ExpectExec("INSERT INTO reservations").WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "reservations_no_overlap"})
	mock.ExpectRollback()

	err = store.Insert(context.Background(), r)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Nil(t, conflict.Existing)
	assert.Nil(t, conflict.ErrorDetails())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMove(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)

	var noProtocol *string
	start, end := at(14, 0), at(14, 20)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("r-1").WillReturnRows(
		pgxmock.NewRows(pgColumns).AddRow("r-1", "p1", "m1", "ecg", at(10, 0), at(10, 20), "confirmed", false, noProtocol, "", []byte(`{}`), day, day))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("m1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("status IN").WithArgs("m1", start, end, "r-1").WillReturnRows(pgxmock.NewRows(pgColumns))
	mock.ExpectExec("UPDATE reservations").
		WithArgs("r-1", start, end, "confirmed", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	r, err := store.Move(context.Background(), "r-1", start, end, MetadataEntry{Action: ActionRescheduled})
	require.NoError(t, err)
	assert.Equal(t, start, r.StartTime)
	assert.Equal(t, end, r.EndTime)
	assert.Equal(t, StatusConfirmed, r.Status)
	require.Len(t, r.Metadata.History, 1)
	require.NotNil(t, r.Metadata.History[0].OldStart)
	assert.Equal(t, at(10, 0), *r.Metadata.History[0].OldStart)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMoveRejected(t *testing.T) {
	var noProtocol *string
	tests := []struct {
		name   string
		status string
		expect func(mock pgxmock.PgxPoolIface)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "overlaps another reservation",
			status: "scheduled",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("pg_advisory_xact_lock").WithArgs("m1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectQuery("status IN").WithArgs("m1", at(14, 0), at(14, 20), "r-1").WillReturnRows(
					pgxmock.NewRows(pgColumns).AddRow("r-2", "p2", "m1", "ecg", at(14, 10), at(14, 30), "scheduled", false, noProtocol, "", []byte(`{}`), day, day))
			},
			check: func(t *testing.T, err error) {
				var conflict *ConflictError
				require.ErrorAs(t, err, &conflict)
				assert.Equal(t, "r-2", conflict.Existing.ID)
			},
		},
		{
			name:   "terminal status",
			status: "completed",
			expect: func(pgxmock.PgxPoolIface) {},
			check: func(t *testing.T, err error) {
				assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			store := NewPostgresStore(mock)

			mock.ExpectBegin()
			mock.ExpectQuery("FOR UPDATE").WithArgs("r-1").WillReturnRows(
				pgxmock.NewRows(pgColumns).AddRow("r-1", "p1", "m1", "ecg", at(10, 0), at(10, 20), tt.status, false, noProtocol, "", []byte(`{}`), day, day))
			tt.expect(mock)
			mock.ExpectRollback()

			_, err = store.Move(context.Background(), "r-1", at(14, 0), at(14, 20), MetadataEntry{})
			tt.check(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStoreTransitionNoOp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)

	var noProtocol *string
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("r-1").WillReturnRows(
		pgxmock.NewRows(pgColumns).AddRow("r-1", "p1", "m1", "ecg", at(10, 0), at(10, 20), "cancelled", false, noProtocol, "", []byte(`{}`), day, day))
	mock.ExpectRollback()

	r, changed, err := store.Transition(context.Background(), "r-1", StatusCancelled, MetadataEntry{})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusCancelled, r.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreReadReplica(t *testing.T) {
	primary, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer primary.Close()
	replica, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer replica.Close()

	store := NewPostgresStore(primary).WithReadReplica(replica)
	replica.ExpectQuery("status IN").WillReturnRows(pgxmock.NewRows(pgColumns))

	list, err := store.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, replica.ExpectationsWereMet())
	require.NoError(t, primary.ExpectationsWereMet())
}
