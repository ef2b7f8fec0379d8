package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/careflow-scheduling/internal/actor"
	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/audit"
	"github.com/wolfman30/careflow-scheduling/internal/availability"
	"github.com/wolfman30/careflow-scheduling/internal/events"
	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/internal/observability/metrics"
	"github.com/wolfman30/careflow-scheduling/internal/protocols"
	"github.com/wolfman30/careflow-scheduling/internal/reservations"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

var schedulingTracer = otel.Tracer("careflow.internal.scheduling")

// DefaultAutoScheduleWindowDays is the auto-schedule search window when the
// request and the configuration leave it unset.
const DefaultAutoScheduleWindowDays = 3

// ProtocolGetter resolves protocol references.
type ProtocolGetter interface {
	Get(ctx context.Context, id string) (*protocols.Protocol, error)
}

// SymptomMatcher ranks protocols for reported symptoms.
type SymptomMatcher interface {
	Match(ctx context.Context, symptoms []string) ([]protocols.Match, error)
}

// AlternativeFinder searches free slots for an exam.
type AlternativeFinder interface {
	FindAlternatives(ctx context.Context, q availability.AlternativesQuery) ([]availability.Slot, error)
}

// Config wires a Scheduler. Publisher, Audit, Runs and Metrics are optional.
type Config struct {
	Directory    masterdata.Directory
	Reservations reservations.Store
	Protocols    ProtocolGetter
	Matcher      SymptomMatcher
	Slots        AlternativeFinder
	Publisher    events.Publisher
	Audit        audit.Recorder
	Runs         RunStore
	Metrics      *metrics.SchedulingMetrics
	Logger       *logging.Logger
	Now          func() time.Time

	AutoScheduleWindowDays int
}

// Scheduler books, moves and changes the status of reservations.
type Scheduler struct {
	dir          masterdata.Directory
	reservations reservations.Store
	protocols    ProtocolGetter
	matcher      SymptomMatcher
	slots        AlternativeFinder
	publisher    events.Publisher
	audit        audit.Recorder
	runs         RunStore
	metrics      *metrics.SchedulingMetrics
	logger       *logging.Logger
	now          func() time.Time
	windowDays   int
}

// New constructs a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Directory == nil || cfg.Reservations == nil || cfg.Protocols == nil || cfg.Matcher == nil || cfg.Slots == nil {
		panic("scheduling: directory, reservations, protocols, matcher and slot finder required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AutoScheduleWindowDays <= 0 {
		cfg.AutoScheduleWindowDays = DefaultAutoScheduleWindowDays
	}
	return &Scheduler{
		dir:          cfg.Directory,
		reservations: cfg.Reservations,
		protocols:    cfg.Protocols,
		matcher:      cfg.Matcher,
		slots:        cfg.Slots,
		publisher:    cfg.Publisher,
		audit:        cfg.Audit,
		runs:         cfg.Runs,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.Component("scheduler"),
		now:          cfg.Now,
		windowDays:   cfg.AutoScheduleWindowDays,
	}
}

// ScheduleExam books one exam with the requested medic.
func (s *Scheduler) ScheduleExam(ctx context.Context, req ScheduleRequest) (*reservations.Reservation, error) {
	const op = "scheduling: schedule exam"
	ctx, span := schedulingTracer.Start(ctx, "scheduling.schedule_exam")
	defer span.End()
	defer s.observeLatency("schedule_exam", time.Now())

	source := req.source
	if source == "" {
		source = reservations.SourceManual
	}
	if err := req.Validate(); err != nil {
		s.metrics.ObserveBooking(string(source), "invalid")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("careflow.patient_id", req.PatientID),
		attribute.String("careflow.exam_id", req.ExamID),
		attribute.String("careflow.medic_id", req.MedicID),
	)

	if _, err := s.dir.GetPatient(ctx, req.PatientID); err != nil {
		span.RecordError(err)
		return nil, s.rejected(source, err)
	}
	exam, err := s.dir.GetExam(ctx, req.ExamID)
	if err != nil {
		span.RecordError(err)
		return nil, s.rejected(source, err)
	}
	medic, err := s.dir.GetMedic(ctx, req.MedicID)
	if err != nil {
		span.RecordError(err)
		return nil, s.rejected(source, err)
	}
	var protocolID *string
	if req.ProtocolID != "" {
		if _, err := s.protocols.Get(ctx, req.ProtocolID); err != nil {
			span.RecordError(err)
			return nil, s.rejected(source, err)
		}
		id := req.ProtocolID
		protocolID = &id
	}
	if err := checkQualified(op, *exam, *medic); err != nil {
		return nil, s.rejected(source, err)
	}
	if exam.DurationMinutes <= 0 {
		return nil, s.rejected(source, apperr.Validation(op, "exam %s has no duration", exam.ID))
	}

	now := s.now().UTC()
	who := actor.OrSystem(ctx)
	start := req.StartTime.UTC()
	r := &reservations.Reservation{
		PatientID:     req.PatientID,
		MedicID:       medic.ID,
		ExamID:        exam.ID,
		StartTime:     start,
		EndTime:       start.Add(exam.Duration()),
		AutoScheduled: req.AutoScheduled,
		ProtocolID:    protocolID,
		Notes:         req.Notes,
		Metadata: reservations.SchedulingMetadata{
			ScheduledBy: who,
			ScheduledAt: now,
			Reason:      req.Reason,
			Source:      source,
			History: []reservations.MetadataEntry{
				{At: now, Actor: who, Action: reservations.ActionScheduled, Reason: req.Reason},
			},
		},
	}
	if err := s.reservations.Insert(ctx, r); err != nil {
		span.RecordError(err)
		return nil, s.rejected(source, err)
	}
	span.SetAttributes(attribute.String("careflow.reservation_id", r.ID))
	s.metrics.ObserveBooking(string(source), "booked")

	s.publish(ctx, eventFor(events.TypeScheduled, r, req.Reason))
	s.record(ctx, audit.Entry{
		Action:        audit.ActionScheduled,
		Actor:         who,
		ReservationID: r.ID,
		PatientID:     r.PatientID,
		MedicID:       r.MedicID,
		ProtocolID:    req.ProtocolID,
		ExamIDs:       []string{r.ExamID},
		Details:       details(map[string]any{"start_time": r.StartTime, "end_time": r.EndTime, "source": source}),
	})
	s.logger.Info("reservation scheduled",
		"reservation_id", r.ID,
		"medic_id", r.MedicID,
		"exam_id", r.ExamID,
		"start_time", r.StartTime,
		"source", source,
	)
	return r, nil
}

// Reschedule moves a reservation of the same exam and medic to a new start.
// The status is preserved.
func (s *Scheduler) Reschedule(ctx context.Context, req RescheduleRequest) (*reservations.Reservation, error) {
	const op = "scheduling: reschedule"
	ctx, span := schedulingTracer.Start(ctx, "scheduling.reschedule")
	defer span.End()
	defer s.observeLatency("reschedule", time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("careflow.reservation_id", req.ReservationID))

	current, err := s.reservations.Get(ctx, req.ReservationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, apperr.InvalidState(op, "reservation %s is %s and cannot be rescheduled", current.ID, current.Status)
	}
	exam, err := s.dir.GetExam(ctx, current.ExamID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	medic, err := s.dir.GetMedic(ctx, current.MedicID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := checkQualified(op, *exam, *medic); err != nil {
		return nil, err
	}

	who := actor.OrSystem(ctx)
	start := req.NewStartTime.UTC()
	updated, err := s.reservations.Move(ctx, current.ID, start, start.Add(exam.Duration()), reservations.MetadataEntry{
		At:     s.now().UTC(),
		Actor:  who,
		Action: reservations.ActionRescheduled,
		Reason: req.Reason,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ev := eventFor(events.TypeRescheduled, updated, req.Reason)
	ev.PreviousStart = &current.StartTime
	ev.PreviousEnd = &current.EndTime
	s.publish(ctx, ev)
	s.record(ctx, audit.Entry{
		Action:        audit.ActionRescheduled,
		Actor:         who,
		ReservationID: updated.ID,
		PatientID:     updated.PatientID,
		MedicID:       updated.MedicID,
		ExamIDs:       []string{updated.ExamID},
		Details: details(map[string]any{
			"old_start_time": current.StartTime,
			"new_start_time": updated.StartTime,
			"reason":         req.Reason,
		}),
	})
	s.logger.Info("reservation rescheduled",
		"reservation_id", updated.ID,
		"medic_id", updated.MedicID,
		"old_start_time", current.StartTime,
		"new_start_time", updated.StartTime,
	)
	return updated, nil
}

// Confirm moves a scheduled reservation to confirmed.
func (s *Scheduler) Confirm(ctx context.Context, id, reason string) (*reservations.Reservation, error) {
	return s.transition(ctx, id, reservations.StatusConfirmed, events.TypeConfirmed, reason)
}

// Complete marks a confirmed reservation as completed.
func (s *Scheduler) Complete(ctx context.Context, id, reason string) (*reservations.Reservation, error) {
	return s.transition(ctx, id, reservations.StatusCompleted, events.TypeCompleted, reason)
}

// Cancel cancels a reservation. Cancelling twice is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id, reason string) (*reservations.Reservation, error) {
	return s.transition(ctx, id, reservations.StatusCancelled, events.TypeCancelled, reason)
}

// MarkNoShow records that the patient did not attend.
func (s *Scheduler) MarkNoShow(ctx context.Context, id, reason string) (*reservations.Reservation, error) {
	return s.transition(ctx, id, reservations.StatusNoShow, events.TypeNoShow, reason)
}

// Transition applies the status change named by to.
func (s *Scheduler) Transition(ctx context.Context, id string, to reservations.Status, reason string) (*reservations.Reservation, error) {
	switch to {
	case reservations.StatusConfirmed:
		return s.Confirm(ctx, id, reason)
	case reservations.StatusCompleted:
		return s.Complete(ctx, id, reason)
	case reservations.StatusCancelled:
		return s.Cancel(ctx, id, reason)
	case reservations.StatusNoShow:
		return s.MarkNoShow(ctx, id, reason)
	default:
		return nil, apperr.InvalidState("scheduling: transition", "reservations cannot be moved to %s", to)
	}
}

func (s *Scheduler) transition(ctx context.Context, id string, to reservations.Status, typ events.Type, reason string) (*reservations.Reservation, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("careflow.reservation_id", id),
		attribute.String("careflow.status", string(to)),
	)
	if id == "" {
		return nil, apperr.Validation("scheduling: transition", "reservation id is required")
	}

	who := actor.OrSystem(ctx)
	r, changed, err := s.reservations.Transition(ctx, id, to, reservations.MetadataEntry{
		At:     s.now().UTC(),
		Actor:  who,
		Action: string(to),
		Reason: reason,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !changed {
		return r, nil
	}
	s.metrics.ObserveTransition(string(to))
	s.publish(ctx, eventFor(typ, r, reason))
	s.record(ctx, audit.Entry{
		Action:        audit.ActionStatusChanged,
		Actor:         who,
		ReservationID: r.ID,
		PatientID:     r.PatientID,
		MedicID:       r.MedicID,
		ExamIDs:       []string{r.ExamID},
		Details:       details(map[string]any{"status": to, "reason": reason}),
	})
	s.logger.Info("reservation status changed", "reservation_id", r.ID, "status", to)
	return r, nil
}

// UpdateNotes replaces the free-text notes of a reservation.
func (s *Scheduler) UpdateNotes(ctx context.Context, id, notes string) (*reservations.Reservation, error) {
	if id == "" {
		return nil, apperr.Validation("scheduling: update notes", "reservation id is required")
	}
	return s.reservations.UpdateNotes(ctx, id, notes, reservations.MetadataEntry{
		At:     s.now().UTC(),
		Actor:  actor.OrSystem(ctx),
		Action: reservations.ActionNotes,
	})
}

// DetectConflicts reports overlapping active reservations.
func (s *Scheduler) DetectConflicts(ctx context.Context) ([]reservations.Conflict, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.detect_conflicts")
	defer span.End()

	conflicts, err := reservations.NewDetector(s.reservations).Detect(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.ObserveConflicts(len(conflicts))
	if len(conflicts) > 0 {
		s.logger.Warn("overlapping reservations detected", "count", len(conflicts))
	}
	return conflicts, nil
}

// AutoScheduleFromProtocol books the first free slot for every exam the
// protocol recommends, in stored order. Each exam succeeds or fails on its
// own; failures never undo earlier bookings.
func (s *Scheduler) AutoScheduleFromProtocol(ctx context.Context, req AutoScheduleRequest) (*AutoScheduleResult, error) {
	return s.autoSchedule(ctx, req, reservations.SourceAutoProtocol, nil)
}

// AutoScheduleFromSymptoms auto-schedules from the best matching protocol.
func (s *Scheduler) AutoScheduleFromSymptoms(ctx context.Context, req SymptomScheduleRequest) (*AutoScheduleResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	matches, err := s.matcher.Match(ctx, req.Symptoms)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, apperr.NotFound("scheduling: auto schedule from symptoms", "no protocol matches the reported symptoms")
	}
	best := matches[0]
	s.logger.Info("protocol selected from symptoms",
		"protocol_id", best.Protocol.ID,
		"match_score", best.MatchScore,
		"candidates", len(matches),
	)
	return s.autoSchedule(ctx, AutoScheduleRequest{
		PatientID:     req.PatientID,
		ProtocolID:    best.Protocol.ID,
		PreferredDate: req.PreferredDate,
		WindowDays:    req.WindowDays,
	}, reservations.SourceAutoSymptoms, req.Symptoms)
}

func (s *Scheduler) autoSchedule(ctx context.Context, req AutoScheduleRequest, source reservations.Source, symptoms []string) (*AutoScheduleResult, error) {
	const op = "scheduling: auto schedule"
	ctx, span := schedulingTracer.Start(ctx, "scheduling.auto_schedule")
	defer span.End()
	defer s.observeLatency("auto_schedule", time.Now())

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("careflow.patient_id", req.PatientID),
		attribute.String("careflow.protocol_id", req.ProtocolID),
	)
	if _, err := s.dir.GetPatient(ctx, req.PatientID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	protocol, err := s.protocols.Get(ctx, req.ProtocolID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !protocol.Active {
		return nil, apperr.InvalidState(op, "protocol %s is inactive", protocol.ID)
	}

	window := req.WindowDays
	if window <= 0 {
		window = s.windowDays
	}
	preferred := req.PreferredDate
	if preferred.IsZero() {
		preferred = s.now()
	}

	result := &AutoScheduleResult{
		RunID:      uuid.NewString(),
		PatientID:  req.PatientID,
		ProtocolID: protocol.ID,
		Source:     string(source),
		Symptoms:   symptoms,
		Successful: []ExamOutcome{},
		Failed:     []ExamOutcome{},
		Total:      len(protocol.RecommendedExams),
		CreatedAt:  s.now().UTC(),
	}
	var booked []reservations.Reservation
	for _, examID := range protocol.RecommendedExams {
		outcome := s.autoScheduleExam(ctx, req.PatientID, protocol, examID, preferred, window, source, booked)
		s.metrics.ObserveAutoScheduleExam(outcome.Success)
		if outcome.Success {
			booked = append(booked, *outcome.Reservation)
			result.Successful = append(result.Successful, outcome)
		} else {
			result.Failed = append(result.Failed, outcome)
		}
	}
	span.SetAttributes(
		attribute.Int("careflow.exams_booked", len(result.Successful)),
		attribute.Int("careflow.exams_failed", len(result.Failed)),
	)

	if s.runs != nil {
		if err := s.runs.Save(ctx, result); err != nil {
			s.logger.Error("failed to persist auto-schedule run", "run_id", result.RunID, "error", err)
		}
	}
	s.record(ctx, audit.Entry{
		Action:     audit.ActionAutoSchedule,
		Actor:      actor.OrSystem(ctx),
		PatientID:  req.PatientID,
		ProtocolID: protocol.ID,
		ExamIDs:    protocol.RecommendedExams,
		Symptoms:   symptoms,
		Details: details(map[string]any{
			"run_id":     result.RunID,
			"successful": len(result.Successful),
			"failed":     len(result.Failed),
		}),
	})
	s.logger.Info("auto-schedule run finished",
		"run_id", result.RunID,
		"protocol_id", protocol.ID,
		"successful", len(result.Successful),
		"failed", len(result.Failed),
	)
	return result, nil
}

// autoScheduleExam books the earliest slot for examID that does not overlap
// anything already booked for the patient in the same run.
func (s *Scheduler) autoScheduleExam(ctx context.Context, patientID string, protocol *protocols.Protocol, examID string, preferred time.Time, window int, source reservations.Source, booked []reservations.Reservation) ExamOutcome {
	outcome := ExamOutcome{ExamID: examID}
	exam, err := s.dir.GetExam(ctx, examID)
	if err != nil {
		outcome.Reason = apperr.PublicMessage(err)
		return outcome
	}
	outcome.ExamName = exam.Name

	slots, err := s.slots.FindAlternatives(ctx, availability.AlternativesQuery{
		ExamID:        exam.ID,
		PreferredDate: preferred,
		DaysRange:     window,
	})
	if err != nil {
		s.logger.Warn("slot search failed", "exam_id", exam.ID, "error", err)
		outcome.Reason = apperr.PublicMessage(err)
		return outcome
	}
	slot, ok := firstFree(slots, booked)
	if !ok {
		outcome.Reason = fmt.Sprintf("no available slot within %d days", window)
		return outcome
	}

	r, err := s.ScheduleExam(ctx, ScheduleRequest{
		PatientID:     patientID,
		ExamID:        exam.ID,
		MedicID:       slot.MedicID,
		StartTime:     slot.Start,
		ProtocolID:    protocol.ID,
		AutoScheduled: true,
		Reason:        fmt.Sprintf("auto-scheduled from protocol %s", protocol.Name),
		source:        source,
	})
	if err != nil {
		outcome.Reason = apperr.PublicMessage(err)
		return outcome
	}
	outcome.Success = true
	outcome.Reservation = r
	return outcome
}

func firstFree(slots []availability.Slot, booked []reservations.Reservation) (availability.Slot, bool) {
next:
	for _, slot := range slots {
		for _, b := range booked {
			if reservations.Overlaps(slot.Start, slot.End, b.StartTime, b.EndTime) {
				continue next
			}
		}
		return slot, true
	}
	return availability.Slot{}, false
}

// GetRun returns a persisted auto-schedule run.
func (s *Scheduler) GetRun(ctx context.Context, runID string) (*AutoScheduleResult, error) {
	if s.runs == nil {
		return nil, ErrRunNotFound
	}
	return s.runs.Get(ctx, runID)
}

func checkQualified(op string, exam masterdata.Exam, medic masterdata.Medic) error {
	if exam.Qualifies(medic) {
		return nil
	}
	if !medic.Active {
		return apperr.Qualification(op, "medic %s is inactive", medic.ID)
	}
	return apperr.Qualification(op, "medic %s is not qualified to perform %s", medic.ID, exam.Name)
}

func (s *Scheduler) rejected(source reservations.Source, err error) error {
	outcome := "rejected"
	var conflict *reservations.ConflictError
	if errors.As(err, &conflict) {
		outcome = "conflict"
	}
	s.metrics.ObserveBooking(string(source), outcome)
	return err
}

func (s *Scheduler) observeLatency(operation string, started time.Time) {
	s.metrics.ObserveLatency(operation, time.Since(started).Seconds())
}

func (s *Scheduler) publish(ctx context.Context, ev events.ReservationEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish reservation event", "type", ev.Type, "reservation_id", ev.ReservationID, "error", err)
	}
}

func (s *Scheduler) record(ctx context.Context, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("failed to record audit entry", "action", entry.Action, "error", err)
	}
}

func eventFor(typ events.Type, r *reservations.Reservation, reason string) events.ReservationEvent {
	ev := events.ReservationEvent{
		Type:          typ,
		Actor:         actorOf(r),
		ReservationID: r.ID,
		PatientID:     r.PatientID,
		MedicID:       r.MedicID,
		ExamID:        r.ExamID,
		Status:        string(r.Status),
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		AutoScheduled: r.AutoScheduled,
		Reason:        reason,
	}
	if r.ProtocolID != nil {
		ev.ProtocolID = *r.ProtocolID
	}
	return ev
}

// actorOf returns whoever made the latest change to r.
func actorOf(r *reservations.Reservation) string {
	if n := len(r.Metadata.History); n > 0 {
		return r.Metadata.History[n-1].Actor
	}
	return r.Metadata.ScheduledBy
}

func details(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
