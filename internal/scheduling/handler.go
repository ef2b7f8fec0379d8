package scheduling

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/availability"
	"github.com/wolfman30/careflow-scheduling/internal/http/respond"
	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/internal/reservations"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

// Handler serves the /reservations routes.
type Handler struct {
	scheduler    *Scheduler
	reservations reservations.Store
	slots        *availability.SlotFinder
	dir          masterdata.Directory
	logger       *logging.Logger
}

// NewHandler creates a reservations handler.
func NewHandler(scheduler *Scheduler, store reservations.Store, slots *availability.SlotFinder, dir masterdata.Directory, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{scheduler: scheduler, reservations: store, slots: slots, dir: dir, logger: logger}
}

// Routes mounts the reservation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/conflicts", h.Conflicts)
	r.Get("/available-slots", h.AvailableSlots)
	r.Post("/auto-schedule", h.AutoSchedule)
	r.Get("/auto-schedule/runs/{runID}", h.GetRun)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Cancel)
}

// List handles GET /reservations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	page, err := h.reservations.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if page.Reservations == nil {
		page.Reservations = []reservations.Reservation{}
	}
	respond.JSON(w, http.StatusOK, page)
}

func (h *Handler) parseFilter(r *http.Request) (reservations.Filter, error) {
	const op = "scheduling: list reservations"
	q := r.URL.Query()
	filter := reservations.Filter{
		PatientID: q.Get("patient_id"),
		MedicID:   q.Get("medic_id"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := reservations.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if raw := q.Get("auto_scheduled"); raw != "" {
		auto, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperr.Validation(op, "auto_scheduled must be true or false")
		}
		filter.AutoScheduled = &auto
	}
	if raw := q.Get("from_date"); raw != "" {
		from, err := h.parseInstant(raw, false)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if raw := q.Get("to_date"); raw != "" {
		to, err := h.parseInstant(raw, true)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return filter, apperr.Validation(op, "limit and offset must not be negative")
	}
	filter.Normalize()
	return filter, nil
}

// parseInstant accepts RFC 3339 or a clinic-local date. A date used as an
// upper bound covers the whole day.
func (h *Handler) parseInstant(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := h.slots.Calendar().ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("scheduling: parse query", "%s must be an integer", name)
	}
	return n, nil
}

// Create handles POST /reservations.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	res, err := h.scheduler.ScheduleExam(r.Context(), req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, res)
}

// Get handles GET /reservations/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

// UpdateReservationRequest is the body of PUT /reservations/{id}. StartTime
// reschedules, Status applies a transition and Notes replaces the notes;
// they are applied in that order.
type UpdateReservationRequest struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	Status    *string    `json:"status,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Update handles PUT /reservations/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateReservationRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if req.StartTime == nil && req.Status == nil && req.Notes == nil {
		respond.Error(w, h.logger, apperr.Validation("scheduling: update reservation", "one of start_time, status or notes is required"))
		return
	}

	var status reservations.Status
	if req.Status != nil {
		var err error
		if status, err = reservations.ParseStatus(*req.Status); err != nil {
			respond.Error(w, h.logger, err)
			return
		}
	}

	ctx := r.Context()
	var (
		res *reservations.Reservation
		err error
	)
	if req.Status != nil {
		// Reject a bad transition before anything is moved.
		current, err := h.reservations.Get(ctx, id)
		if err != nil {
			respond.Error(w, h.logger, err)
			return
		}
		noop := status == reservations.StatusCancelled && current.Status == reservations.StatusCancelled
		if !noop && !reservations.CanTransition(current.Status, status) {
			respond.Error(w, h.logger, apperr.InvalidState("scheduling: update reservation",
				"cannot move reservation %s from %s to %s", id, current.Status, status))
			return
		}
	}
	if req.StartTime != nil {
		if res, err = h.scheduler.Reschedule(ctx, RescheduleRequest{ReservationID: id, NewStartTime: *req.StartTime, Reason: req.Reason}); err != nil {
			respond.Error(w, h.logger, err)
			return
		}
	}
	if req.Status != nil {
		if res, err = h.scheduler.Transition(ctx, id, status, req.Reason); err != nil {
			respond.Error(w, h.logger, err)
			return
		}
	}
	if req.Notes != nil {
		if res, err = h.scheduler.UpdateNotes(ctx, id, *req.Notes); err != nil {
			respond.Error(w, h.logger, err)
			return
		}
	}
	respond.JSON(w, http.StatusOK, res)
}

// Cancel handles DELETE /reservations/{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.scheduler.Cancel(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("reason"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

// Conflicts handles GET /reservations/conflicts.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.scheduler.DetectConflicts(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"conflicts": conflicts, "count": len(conflicts)})
}

// AvailableSlots handles GET /reservations/available-slots.
func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	const op = "scheduling: available slots"
	q := r.URL.Query()
	if q.Get("date") == "" {
		respond.Error(w, h.logger, apperr.Validation(op, "date is required"))
		return
	}
	date, err := h.slots.Calendar().ParseDate(q.Get("date"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	duration, err := intParam(q.Get("duration_minutes"), "duration_minutes")
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if examID := strings.TrimSpace(q.Get("exam_id")); examID != "" {
		exam, err := h.dir.GetExam(r.Context(), examID)
		if err != nil {
			respond.Error(w, h.logger, err)
			return
		}
		duration = exam.DurationMinutes
	}
	step, err := intParam(q.Get("step_minutes"), "step_minutes")
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	slots, err := h.slots.FindSlots(r.Context(), availability.SlotQuery{
		MedicID:         q.Get("medic_id"),
		Date:            date,
		DurationMinutes: duration,
		StepMinutes:     step,
	})
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"slots": slots, "count": len(slots)})
}

// AutoSchedule handles POST /reservations/auto-schedule.
func (h *Handler) AutoSchedule(w http.ResponseWriter, r *http.Request) {
	var body AutoScheduleBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	result, err := RunAutoSchedule(r.Context(), h.scheduler, h.slots.Calendar(), body)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

// GetRun handles GET /reservations/auto-schedule/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}
