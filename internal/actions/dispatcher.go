// Package actions exposes the scheduling engine as named actions shared by
// the HTTP API and the Lambda entry point.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/availability"
	"github.com/wolfman30/careflow-scheduling/internal/protocols"
	"github.com/wolfman30/careflow-scheduling/internal/scheduling"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

const (
	ScheduleExam          = "schedule-exam"
	CheckAvailability     = "check-availability"
	GetProtocols          = "get-protocols"
	RescheduleAppointment = "reschedule-appointment"
	AutoSchedule          = "auto-schedule"
	FindAlternatives      = "find-alternatives"
)

const maxBodyBytes = 1 << 20

// Response is a transport-neutral action result.
type Response struct {
	StatusCode int
	Body       []byte
}

// Dispatcher routes action names to the engine.
type Dispatcher struct {
	scheduler *scheduling.Scheduler
	checker   *availability.Checker
	slots     *availability.SlotFinder
	protocols *protocols.Service
	matcher   *protocols.Matcher
	logger    *logging.Logger
	handlers  map[string]func(context.Context, []byte) (int, any, error)
}

// NewDispatcher wires the supported actions.
func NewDispatcher(scheduler *scheduling.Scheduler, checker *availability.Checker, slots *availability.SlotFinder, protocolService *protocols.Service, matcher *protocols.Matcher, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		scheduler: scheduler,
		checker:   checker,
		slots:     slots,
		protocols: protocolService,
		matcher:   matcher,
		logger:    logger.Component("actions"),
	}
	d.handlers = map[string]func(context.Context, []byte) (int, any, error){
		ScheduleExam:          d.scheduleExam,
		CheckAvailability:     d.checkAvailability,
		GetProtocols:          d.getProtocols,
		RescheduleAppointment: d.reschedule,
		AutoSchedule:          d.autoSchedule,
		FindAlternatives:      d.findAlternatives,
	}
	return d
}

// Dispatch runs action with the JSON body. It never returns an error; every
// failure is rendered as the error envelope with its mapped status.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, body []byte) Response {
	handler, ok := d.handlers[strings.TrimSpace(action)]
	if !ok {
		return d.failure(apperr.NotFound("actions: dispatch", "unknown action %q", action))
	}
	status, payload, err := handler(ctx, body)
	if err != nil {
		return d.failure(err)
	}
	return encode(status, payload)
}

// ServeHTTP handles POST /scheduling/{action}.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		d.write(w, d.failure(apperr.Validation("actions: read body", "unable to read request body")))
		return
	}
	d.write(w, d.Dispatch(r.Context(), chi.URLParam(r, "action"), body))
}

func (d *Dispatcher) write(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (d *Dispatcher) failure(err error) Response {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		d.logger.Error("action failed", "error", err)
	}
	return encode(status, apperr.Envelope(err))
}

func encode(status int, payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{StatusCode: http.StatusInternalServerError, Body: []byte(`{"error":"internal error"}`)}
	}
	return Response{StatusCode: status, Body: body}
}

func decode(body []byte, dst any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation("actions: decode", "invalid request body: %v", err)
	}
	return nil
}

func (d *Dispatcher) scheduleExam(ctx context.Context, body []byte) (int, any, error) {
	var req scheduling.ScheduleRequest
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	r, err := d.scheduler.ScheduleExam(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, r, nil
}

func (d *Dispatcher) checkAvailability(ctx context.Context, body []byte) (int, any, error) {
	var req availability.CheckRequest
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	res, err := d.checker.Check(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, res, nil
}

type getProtocolsRequest struct {
	Active   *bool    `json:"active,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`
}

// getProtocols lists protocols, or ranks them when symptoms are given.
func (d *Dispatcher) getProtocols(ctx context.Context, body []byte) (int, any, error) {
	var req getProtocolsRequest
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	if len(protocols.CanonicalSymptoms(req.Symptoms)) > 0 {
		matches, err := d.matcher.Match(ctx, req.Symptoms)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]any{"matches": matches, "count": len(matches)}, nil
	}
	list, err := d.protocols.List(ctx, protocols.ListFilter{Active: req.Active})
	if err != nil {
		return 0, nil, err
	}
	if list == nil {
		list = []protocols.Protocol{}
	}
	return http.StatusOK, map[string]any{"protocols": list, "count": len(list)}, nil
}

func (d *Dispatcher) reschedule(ctx context.Context, body []byte) (int, any, error) {
	var req scheduling.RescheduleRequest
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	r, err := d.scheduler.Reschedule(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, r, nil
}

func (d *Dispatcher) autoSchedule(ctx context.Context, body []byte) (int, any, error) {
	var req scheduling.AutoScheduleBody
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	result, err := scheduling.RunAutoSchedule(ctx, d.scheduler, d.slots.Calendar(), req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, result, nil
}

type findAlternativesRequest struct {
	ExamID        string `json:"exam_id"`
	MedicID       string `json:"medic_id,omitempty"`
	PreferredDate string `json:"preferred_date,omitempty"`
	DaysRange     int    `json:"days_range,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

func (d *Dispatcher) findAlternatives(ctx context.Context, body []byte) (int, any, error) {
	var req findAlternativesRequest
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	var preferred time.Time
	if req.PreferredDate != "" {
		day, err := d.slots.Calendar().ParseDate(req.PreferredDate)
		if err != nil {
			return 0, nil, err
		}
		preferred = day
	}
	slots, err := d.slots.FindAlternatives(ctx, availability.AlternativesQuery{
		ExamID:        req.ExamID,
		MedicID:       req.MedicID,
		PreferredDate: preferred,
		DaysRange:     req.DaysRange,
		Limit:         req.Limit,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"alternatives": slots, "count": len(slots)}, nil
}
