package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

type detailedConflict struct{}

func (detailedConflict) Error() string                { return "slot taken" }
func (detailedConflict) ErrorKind() apperr.Kind       { return apperr.KindConflict }
func (detailedConflict) ErrorDetails() map[string]any { return map[string]any{"conflicting_reservation": "r-1"} }

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"status": "ok"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content type application/json, got %q", ct)
	}
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"validation", apperr.Validation("op", "exam_id is required"), http.StatusBadRequest, "exam_id is required"},
		{"not found", apperr.NotFound("op", "medic not found"), http.StatusNotFound, "medic not found"},
		{"internal hides cause", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, logging.Discard(), tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.wantMsg {
				t.Fatalf("unexpected error message %v", body["error"])
			}
		})
	}

	rec := httptest.NewRecorder()
	Error(rec, nil, detailedConflict{})
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusConflict || body["conflicting_reservation"] != "r-1" {
		t.Fatalf("expected conflict details, got %d %v", rec.Code, body)
	}
}

func TestDecode(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	if err := Decode(req, &dst); err != nil || dst.Name != "x" {
		t.Fatalf("Decode() = %v, %+v", err, dst)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{bad`))
	if err := Decode(req, &dst); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	if err := Decode(req, &dst); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for empty body, got %v", err)
	}
}
