package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type customConflict struct{}

func (customConflict) Error() string   { return "slot taken" }
func (customConflict) ErrorKind() Kind { return KindConflict }

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("op", "patient_id is required"), http.StatusBadRequest},
		{"qualification", Qualification("op", "medic not qualified"), http.StatusBadRequest},
		{"not found", NotFound("op", "exam %s not found", "e-1"), http.StatusNotFound},
		{"conflict", Conflict("op", "overlap"), http.StatusConflict},
		{"invalid state", InvalidState("op", "terminal"), http.StatusConflict},
		{"internal", Internal("op", errors.New("db down")), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"custom kinded", customConflict{}, http.StatusConflict},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("op", "missing")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPublicMessageHidesInternalCause(t *testing.T) {
	err := Internal("reservations: insert", errors.New("password authentication failed"))
	if got := PublicMessage(err); got != "internal error" {
		t.Fatalf("expected generic message, got %q", got)
	}
	if got := PublicMessage(Validation("op", "start_time is required")); got != "start_time is required" {
		t.Fatalf("unexpected validation message %q", got)
	}
}

func TestErrorString(t *testing.T) {
	err := Internal("reservations: insert", errors.New("timeout"))
	if err.Error() != "reservations: insert: internal error: timeout" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("expected Unwrap to expose the cause")
	}
	if !Is(NotFound("", "x"), KindNotFound) {
		t.Fatal("expected Is to match kind")
	}
}
