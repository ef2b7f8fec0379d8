package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("debug", &buf)

	handler := chimw.RequestID(ActorFromHeader(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"taken"}`))
	}))))

	req := httptest.NewRequest(http.MethodPost, "/reservations", nil)
	req.Header.Set("X-Actor-ID", "nurse-3")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["level"] != "WARN" {
		t.Fatalf("expected WARN for a 409, got %v", line["level"])
	}
	if line["status"] != float64(http.StatusConflict) || line["path"] != "/reservations" {
		t.Fatalf("unexpected log line %v", line)
	}
	if line["actor"] != "nurse-3" {
		t.Fatalf("expected actor in log line, got %v", line["actor"])
	}
	if line["request_id"] == "" {
		t.Fatalf("expected request id in log line")
	}
}
