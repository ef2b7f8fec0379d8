// Package respond writes JSON responses and the shared error envelope.
package respond

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

const maxBodyBytes = 1 << 20

// JSON writes payload with status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Error maps err to its status and writes the error envelope. Internal
// errors are logged with their cause; callers only see a generic message.
func Error(w http.ResponseWriter, logger *logging.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "error", err)
	}
	JSON(w, status, apperr.Envelope(err))
}

// Decode reads a JSON request body into dst. Malformed bodies are reported
// as validation errors.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("decode", "request body is required")
		}
		return apperr.Validation("decode", "invalid request body: %v", err)
	}
	return nil
}
