// AngelaMos | 2026
// respond.go

package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// ErrorEnvelope is the wire shape of every error response.
type ErrorEnvelope struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	//nolint:errcheck // best-effort response write
	_ = json.NewEncoder(w).Encode(data)
}

func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// JSONError writes the error envelope for an AppError, or a generic 500
// for anything else. The request id is taken from the X-Request-ID header
// stamped on the response by the RequestID middleware.
func JSONError(w http.ResponseWriter, err error) {
	appErr, ok := AsAppError(err)
	if !ok {
		appErr = NewAppError(
			err,
			"an internal error occurred",
			http.StatusInternalServerError,
			CodeInternalError,
		)
	}

	envelope := ErrorEnvelope{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Status:    appErr.Status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   appErr.Details,
		RequestID: w.Header().Get("X-Request-ID"),
	}

	writeJSON(w, appErr.Status, envelope)
}

func BadRequest(w http.ResponseWriter, message string) {
	if message == "" {
		message = "bad request"
	}
	JSONError(w, NewAppError(
		ErrInvalidInput,
		message,
		http.StatusBadRequest,
		CodeValidationError,
	))
}

func Unauthorized(w http.ResponseWriter, message string) {
	JSONError(w, UnauthorizedError(message))
}

func Forbidden(w http.ResponseWriter, message string) {
	JSONError(w, ForbiddenError(message))
}

func NotFound(w http.ResponseWriter, resource string) {
	JSONError(w, NotFoundError(resource))
}

// InternalServerError logs the underlying error and returns the generic
// infrastructure envelope without leaking detail to the caller.
func InternalServerError(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	JSONError(w, NewAppError(
		err,
		"an internal error occurred",
		http.StatusInternalServerError,
		CodeInternalError,
	))
}
