package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/elevate/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeFailedPrecondition = "failed_precondition"
	ErrCodeNoActiveSession    = "no_active_session"
	ErrCodeInternal           = "internal_error"
	ErrCodeUnavailable        = "service_unavailable"
)

// conflictError is the 409 body of a conflicting session start.
type conflictError struct {
	Error
	session.ConflictDetails
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError maps a session service error to its HTTP form.
// Unexpected errors are logged and answered with 500.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var conflict *session.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, conflictError{
			Error: Error{
				Status:  http.StatusConflict,
				Code:    ErrCodeConflict,
				Message: "session active on another device",
			},
			ConflictDetails: session.ConflictDetails{
				ExistingDeviceID: conflict.ExistingDeviceID,
				ExistingEndTime:  conflict.ExistingEndTime.UnixMilli(),
			},
		})
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusPreconditionFailed, ErrCodeNoActiveSession, "no active session")
	case errors.Is(err, session.ErrFailedPrecondition):
		writeError(w, http.StatusPreconditionFailed, ErrCodeFailedPrecondition, err.Error())
	case errors.Is(err, session.ErrUnauthenticated):
		writeUnauthorized(w, "authentication required")
	case errors.Is(err, session.ErrInvalidArgument):
		writeBadRequest(w, err.Error())
	case errors.Is(err, session.ErrPermissionDenied):
		writeForbidden(w, "permission denied")
	case errors.Is(err, session.ErrRecordNotFound):
		writeNotFound(w, "no session record")
	default:
		s.logger.Error("session operation failed",
			"op", op,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "session operation failed")
	}
}
