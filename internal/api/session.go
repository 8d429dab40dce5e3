package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/elevate/internal/session"
)

// decodeBody decodes a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleSessionStart starts an elevated session on the requesting device.
// A session live on another device answers 409 and flags the owner with a
// transfer request from this device.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.sessions.Start(r.Context(), identityFromContext(r.Context()), req.DeviceID, req.Credential)
	if err != nil {
		s.writeSessionError(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, session.EndTimeResponse{EndTime: res.EndTime.UnixMilli()})
}

// handleSessionCheck reports the session from the point of view of the
// device named in the device_id query parameter.
func (s *Server) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.Check(r.Context(), identityFromContext(r.Context()), r.URL.Query().Get("device_id"))
	if err != nil {
		s.writeSessionError(w, r, "check", err)
		return
	}
	writeJSON(w, http.StatusOK, session.NewCheckResponse(res))
}

// handleSessionEnd ends the caller's live session.
func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req session.CredentialRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.sessions.End(r.Context(), identityFromContext(r.Context()), req.Credential); err != nil {
		s.writeSessionError(w, r, "end", err)
		return
	}
	writeJSON(w, http.StatusOK, session.SuccessResponse{Success: true})
}

// handleSessionEndAll revokes the caller's session on every device.
// It succeeds whether or not anything was live.
func (s *Server) handleSessionEndAll(w http.ResponseWriter, r *http.Request) {
	var req session.CredentialRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.sessions.EndAll(r.Context(), identityFromContext(r.Context()), req.Credential); err != nil {
		s.writeSessionError(w, r, "end_all", err)
		return
	}
	writeJSON(w, http.StatusOK, session.SuccessResponse{Success: true})
}

// handleSessionTransfer moves the caller's live session to new_device_id,
// keeping its end time.
func (s *Server) handleSessionTransfer(w http.ResponseWriter, r *http.Request) {
	var req session.TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.sessions.Transfer(r.Context(), identityFromContext(r.Context()), req.Credential, req.NewDeviceID)
	if err != nil {
		s.writeSessionError(w, r, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, session.EndTimeResponse{EndTime: res.EndTime.UnixMilli()})
}

// handleSessionRecord returns the caller's raw session record.
func (s *Server) handleSessionRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Status(r.Context(), identityFromContext(r.Context()))
	if err != nil {
		s.writeSessionError(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, session.NewRecordResponse(rec))
}
