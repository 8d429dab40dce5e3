package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/elevate/internal/audit"
)

// recordAudit enqueues an audit entry (best-effort). A full queue drops
// the entry; the recorder logs it.
func (s *Server) recordAudit(action, entityType, entityID, userID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(&audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     "api",
		Details:    details,
	})
}

// handleListAuditLogs pages through the audit trail, newest first.
//
// Query parameters: action, entity_type, entity_id (an identity for
// session entries), device_id, since and until (unix ms, until
// exclusive), limit (default 50, max 200), offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		DeviceID:   q.Get("device_id"),
	}

	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeBadRequest(w, name+" must be a unix millisecond timestamp")
				return
			}
			*dst = time.UnixMilli(ms)
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
