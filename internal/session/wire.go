package session

import "time"

// JSON shapes shared by the HTTP API and its clients. Times are unix
// milliseconds; durations are milliseconds.

// StartRequest is the body of POST /session/start.
type StartRequest struct {
	Credential string `json:"credential"`
	DeviceID   string `json:"device_id"`
}

// CredentialRequest is the body of POST /session/end and /session/end-all.
type CredentialRequest struct {
	Credential string `json:"credential"`
}

// TransferRequest is the body of POST /session/transfer.
type TransferRequest struct {
	Credential  string `json:"credential"`
	NewDeviceID string `json:"new_device_id"`
}

// EndTimeResponse answers Start and Transfer.
type EndTimeResponse struct {
	EndTime int64 `json:"end_time"`
}

// SuccessResponse answers End and EndAll.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ConflictDetails is carried by a 409 response to Start.
type ConflictDetails struct {
	ExistingDeviceID string `json:"existing_device_id"`
	ExistingEndTime  int64  `json:"existing_end_time"`
}

// CheckResponse is the wire form of CheckResult. Fields that do not apply
// to the branch are omitted.
type CheckResponse struct {
	Active                      bool   `json:"active"`
	Expired                     bool   `json:"expired,omitempty"`
	DeviceID                    string `json:"device_id,omitempty"`
	EndTime                     int64  `json:"end_time,omitempty"`
	RemainingTime               int64  `json:"remaining_time,omitempty"`
	TransferRequested           bool   `json:"transfer_requested,omitempty"`
	TransferRequestedByDeviceID string `json:"transfer_requested_by_device_id,omitempty"`
	TransferAvailable           bool   `json:"transfer_available,omitempty"`
	ExistingDeviceID            string `json:"existing_device_id,omitempty"`
	ExistingEndTime             int64  `json:"existing_end_time,omitempty"`
}

// RecordResponse is the wire form of Record.
type RecordResponse struct {
	OwnerID                     string `json:"owner_id"`
	DeviceID                    string `json:"device_id,omitempty"`
	StartTime                   int64  `json:"start_time"`
	EndTime                     int64  `json:"end_time"`
	Active                      bool   `json:"active"`
	TransferRequested           bool   `json:"transfer_requested"`
	TransferRequestedByDeviceID string `json:"transfer_requested_by_device_id,omitempty"`
	TransferredFromDeviceID     string `json:"transferred_from_device_id,omitempty"`
	Version                     int64  `json:"version"`
	UpdatedAt                   string `json:"updated_at"`
}

// NewCheckResponse converts r to its wire form.
func NewCheckResponse(r *CheckResult) CheckResponse {
	return CheckResponse{
		Active:                      r.Active,
		Expired:                     r.Expired,
		DeviceID:                    r.DeviceID,
		EndTime:                     toMillis(r.EndTime),
		RemainingTime:               r.Remaining.Milliseconds(),
		TransferRequested:           r.TransferRequested,
		TransferRequestedByDeviceID: r.TransferRequestedByDeviceID,
		TransferAvailable:           r.TransferAvailable,
		ExistingDeviceID:            r.ExistingDeviceID,
		ExistingEndTime:             toMillis(r.ExistingEndTime),
	}
}

// Result converts the wire form back to a CheckResult.
func (c CheckResponse) Result() *CheckResult {
	return &CheckResult{
		Active:                      c.Active,
		Expired:                     c.Expired,
		DeviceID:                    c.DeviceID,
		EndTime:                     FromMillis(c.EndTime),
		Remaining:                   time.Duration(c.RemainingTime) * time.Millisecond,
		TransferRequested:           c.TransferRequested,
		TransferRequestedByDeviceID: c.TransferRequestedByDeviceID,
		TransferAvailable:           c.TransferAvailable,
		ExistingDeviceID:            c.ExistingDeviceID,
		ExistingEndTime:             FromMillis(c.ExistingEndTime),
	}
}

// NewRecordResponse converts r to its wire form.
func NewRecordResponse(r *Record) RecordResponse {
	return RecordResponse{
		OwnerID:                     r.OwnerID,
		DeviceID:                    r.DeviceID,
		StartTime:                   toMillis(r.StartTime),
		EndTime:                     toMillis(r.EndTime),
		Active:                      r.Active,
		TransferRequested:           r.TransferRequested,
		TransferRequestedByDeviceID: r.TransferRequestedByDeviceID,
		TransferredFromDeviceID:     r.TransferredFromDeviceID,
		Version:                     r.Version,
		UpdatedAt:                   r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds to a UTC time; 0 is the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
