package agent

import (
	"context"
	"time"

	"github.com/nerrad567/elevate/internal/session"
)

// SessionAPI is the session service as seen from one identity.
//
// Errors use the session package's taxonomy: Start returns a
// *session.ConflictError when another device owns the session, Transfer
// and End return session.ErrNoActiveSession when nothing is live.
type SessionAPI interface {
	Start(ctx context.Context, deviceID, credential string) (time.Time, error)
	Check(ctx context.Context, deviceID string) (*session.CheckResult, error)
	End(ctx context.Context, credential string) error
	EndAll(ctx context.Context, credential string) error
	Transfer(ctx context.Context, credential, newDeviceID string) (time.Time, error)
}

// LocalAPI binds a session.Service to one identity. It serves agents
// embedded in the same process as the service.
type LocalAPI struct {
	svc      *session.Service
	identity string
}

// NewLocalAPI creates a LocalAPI.
func NewLocalAPI(svc *session.Service, identity string) *LocalAPI {
	return &LocalAPI{svc: svc, identity: identity}
}

// Start implements SessionAPI.
func (l *LocalAPI) Start(ctx context.Context, deviceID, credential string) (time.Time, error) {
	res, err := l.svc.Start(ctx, l.identity, deviceID, credential)
	if err != nil {
		return time.Time{}, err
	}
	return res.EndTime, nil
}

// Check implements SessionAPI.
func (l *LocalAPI) Check(ctx context.Context, deviceID string) (*session.CheckResult, error) {
	return l.svc.Check(ctx, l.identity, deviceID)
}

// End implements SessionAPI.
func (l *LocalAPI) End(ctx context.Context, credential string) error {
	return l.svc.End(ctx, l.identity, credential)
}

// EndAll implements SessionAPI.
func (l *LocalAPI) EndAll(ctx context.Context, credential string) error {
	return l.svc.EndAll(ctx, l.identity, credential)
}

// Transfer implements SessionAPI.
func (l *LocalAPI) Transfer(ctx context.Context, credential, newDeviceID string) (time.Time, error) {
	res, err := l.svc.Transfer(ctx, l.identity, credential, newDeviceID)
	if err != nil {
		return time.Time{}, err
	}
	return res.EndTime, nil
}
