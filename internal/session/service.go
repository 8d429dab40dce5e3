package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/elevate/internal/infrastructure/logging"
)

// Defaults applied by NewService.
const (
	DefaultTTL           = 15 * time.Minute
	DefaultElevationRole = "staff"
)

// IdentityProvider verifies elevation credentials and reports roles.
type IdentityProvider interface {
	VerifyCredential(ctx context.Context, identity, secret string) (bool, error)
	GetRoles(ctx context.Context, identity string) ([]string, error)
}

// Options configures a Service. Zero values take the defaults.
type Options struct {
	// TTL is the fixed session lifetime. Activity never extends it.
	TTL time.Duration

	// ElevationRole must be among an identity's roles for Start and Transfer.
	ElevationRole string

	Clock    clockwork.Clock
	Notifier Notifier
	Metrics  *Metrics
	Logger   *logging.Logger
}

// Service implements the session ownership protocol over a Store.
//
// Handlers hold no state between calls; every decision is made inside a
// single Store.Update so concurrent requests for one identity serialise.
type Service struct {
	store    Store
	idp      IdentityProvider
	ttl      time.Duration
	role     string
	clock    clockwork.Clock
	notifier Notifier
	metrics  *Metrics
	logger   *logging.Logger
}

// NewService creates a Service.
func NewService(store Store, idp IdentityProvider, opts Options) *Service {
	s := &Service{
		store:    store,
		idp:      idp,
		ttl:      opts.TTL,
		role:     opts.ElevationRole,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.role == "" {
		s.role = DefaultElevationRole
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.Component("session")
	return s
}

// TTL returns the configured session lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// now is millisecond-truncated so stored and returned times match exactly.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// Start begins a session for deviceID, or flags a transfer request when
// another device owns a live session.
//
// On conflict it returns a *ConflictError naming the current owner and
// expiry; the owner's record now carries transferRequested. A retry from
// the owning device, or a Start after expiry or End, overwrites the record
// with a fresh TTL.
func (s *Service) Start(ctx context.Context, identity, deviceID, credential string) (res *StartResult, err error) {
	defer func() { s.metrics.ObserveRequest("start", err) }()

	if err := requireArgs(identity, deviceID, credential); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, identity, credential, true); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		conflict      *ConflictError
		newlyFlagged  bool
		previousOwner string
	)
	rec, err := s.store.Update(ctx, identity, func(cur *Record) *Record {
		conflict, newlyFlagged, previousOwner = nil, false, ""

		if cur.Live(now) && cur.DeviceID != deviceID {
			conflict = &ConflictError{ExistingDeviceID: cur.DeviceID, ExistingEndTime: cur.EndTime}
			if cur.TransferRequested && cur.TransferRequestedByDeviceID == deviceID {
				return nil
			}
			newlyFlagged = true
			cur.TransferRequested = true
			cur.TransferRequestedByDeviceID = deviceID
			return cur
		}

		if cur != nil {
			previousOwner = cur.DeviceID
		}
		return &Record{
			DeviceID:  deviceID,
			StartTime: now,
			EndTime:   now.Add(s.ttl),
			Active:    true,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	if conflict != nil {
		s.logger.Info("start conflict",
			"identity", identity, "device_id", deviceID, "owner_device_id", conflict.ExistingDeviceID)
		if newlyFlagged {
			s.emit(ctx, Event{Type: EventTransferRequested, Identity: identity,
				DeviceID: deviceID, PeerDeviceID: conflict.ExistingDeviceID, EndTime: conflict.ExistingEndTime, At: now})
		}
		s.emit(ctx, Event{Type: EventConflict, Identity: identity,
			DeviceID: deviceID, PeerDeviceID: conflict.ExistingDeviceID, EndTime: conflict.ExistingEndTime, At: now})
		return nil, conflict
	}

	s.logger.Info("session started",
		"identity", identity, "device_id", deviceID, "end_time", rec.EndTime, "previous_device_id", previousOwner)
	s.emit(ctx, Event{Type: EventStarted, Identity: identity, DeviceID: deviceID, EndTime: rec.EndTime, At: now})
	return &StartResult{EndTime: rec.EndTime}, nil
}

// Check reports deviceID's view of the identity's session.
//
// It never fails for ordinary states. The only write is the one-time
// lazy expiry: a record found past its end time with active or transfer
// flags still set is rewritten as inactive.
func (s *Service) Check(ctx context.Context, identity, deviceID string) (res *CheckResult, err error) {
	defer func() { s.metrics.ObserveRequest("check", err) }()

	if identity == "" {
		return nil, ErrUnauthenticated
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidArgument)
	}

	now := s.now()
	rec, err := s.store.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return &CheckResult{}, nil
		}
		return nil, fmt.Errorf("checking session: %w", err)
	}

	if needsExpiry(rec, now) {
		var expired *Record
		rec, err = s.store.Update(ctx, identity, func(cur *Record) *Record {
			expired = nil
			if !needsExpiry(cur, now) {
				return nil
			}
			expired = cur
			cur.Active = false
			cur.clearTransfer()
			return cur
		})
		if err != nil {
			return nil, fmt.Errorf("expiring session: %w", err)
		}
		if expired != nil {
			s.logger.Info("session expired", "identity", identity, "device_id", expired.DeviceID)
			s.emit(ctx, Event{Type: EventExpired, Identity: identity,
				DeviceID: expired.DeviceID, EndTime: expired.EndTime, At: now})
		}
	}

	return evaluate(rec, deviceID, now), nil
}

func needsExpiry(rec *Record, now time.Time) bool {
	return rec != nil && !now.Before(rec.EndTime) && (rec.Active || rec.TransferRequested)
}

// evaluate maps a record onto a CheckResult in priority order.
func evaluate(rec *Record, deviceID string, now time.Time) *CheckResult {
	switch {
	case rec == nil:
		return &CheckResult{}

	case !now.Before(rec.EndTime):
		return &CheckResult{Expired: true}

	case rec.Active && rec.TransferRequested && deviceID == rec.TransferRequestedByDeviceID:
		return &CheckResult{
			TransferRequested: true,
			ExistingDeviceID:  rec.DeviceID,
			ExistingEndTime:   rec.EndTime,
		}

	case rec.Active && rec.TransferRequested && deviceID == rec.DeviceID:
		return &CheckResult{
			Active:                      true,
			DeviceID:                    rec.DeviceID,
			EndTime:                     rec.EndTime,
			Remaining:                   rec.Remaining(now),
			TransferRequested:           true,
			TransferRequestedByDeviceID: rec.TransferRequestedByDeviceID,
		}

	case rec.Active && deviceID != rec.DeviceID:
		return &CheckResult{
			TransferAvailable: true,
			ExistingDeviceID:  rec.DeviceID,
			ExistingEndTime:   rec.EndTime,
		}

	case rec.Active:
		return &CheckResult{
			Active:    true,
			DeviceID:  rec.DeviceID,
			EndTime:   rec.EndTime,
			Remaining: rec.Remaining(now),
		}

	default:
		return &CheckResult{}
	}
}

// End deactivates the identity's live session. The owning device stays
// recorded. Returns ErrNoActiveSession when nothing is live.
func (s *Service) End(ctx context.Context, identity, credential string) (err error) {
	defer func() { s.metrics.ObserveRequest("end", err) }()

	if err := requireArgs(identity, "-", credential); err != nil {
		return err
	}
	if err := s.authorize(ctx, identity, credential, false); err != nil {
		return err
	}

	now := s.now()
	var ended *Record
	_, err = s.store.Update(ctx, identity, func(cur *Record) *Record {
		ended = nil
		if !cur.Live(now) {
			return nil
		}
		ended = cur
		cur.Active = false
		cur.clearTransfer()
		return cur
	})
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	if ended == nil {
		return ErrNoActiveSession
	}

	s.logger.Info("session ended", "identity", identity, "device_id", ended.DeviceID)
	s.emit(ctx, Event{Type: EventEnded, Identity: identity, DeviceID: ended.DeviceID, EndTime: ended.EndTime, At: now})
	return nil
}

// EndAll revokes ownership everywhere: active is cleared, the owning
// device and any transfer request are forgotten. Succeeds when there is
// nothing to end.
func (s *Service) EndAll(ctx context.Context, identity, credential string) (err error) {
	defer func() { s.metrics.ObserveRequest("end_all", err) }()

	if err := requireArgs(identity, "-", credential); err != nil {
		return err
	}
	if err := s.authorize(ctx, identity, credential, false); err != nil {
		return err
	}

	now := s.now()
	var revoked string
	var changed bool
	_, err = s.store.Update(ctx, identity, func(cur *Record) *Record {
		revoked, changed = "", false
		if cur == nil || (!cur.Active && cur.DeviceID == "" && !cur.TransferRequested) {
			return nil
		}
		revoked, changed = cur.DeviceID, true
		cur.Active = false
		cur.DeviceID = ""
		cur.clearTransfer()
		return cur
	})
	if err != nil {
		return fmt.Errorf("ending all sessions: %w", err)
	}

	if changed {
		s.logger.Info("all sessions ended", "identity", identity, "device_id", revoked)
		s.emit(ctx, Event{Type: EventEndedAll, Identity: identity, DeviceID: revoked, At: now})
	}
	return nil
}

// Transfer moves a live session to newDeviceID without touching its end
// time. The previous owner is kept in TransferredFromDeviceID. Moving a
// session to the device that already owns it only clears any pending
// transfer request.
func (s *Service) Transfer(ctx context.Context, identity, credential, newDeviceID string) (res *TransferResult, err error) {
	defer func() { s.metrics.ObserveRequest("transfer", err) }()

	if err := requireArgs(identity, newDeviceID, credential); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, identity, credential, true); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		live   bool
		fromID string
		moved  bool
	)
	rec, err := s.store.Update(ctx, identity, func(cur *Record) *Record {
		live, fromID, moved = false, "", false
		if !cur.Live(now) {
			return nil
		}
		live = true
		if cur.DeviceID == newDeviceID {
			if !cur.TransferRequested {
				return nil
			}
			cur.clearTransfer()
			return cur
		}
		fromID, moved = cur.DeviceID, true
		cur.TransferredFromDeviceID = cur.DeviceID
		cur.DeviceID = newDeviceID
		cur.clearTransfer()
		return cur
	})
	if err != nil {
		return nil, fmt.Errorf("transferring session: %w", err)
	}
	if !live {
		return nil, ErrNoActiveSession
	}

	if moved {
		s.logger.Info("session transferred",
			"identity", identity, "from_device_id", fromID, "to_device_id", newDeviceID)
		s.emit(ctx, Event{Type: EventTransferred, Identity: identity,
			DeviceID: newDeviceID, PeerDeviceID: fromID, EndTime: rec.EndTime, At: now})
	}
	return &TransferResult{EndTime: rec.EndTime}, nil
}

// Status returns the identity's raw record. No credential is needed; the
// record holds no secrets.
func (s *Service) Status(ctx context.Context, identity string) (*Record, error) {
	if identity == "" {
		return nil, ErrUnauthenticated
	}
	rec, err := s.store.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func requireArgs(identity, deviceID, credential string) error {
	switch {
	case identity == "":
		return ErrUnauthenticated
	case credential == "":
		return fmt.Errorf("%w: credential is required", ErrInvalidArgument)
	case deviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidArgument)
	}
	return nil
}

// authorize re-verifies the credential and, when needRole is set, that
// the identity holds the elevation role.
func (s *Service) authorize(ctx context.Context, identity, credential string, needRole bool) error {
	if needRole {
		roles, err := s.idp.GetRoles(ctx, identity)
		if err != nil {
			return fmt.Errorf("looking up roles: %w", err)
		}
		if !slices.Contains(roles, s.role) {
			s.logger.Warn("elevation refused: missing role", "identity", identity, "role", s.role)
			return fmt.Errorf("%w: %s role required", ErrPermissionDenied, s.role)
		}
	}

	ok, err := s.idp.VerifyCredential(ctx, identity, credential)
	if err != nil {
		return fmt.Errorf("verifying credential: %w", err)
	}
	if !ok {
		s.logger.Warn("elevation refused: bad credential", "identity", identity)
		return fmt.Errorf("%w: invalid credential", ErrPermissionDenied)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("session event delivery failed", "type", ev.Type, "identity", ev.Identity, "error", err)
	}
}
