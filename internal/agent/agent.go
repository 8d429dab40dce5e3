package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/elevate/internal/infrastructure/config"
	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/session"
)

// Default timer settings.
const (
	DefaultCheckInterval    = 30 * time.Second
	DefaultFastPollInterval = 2 * time.Second
	DefaultDriftInterval    = 60 * time.Second
	DefaultDriftThreshold   = 2 * time.Second
	DefaultGracePeriod      = 5 * time.Second
	DefaultTickInterval     = time.Second

	inboxSize = 16
)

var (
	// ErrStopped is returned by commands once Run has returned.
	ErrStopped = errors.New("agent stopped")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("agent already running")

	// ErrTransferUnsupported is returned by transfer commands when the
	// agent was built without SupportsTransfer.
	ErrTransferUnsupported = errors.New("transfer not supported by this agent")

	// ErrNoTransferRequest is returned by ApproveTransfer when no device
	// has asked for the session.
	ErrNoTransferRequest = errors.New("no pending transfer request")
)

// Options configures an Agent. Zero durations take the defaults.
type Options struct {
	CheckInterval    time.Duration
	FastPollInterval time.Duration
	DriftInterval    time.Duration
	DriftThreshold   time.Duration
	GracePeriod      time.Duration
	TickInterval     time.Duration

	// SupportsTransfer enables the handover handshake. Without it a
	// conflicting start is revoked at once and no offers are made.
	SupportsTransfer bool

	// Prompter, if set, is asked for the credential when another device
	// requests the session. Without it the owner approves through
	// ApproveTransfer.
	Prompter CredentialPrompter

	// Wake triggers an immediate check on every receive.
	Wake <-chan struct{}

	Clock  clockwork.Clock
	Logger *logging.Logger
}

// OptionsFromConfig copies the timer settings from the agent config.
func OptionsFromConfig(cfg config.AgentConfig) Options {
	return Options{
		CheckInterval:    cfg.CheckInterval,
		FastPollInterval: cfg.FastPollInterval,
		DriftInterval:    cfg.DriftInterval,
		DriftThreshold:   cfg.DriftThreshold,
		GracePeriod:      cfg.GracePeriod,
		TickInterval:     cfg.TickInterval,
		SupportsTransfer: cfg.SupportsTransfer,
	}
}

func (o *Options) applyDefaults() {
	setDefault := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	setDefault(&o.CheckInterval, DefaultCheckInterval)
	setDefault(&o.FastPollInterval, DefaultFastPollInterval)
	setDefault(&o.DriftInterval, DefaultDriftInterval)
	setDefault(&o.DriftThreshold, DefaultDriftThreshold)
	setDefault(&o.GracePeriod, DefaultGracePeriod)
	setDefault(&o.TickInterval, DefaultTickInterval)
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Status is a snapshot of the agent's local state.
type Status struct {
	State     State
	DeviceID  string
	EndTime   time.Time
	Remaining time.Duration
	Offer     *TransferOffer
}

type checkKind int

const (
	checkRegular checkKind = iota
	checkFast
	checkDrift
)

func (k checkKind) String() string {
	switch k {
	case checkFast:
		return "fast"
	case checkDrift:
		return "drift"
	default:
		return "regular"
	}
}

// Agent drives one device's session. Create with New, then call Run.
// Command methods are safe from any goroutine.
type Agent struct {
	api      SessionAPI
	deviceID string
	obs      Observer
	opts     Options
	logger   *logging.Logger

	inbox   chan func()
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context
	wg      sync.WaitGroup

	// Everything below is owned by the loop goroutine.
	state   State
	endTime time.Time
	offer   *TransferOffer
	epoch   uint64

	// quiet suppresses re-entering StatePending for a request whose grace
	// period already elapsed.
	quiet bool

	requester string // requester surfaced to the owner
	declined  string // requester the owner turned down
	prompting bool
	inFlight  map[checkKind]bool
	again     map[checkKind]bool // a check of this kind was asked for while one ran

	checkTicker clockwork.Ticker
	fastTicker  clockwork.Ticker
	driftTicker clockwork.Ticker
	tickTicker  clockwork.Ticker
	graceTimer  clockwork.Timer
}

// New creates an Agent for deviceID. obs may be nil.
func New(api SessionAPI, deviceID string, obs Observer, opts Options) *Agent {
	opts.applyDefaults()
	if obs == nil {
		obs = ObserverFuncs{}
	}
	return &Agent{
		api:      api,
		deviceID: deviceID,
		obs:      obs,
		opts:     opts,
		logger:   opts.Logger.Component("agent").With("device_id", deviceID),
		inbox:    make(chan func(), inboxSize),
		done:     make(chan struct{}),
		inFlight: make(map[checkKind]bool),
		again:    make(map[checkKind]bool),
	}
}

// DeviceID returns the device this agent speaks for.
func (a *Agent) DeviceID() string {
	return a.deviceID
}

// Run processes timers, commands and results until ctx is cancelled.
// It checks the server once on entry, so an agent restarted on the
// owning device resumes the session.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	a.runCtx = ctx
	a.checkTicker = a.opts.Clock.NewTicker(a.opts.CheckInterval)

	defer func() {
		a.teardown()
		a.checkTicker.Stop()
		close(a.done)
		a.wg.Wait()
	}()

	a.logger.Debug("agent started")
	a.check(checkRegular)

	wake := a.opts.Wake
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("agent stopping")
			return ctx.Err()

		case fn := <-a.inbox:
			fn()

		case <-a.checkTicker.Chan():
			a.check(checkRegular)

		case <-tickerChan(a.fastTicker):
			a.check(checkFast)

		case <-tickerChan(a.driftTicker):
			a.check(checkDrift)

		case <-tickerChan(a.tickTicker):
			a.tick()

		case <-timerChan(a.graceTimer):
			a.graceElapsed()

		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			a.check(checkRegular)
		}
	}
}

// RequestStart asks the server for the session. On success the agent is
// active with the server's end time. A *session.ConflictError means
// another device owns it; with SupportsTransfer the agent then waits for
// the owner for the grace period and offers AcceptTransfer meanwhile.
func (a *Agent) RequestStart(ctx context.Context, credential string) error {
	return a.do(ctx, func(reply func(error)) {
		a.quiet = false
		a.async(ctx, func(ctx context.Context) func(bool) {
			end, err := a.api.Start(ctx, a.deviceID, credential)
			return func(fresh bool) {
				if fresh {
					a.onStartResult(end, err)
				}
				reply(err)
			}
		})
	})
}

// RequestEnd ends the session and drops local elevated state.
func (a *Agent) RequestEnd(ctx context.Context, credential string) error {
	return a.do(ctx, func(reply func(error)) {
		a.async(ctx, func(ctx context.Context) func(bool) {
			err := a.api.End(ctx, credential)
			return func(fresh bool) {
				if fresh && err == nil {
					a.revoke(ReasonEnded)
				}
				reply(err)
			}
		})
	})
}

// RequestEndAll revokes the session on every device.
func (a *Agent) RequestEndAll(ctx context.Context, credential string) error {
	return a.do(ctx, func(reply func(error)) {
		a.async(ctx, func(ctx context.Context) func(bool) {
			err := a.api.EndAll(ctx, credential)
			return func(fresh bool) {
				if fresh && err == nil {
					a.revoke(ReasonEndedAll)
				}
				reply(err)
			}
		})
	})
}

// AcceptTransfer moves the identity's live session to this device. The
// end time is kept.
func (a *Agent) AcceptTransfer(ctx context.Context, credential string) error {
	if !a.opts.SupportsTransfer {
		return ErrTransferUnsupported
	}
	return a.do(ctx, func(reply func(error)) {
		a.async(ctx, func(ctx context.Context) func(bool) {
			end, err := a.api.Transfer(ctx, credential, a.deviceID)
			return func(fresh bool) {
				if fresh && err == nil {
					a.activate(end)
				}
				reply(err)
			}
		})
	})
}

// ApproveTransfer hands the session to the device that requested it and
// drops local elevated state.
func (a *Agent) ApproveTransfer(ctx context.Context, credential string) error {
	if !a.opts.SupportsTransfer {
		return ErrTransferUnsupported
	}
	return a.do(ctx, func(reply func(error)) {
		if a.state != StateActive || a.requester == "" {
			reply(ErrNoTransferRequest)
			return
		}
		requester := a.requester
		a.async(ctx, func(ctx context.Context) func(bool) {
			_, err := a.api.Transfer(ctx, credential, requester)
			return func(fresh bool) {
				if fresh {
					a.onApprovalResult(requester, err)
				}
				reply(err)
			}
		})
	})
}

// Status returns a snapshot of the agent's state.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	var st Status
	err := a.do(ctx, func(reply func(error)) {
		st = Status{
			State:    a.state,
			DeviceID: a.deviceID,
			EndTime:  a.endTime,
		}
		if a.state == StateActive {
			st.Remaining = a.remaining()
		}
		if a.offer != nil {
			o := *a.offer
			st.Offer = &o
		}
		reply(nil)
	})
	return st, err
}

// CheckNow asks the loop to check the server soon. It never blocks.
func (a *Agent) CheckNow() {
	select {
	case a.inbox <- func() { a.check(checkRegular) }:
	default:
	}
}

// do runs fn on the loop and waits for it to reply.
func (a *Agent) do(ctx context.Context, fn func(reply func(error))) error {
	errc := make(chan error, 1)
	cmd := func() { fn(func(err error) { errc <- err }) }

	select {
	case a.inbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrStopped
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrStopped
		}
	}
}

// async runs call on its own goroutine, bounded by both ctx and the run
// context, and applies the returned closure on the loop. The closure is
// told whether the agent tore down while the call was in flight.
func (a *Agent) async(ctx context.Context, call func(ctx context.Context) func(fresh bool)) {
	epoch := a.epoch
	runCtx := a.runCtx
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		callCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(runCtx, cancel)
		apply := call(callCtx)
		stop()
		cancel()

		select {
		case a.inbox <- func() { apply(a.epoch == epoch) }:
		case <-a.done:
		}
	}()
}

// check asks the server for this device's view. Requests arriving while
// a check of the same kind is in flight coalesce into one follow-up check,
// issued once the running one lands, so a wake-up is never lost to a
// result that turns out stale.
func (a *Agent) check(kind checkKind) {
	if a.inFlight[kind] {
		a.again[kind] = true
		return
	}
	a.inFlight[kind] = true

	a.async(a.runCtx, func(ctx context.Context) func(bool) {
		res, err := a.api.Check(ctx, a.deviceID)
		return func(fresh bool) {
			a.inFlight[kind] = false
			if a.again[kind] {
				a.again[kind] = false
				defer a.check(kind)
			}
			if !fresh {
				a.logger.Debug("dropping stale check result", "kind", kind)
				return
			}
			if err != nil {
				a.logger.Warn("session check failed", "kind", kind, "error", err)
				a.obs.OnError("check", err)
				return
			}
			a.applyCheck(kind, res)
		}
	})
}

func (a *Agent) applyCheck(kind checkKind, res *session.CheckResult) {
	if kind == checkDrift {
		if a.state == StateActive && res.Active {
			a.resync(res.EndTime)
		}
		return
	}

	switch a.state {
	case StateActive:
		a.applyWhileActive(res)
	case StatePending:
		a.applyWhilePending(res)
	default:
		a.applyWhileIdle(res)
	}
}

func (a *Agent) applyWhileActive(res *session.CheckResult) {
	switch {
	case res.Active:
		if res.TransferRequested && a.opts.SupportsTransfer {
			a.onTransferRequested(res.TransferRequestedByDeviceID)
		} else if !res.TransferRequested {
			a.requester, a.declined = "", ""
		}

	case res.Expired:
		a.expire()

	case res.TransferAvailable:
		a.revoke(ReasonSuperseded)
		if a.opts.SupportsTransfer {
			a.offerTransfer(TransferOffer{ExistingDeviceID: res.ExistingDeviceID, ExistingEndTime: res.ExistingEndTime})
		}

	default:
		a.revoke(ReasonEndedRemotely)
	}
}

func (a *Agent) applyWhilePending(res *session.CheckResult) {
	switch {
	case res.Active:
		a.activate(res.EndTime)

	case res.TransferRequested:
		a.offer = &TransferOffer{ExistingDeviceID: res.ExistingDeviceID, ExistingEndTime: res.ExistingEndTime}

	case res.TransferAvailable:
		a.teardown()
		a.obs.OnRevoked(ReasonEndedRemotely)
		a.offerTransfer(TransferOffer{ExistingDeviceID: res.ExistingDeviceID, ExistingEndTime: res.ExistingEndTime})

	case res.Expired:
		a.expire()

	default:
		a.revoke(ReasonEndedRemotely)
	}
}

func (a *Agent) applyWhileIdle(res *session.CheckResult) {
	switch {
	case res.Active:
		a.logger.Info("adopting session owned by this device", "end_time", res.EndTime)
		a.activate(res.EndTime)

	case res.TransferRequested && a.opts.SupportsTransfer:
		if !a.quiet {
			a.enterPending(TransferOffer{ExistingDeviceID: res.ExistingDeviceID, ExistingEndTime: res.ExistingEndTime})
		}

	case res.TransferAvailable && a.opts.SupportsTransfer:
		a.quiet = false
		a.offerTransfer(TransferOffer{ExistingDeviceID: res.ExistingDeviceID, ExistingEndTime: res.ExistingEndTime})

	default:
		a.quiet = false
		a.offer = nil
	}
}

func (a *Agent) onStartResult(end time.Time, err error) {
	var conflict *session.ConflictError
	switch {
	case err == nil:
		a.activate(end)

	case errors.As(err, &conflict):
		if !a.opts.SupportsTransfer {
			a.logger.Info("start conflicted, transfer unsupported", "owner_device_id", conflict.ExistingDeviceID)
			a.teardown()
			a.obs.OnRevoked(ReasonConflict)
			return
		}
		offer := TransferOffer{ExistingDeviceID: conflict.ExistingDeviceID, ExistingEndTime: conflict.ExistingEndTime}
		a.enterPending(offer)
		a.offer = nil
		a.offerTransfer(offer)
		a.stopGrace()
		a.graceTimer = a.opts.Clock.NewTimer(a.opts.GracePeriod)
	}
}

func (a *Agent) onTransferRequested(requester string) {
	if requester == "" || requester == a.requester {
		return
	}
	a.requester = requester
	a.logger.Info("transfer requested", "requester_device_id", requester)
	a.obs.OnTransferRequested(requester)

	if a.opts.Prompter != nil && requester != a.declined {
		a.promptApproval(requester)
	}
}

// promptApproval asks the owner for the credential and, if given, hands
// the session to requester.
func (a *Agent) promptApproval(requester string) {
	if a.prompting {
		return
	}
	a.prompting = true

	a.async(a.runCtx, func(ctx context.Context) func(bool) {
		cred, err := a.opts.Prompter.PromptCredential(ctx,
			fmt.Sprintf("device %s is asking for this elevated session", requester))
		if err != nil {
			return func(fresh bool) {
				if !fresh {
					return
				}
				a.prompting = false
				if errors.Is(err, ErrPromptDeclined) {
					a.logger.Info("transfer declined", "requester_device_id", requester)
					a.declined = requester
					return
				}
				a.requester = ""
				a.obs.OnError("prompt", err)
			}
		}

		_, err = a.api.Transfer(ctx, cred, requester)
		return func(fresh bool) {
			if !fresh {
				return
			}
			a.prompting = false
			a.onApprovalResult(requester, err)
		}
	})
}

func (a *Agent) onApprovalResult(requester string, err error) {
	if err != nil {
		a.logger.Warn("transfer approval failed", "requester_device_id", requester, "error", err)
		a.requester = ""
		a.obs.OnError("transfer", err)
		return
	}
	a.logger.Info("session handed over", "to_device_id", requester)
	a.revoke(ReasonTransferred)
}

func (a *Agent) activate(end time.Time) {
	a.epoch++
	a.stopFast()
	a.stopGrace()
	a.offer = nil
	a.quiet = false
	a.requester, a.declined = "", ""

	a.state = StateActive
	a.endTime = end
	if a.tickTicker == nil {
		a.tickTicker = a.opts.Clock.NewTicker(a.opts.TickInterval)
	}
	if a.driftTicker == nil {
		a.driftTicker = a.opts.Clock.NewTicker(a.opts.DriftInterval)
	}

	a.obs.OnActive(end)
	a.obs.OnTick(a.remaining())
}

func (a *Agent) enterPending(offer TransferOffer) {
	if a.state == StateActive {
		a.teardown()
	}
	a.epoch++
	a.state = StatePending
	a.offer = &offer
	if a.fastTicker == nil {
		a.fastTicker = a.opts.Clock.NewTicker(a.opts.FastPollInterval)
	}
	a.obs.OnTransferPending(offer)
}

func (a *Agent) offerTransfer(offer TransferOffer) {
	if a.offer != nil && a.offer.equal(offer) {
		return
	}
	a.offer = &offer
	a.obs.OnTransferOffer(offer)
}

func (a *Agent) tick() {
	if a.state != StateActive {
		return
	}
	rem := a.remaining()
	a.obs.OnTick(rem)
	if rem <= 0 {
		a.expire()
	}
}

// resync adopts the server's end time when the local one drifted too far.
func (a *Agent) resync(serverEnd time.Time) {
	diff := serverEnd.Sub(a.endTime)
	if diff < 0 {
		diff = -diff
	}
	if diff <= a.opts.DriftThreshold {
		return
	}
	a.logger.Info("resynchronising end time", "local", a.endTime, "server", serverEnd)
	a.endTime = serverEnd
	a.obs.OnActive(serverEnd)
}

func (a *Agent) graceElapsed() {
	a.graceTimer = nil
	if a.state != StatePending {
		return
	}
	a.logger.Info("transfer grace period elapsed")
	a.revoke(ReasonGraceElapsed)
	a.quiet = true
}

func (a *Agent) remaining() time.Duration {
	rem := a.endTime.Sub(a.opts.Clock.Now())
	if rem < 0 {
		return 0
	}
	return rem
}

func (a *Agent) expire() {
	a.teardown()
	a.obs.OnExpired()
}

// revoke tears down and reports reason, unless there was nothing held.
func (a *Agent) revoke(reason RevokeReason) {
	held := a.state != StateIdle
	a.teardown()
	if held {
		a.obs.OnRevoked(reason)
	}
}

// teardown returns to idle, stops every session timer and invalidates
// in-flight results.
func (a *Agent) teardown() {
	a.epoch++
	a.state = StateIdle
	a.endTime = time.Time{}
	a.offer = nil
	a.requester, a.declined = "", ""
	a.prompting = false

	a.stopFast()
	a.stopGrace()
	if a.tickTicker != nil {
		a.tickTicker.Stop()
		a.tickTicker = nil
	}
	if a.driftTicker != nil {
		a.driftTicker.Stop()
		a.driftTicker = nil
	}
}

func (a *Agent) stopFast() {
	if a.fastTicker != nil {
		a.fastTicker.Stop()
		a.fastTicker = nil
	}
}

func (a *Agent) stopGrace() {
	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
}

// tickerChan returns nil for a stopped ticker so its select case never fires.
func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}
