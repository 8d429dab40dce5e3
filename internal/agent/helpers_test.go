package agent

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/elevate/internal/session"
)

const (
	testIdentity   = "alice"
	testCredential = "correct-credential"
	deviceA        = "device-a"
	deviceB        = "device-b"

	waitTimeout = 2 * time.Second
)

// staticIdentity accepts testCredential for testIdentity, who holds staff.
type staticIdentity struct{}

func (staticIdentity) VerifyCredential(_ context.Context, identity, secret string) (bool, error) {
	return identity == testIdentity && secret == testCredential, nil
}

func (staticIdentity) GetRoles(_ context.Context, identity string) ([]string, error) {
	if identity != testIdentity {
		return nil, nil
	}
	return []string{"staff", "member"}, nil
}

// recorder is an Observer that logs calls as short strings.
type recorder struct {
	mu     sync.Mutex
	events []string
	ends   []time.Time
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnActive(end time.Time) {
	r.mu.Lock()
	r.ends = append(r.ends, end)
	r.mu.Unlock()
	r.add("active")
}

func (r *recorder) OnTick(time.Duration) {}
func (r *recorder) OnExpired()           { r.add("expired") }
func (r *recorder) OnRevoked(reason RevokeReason) {
	r.add("revoked:" + string(reason))
}
func (r *recorder) OnTransferOffer(o TransferOffer) { r.add("offer:" + o.ExistingDeviceID) }
func (r *recorder) OnTransferPending(o TransferOffer) {
	r.add("pending:" + o.ExistingDeviceID)
}
func (r *recorder) OnTransferRequested(requester string) { r.add("requested:" + requester) }
func (r *recorder) OnError(op string, _ error)           { r.add("error:" + op) }

func (r *recorder) has(ev string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.events, ev)
}

func (r *recorder) hasPrefix(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.events, func(ev string) bool { return strings.HasPrefix(ev, prefix) })
}

func (r *recorder) lastEnd() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ends) == 0 {
		return time.Time{}
	}
	return r.ends[len(r.ends)-1]
}

// waitFor blocks until ev has been observed.
func (r *recorder) waitFor(t *testing.T, ev string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !r.has(ev) {
		if time.Now().After(deadline) {
			r.mu.Lock()
			defer r.mu.Unlock()
			t.Fatalf("timed out waiting for %q; saw %v", ev, r.events)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type harness struct {
	clock *clockwork.FakeClock
	svc   *session.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(0))
	svc := session.NewService(session.NewMemoryStore(), staticIdentity{}, session.Options{Clock: clock})
	return &harness{clock: clock, svc: svc}
}

// running is an agent started on its own goroutine.
type running struct {
	*Agent
	obs  *recorder
	wake chan struct{}
}

// poke makes the agent check the server.
func (r *running) poke() {
	r.wake <- struct{}{}
}

func (h *harness) agent(t *testing.T, deviceID string, opts Options) *running {
	t.Helper()
	return startAgent(t, NewLocalAPI(h.svc, testIdentity), deviceID, h.clock, opts)
}

func startAgent(t *testing.T, api SessionAPI, deviceID string, clock clockwork.Clock, opts Options) *running {
	t.Helper()
	wake := make(chan struct{})
	obs := &recorder{}
	opts.Clock = clock
	opts.Wake = wake

	a := New(api, deviceID, obs, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx) //nolint:errcheck // returns ctx.Err on cleanup
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &running{Agent: a, obs: obs, wake: wake}
}

func status(t *testing.T, a *running) Status {
	t.Helper()
	st, err := a.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	return st
}

// waitState polls until the agent reaches want.
func waitState(t *testing.T, a *running, want State) Status {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		st := status(t, a)
		if st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", st.State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// stubAPI is a SessionAPI built from optional functions.
type stubAPI struct {
	start    func(ctx context.Context, deviceID, credential string) (time.Time, error)
	check    func(ctx context.Context, deviceID string) (*session.CheckResult, error)
	transfer func(ctx context.Context, credential, newDeviceID string) (time.Time, error)
}

func (s *stubAPI) Start(ctx context.Context, deviceID, credential string) (time.Time, error) {
	return s.start(ctx, deviceID, credential)
}

func (s *stubAPI) Check(ctx context.Context, deviceID string) (*session.CheckResult, error) {
	if s.check == nil {
		return &session.CheckResult{}, nil
	}
	return s.check(ctx, deviceID)
}

func (s *stubAPI) End(context.Context, string) error    { return nil }
func (s *stubAPI) EndAll(context.Context, string) error { return nil }

func (s *stubAPI) Transfer(ctx context.Context, credential, newDeviceID string) (time.Time, error) {
	return s.transfer(ctx, credential, newDeviceID)
}
