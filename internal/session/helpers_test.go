package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/elevate/internal/infrastructure/database"
	_ "github.com/nerrad567/elevate/migrations"
)

const (
	testIdentity   = "alice"
	testCredential = "correct-credential"
	deviceA        = "device-a"
	deviceB        = "device-b"
	deviceC        = "device-c"
)

// fakeIdentity is an in-memory IdentityProvider.
type fakeIdentity struct {
	secrets map[string]string
	roles   map[string][]string
	err     error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		secrets: map[string]string{testIdentity: testCredential, "bob": testCredential},
		roles: map[string][]string{
			testIdentity: {"staff", "member"},
			"bob":        {"member"},
		},
	}
}

func (f *fakeIdentity) VerifyCredential(_ context.Context, identity, secret string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	want, ok := f.secrets[identity]
	return ok && want == secret, nil
}

func (f *fakeIdentity) GetRoles(_ context.Context, identity string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.roles[identity], nil
}

// eventRecorder captures emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc    *Service
	store  Store
	clock  *clockwork.FakeClock
	events *eventRecorder
	idp    *fakeIdentity
}

// newFixture builds a Service over store with a fake clock at the unix
// epoch, so times in tests read as plain milliseconds.
func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	f := &fixture{
		store:  store,
		clock:  clockwork.NewFakeClockAt(time.UnixMilli(0)),
		events: &eventRecorder{},
		idp:    newFakeIdentity(),
	}
	f.svc = NewService(store, f.idp, Options{
		TTL:      15 * time.Minute,
		Clock:    f.clock,
		Notifier: f.events,
	})
	return f
}

func newMemoryFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, NewMemoryStore())
}

// at moves the fake clock to the given unix millisecond.
func (f *fixture) at(t *testing.T, ms int64) {
	t.Helper()
	target := time.UnixMilli(ms)
	now := f.clock.Now()
	if target.Before(now) {
		t.Fatalf("clock cannot go backwards: now=%d target=%d", now.UnixMilli(), ms)
	}
	f.clock.Advance(target.Sub(now))
}

func (f *fixture) mustStart(t *testing.T, device string) time.Time {
	t.Helper()
	res, err := f.svc.Start(context.Background(), testIdentity, device, testCredential)
	if err != nil {
		t.Fatalf("Start(%s) error = %v", device, err)
	}
	return res.EndTime
}

func (f *fixture) mustCheck(t *testing.T, device string) *CheckResult {
	t.Helper()
	res, err := f.svc.Check(context.Background(), testIdentity, device)
	if err != nil {
		t.Fatalf("Check(%s) error = %v", device, err)
	}
	return res
}

// openTestDB opens a migrated SQLite database in a temp dir.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "session-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

func ms(v int64) time.Time {
	return time.UnixMilli(v)
}
