package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/elevate/internal/agent"
	"github.com/nerrad567/elevate/internal/api"
	"github.com/nerrad567/elevate/internal/auth"
	"github.com/nerrad567/elevate/internal/infrastructure/config"
	"github.com/nerrad567/elevate/internal/infrastructure/database"
	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/session"
	_ "github.com/nerrad567/elevate/migrations"
)

const (
	testPassword   = "test-password"
	testCredential = "correct-credential"
)

// startServer runs a real API server with a staff account "alice".
func startServer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "server.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	users := auth.NewUserRepository(db.DB)
	provider := auth.NewProvider(users, auth.NewCredentialRepository(db.DB))
	hash, err := auth.HashSecret(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if err := users.Create(ctx, &auth.User{Username: "alice", PasswordHash: hash, Role: auth.RoleStaff, IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if err := provider.SetCredential(ctx, "alice", testCredential); err != nil {
		t.Fatal(err)
	}

	log := logging.Discard()
	reg := prometheus.NewRegistry()
	srv, err := api.New(api.Deps{
		Security: config.SecurityConfig{JWT: config.JWTConfig{
			Secret: "test-secret-key-at-least-32-characters-long", AccessTokenTTL: 15,
		}},
		Logger:     log,
		Sessions:   session.NewService(session.NewSQLiteStore(db.DB, 0), provider, session.Options{Logger: log}),
		Auth:       provider,
		Users:      users,
		Registerer: reg,
		Gatherer:   reg,
	})
	if err != nil {
		t.Fatalf("api.New() error: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// device is one elevatectl installation with its own config directory.
type device struct {
	t          *testing.T
	configPath string
}

func newDevice(t *testing.T, serverURL string) *device {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "elevate.yaml")
	content := "agent:\n  server_url: \"" + serverURL + "\"\n  device_id_path: \"" + filepath.Join(dir, "state", "device-id") + "\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return &device{t: t, configPath: configPath}
}

// run executes elevatectl with args and stdin, returning stdout.
func (d *device) run(stdin string, args ...string) (string, error) {
	d.t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", d.configPath}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (d *device) mustRun(stdin string, args ...string) string {
	d.t.Helper()
	out, err := d.run(stdin, args...)
	if err != nil {
		d.t.Fatalf("elevatectl %v: %v\noutput: %s", args, err, out)
	}
	return out
}

func TestDeviceID(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1")

	first := strings.TrimSpace(d.mustRun("", "device-id"))
	if first == "" {
		t.Fatal("empty device id")
	}
	if again := strings.TrimSpace(d.mustRun("", "device-id")); again != first {
		t.Errorf("device id changed: %q then %q", first, again)
	}
	if reset := strings.TrimSpace(d.mustRun("", "device-id", "--reset")); reset == first {
		t.Error("device id unchanged after --reset")
	}
}

func TestCommandsRequireLogin(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1")

	_, err := d.run("", "status")
	if err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Errorf("status without login error = %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	d := newDevice(t, startServer(t))

	_, err := d.run("", "login", "--username", "alice", "--password", "wrong-password")
	if !errors.Is(err, session.ErrUnauthenticated) {
		t.Errorf("login error = %v, want ErrUnauthenticated", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	url := startServer(t)
	a := newDevice(t, url)
	b := newDevice(t, url)

	// Password from stdin on one device, flag on the other.
	if out := a.mustRun(testPassword+"\n", "login", "--username", "alice"); !strings.Contains(out, "signed in as alice") {
		t.Fatalf("login output = %q", out)
	}
	b.mustRun("", "login", "--username", "alice", "--password", testPassword)
	idB := strings.TrimSpace(b.mustRun("", "device-id"))

	if out := a.mustRun(testCredential+"\n", "start"); !strings.Contains(out, "elevated until") {
		t.Fatalf("start output = %q", out)
	}
	if out := a.mustRun("", "status"); !strings.Contains(out, "active on this device") {
		t.Fatalf("status output = %q", out)
	}

	// B conflicts, which flags a transfer request on A.
	out, err := b.run("", "--credential", testCredential, "start")
	var conflict *session.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second start error = %v, want conflict", err)
	}
	if !strings.Contains(out, "transfer requested") {
		t.Errorf("conflict output = %q", out)
	}
	if out := a.mustRun("", "status"); !strings.Contains(out, "transfer requested by "+idB) {
		t.Errorf("owner status = %q", out)
	}

	// A approves the requesting device.
	if out := a.mustRun("", "--credential", testCredential, "transfer"); !strings.Contains(out, "transferred to "+idB) {
		t.Fatalf("transfer output = %q", out)
	}
	if out := b.mustRun("", "status"); !strings.Contains(out, "active on this device") {
		t.Errorf("new owner status = %q", out)
	}
	if out := a.mustRun("", "status"); !strings.Contains(out, "elevatectl accept") {
		t.Errorf("old owner status = %q", out)
	}
	if out := b.mustRun("", "status", "--record"); !strings.Contains(out, "moved from:") {
		t.Errorf("record output = %q", out)
	}

	// A takes it back, then ends it.
	a.mustRun("", "--credential", testCredential, "accept")
	if out := a.mustRun("", "--credential", testCredential, "end"); !strings.Contains(out, "session ended") {
		t.Errorf("end output = %q", out)
	}
	if _, err := a.run("", "--credential", testCredential, "end"); err == nil || !strings.Contains(err.Error(), "no active session") {
		t.Errorf("second end error = %v", err)
	}
	if out := a.mustRun("", "--credential", testCredential, "end-all"); !strings.Contains(out, "all sessions ended") {
		t.Errorf("end-all output = %q", out)
	}

	// Nothing to hand over now.
	if _, err := a.run("", "--credential", testCredential, "transfer"); err == nil {
		t.Error("transfer with no requester succeeded")
	}
}

func TestPrintingObserver_Tick(t *testing.T) {
	var out bytes.Buffer
	p := newPrintingObserver(&out)

	p.OnTick(2 * time.Minute)
	p.OnTick(2 * time.Minute) // repeated second: ignored
	p.OnTick(90 * time.Second)
	p.OnTick(5 * time.Second)

	got := out.String()
	if strings.Count(got, "2m0s left") != 1 {
		t.Errorf("output = %q, want one 2m0s line", got)
	}
	if strings.Contains(got, "1m30s") {
		t.Errorf("output = %q, printed an off-minute tick", got)
	}
	if !strings.Contains(got, "5s left") {
		t.Errorf("output = %q, missing final countdown", got)
	}
}

func TestStdinPrompter(t *testing.T) {
	var out bytes.Buffer
	p := newStdinPrompter(strings.NewReader("secret\n\n"), &out)
	ctx := context.Background()

	cred, err := p.PromptCredential(ctx, "device x wants the session")
	if err != nil || cred != "secret" {
		t.Fatalf("PromptCredential() = %q, %v", cred, err)
	}
	if _, err := p.PromptCredential(ctx, "again"); !errors.Is(err, agent.ErrPromptDeclined) {
		t.Errorf("empty line: error = %v, want ErrPromptDeclined", err)
	}
	if !strings.Contains(out.String(), "device x wants the session") {
		t.Errorf("prompt output = %q", out.String())
	}
}
