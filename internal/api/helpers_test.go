package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/elevate/internal/audit"
	"github.com/nerrad567/elevate/internal/auth"
	"github.com/nerrad567/elevate/internal/infrastructure/config"
	"github.com/nerrad567/elevate/internal/infrastructure/database"
	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/session"
	_ "github.com/nerrad567/elevate/migrations"
)

const (
	testJWTSecret  = "test-secret-key-at-least-32-characters-long"
	testPassword   = "test-password"
	testCredential = "correct-credential"
	deviceA        = "device-a"
	deviceB        = "device-b"
)

// testEnv is a Server over a temporary database with three accounts:
// alice (staff), bob (member, no credential) and root (admin).
type testEnv struct {
	srv       *Server
	router    http.Handler
	clock     *clockwork.FakeClock
	users     *auth.SQLiteUserRepository
	auditRepo *audit.SQLiteRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	users := auth.NewUserRepository(db.DB)
	provider := auth.NewProvider(users, auth.NewCredentialRepository(db.DB))
	seedUser(t, users, provider, "alice", auth.RoleStaff, true)
	seedUser(t, users, provider, "bob", auth.RoleMember, false)
	seedUser(t, users, provider, "root", auth.RoleAdmin, true)

	log := logging.Discard()
	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	reg := prometheus.NewRegistry()
	hub := NewHub(wsCfg, log)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	metrics := session.NewMetrics(reg)

	svc := session.NewService(session.NewMemoryStore(), provider, session.Options{
		Clock:    clock,
		Notifier: session.NewMultiNotifier(hub, metrics),
		Metrics:  metrics,
		Logger:   log,
	})
	auditRepo := audit.NewSQLiteRepository(db.DB)

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     wsCfg,
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 15},
		},
		Logger:     log,
		Sessions:   svc,
		Auth:       provider,
		Users:      users,
		AuditRepo:  auditRepo,
		Hub:        hub,
		DB:         db.DB,
		Registerer: reg,
		Gatherer:   reg,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	t.Cleanup(cancel)

	return &testEnv{srv: srv, router: srv.Handler(), clock: clock, users: users, auditRepo: auditRepo}
}

func seedUser(t *testing.T, users auth.UserRepository, provider *auth.Provider, username string, role auth.Role, withCredential bool) {
	t.Helper()
	hash, err := auth.HashSecret(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &auth.User{Username: username, DisplayName: username, PasswordHash: hash, Role: role, IsActive: true}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating %s: %v", username, err)
	}
	if withCredential {
		if err := provider.SetCredential(context.Background(), username, testCredential); err != nil {
			t.Fatalf("setting credential for %s: %v", username, err)
		}
	}
}

func newRequest(method, path, origin string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// request serves one request through h. body is JSON-encoded unless nil.
func request(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// login returns an access token for username.
func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	w := request(t, e.router, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: username, Password: testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, w.Code, w.Body.String())
	}
	var resp loginResponse
	decode(t, w, &resp)
	return resp.AccessToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}
