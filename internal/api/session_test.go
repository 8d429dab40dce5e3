package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/elevate/internal/session"
)

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"valid", loginRequest{Username: "alice", Password: testPassword}, http.StatusOK},
		{"wrong password", loginRequest{Username: "alice", Password: "nope-nope"}, http.StatusUnauthorized},
		{"unknown user", loginRequest{Username: "mallory", Password: testPassword}, http.StatusUnauthorized},
		{"missing fields", loginRequest{Username: "alice"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(t, env.router, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			expectStatus(t, w, tt.want)
			if tt.want != http.StatusOK {
				return
			}
			var resp loginResponse
			decode(t, w, &resp)
			if resp.AccessToken == "" || resp.TokenType != "Bearer" || resp.Username != "alice" {
				t.Errorf("login response = %+v", resp)
			}
			if resp.ExpiresIn != 15*60 {
				t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, 15*60)
			}
		})
	}
}

func TestSessionFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "alice")
	ttl := env.srv.sessions.TTL()
	now := env.clock.Now()

	// Device A starts.
	w := request(t, env.router, http.MethodPost, "/api/v1/session/start", token,
		session.StartRequest{Credential: testCredential, DeviceID: deviceA})
	expectStatus(t, w, http.StatusOK)
	var started session.EndTimeResponse
	decode(t, w, &started)
	if want := now.Add(ttl).UnixMilli(); started.EndTime != want {
		t.Fatalf("end_time = %d, want %d", started.EndTime, want)
	}

	// A sees itself active.
	w = request(t, env.router, http.MethodGet, "/api/v1/session/check?device_id="+deviceA, token, nil)
	expectStatus(t, w, http.StatusOK)
	var check session.CheckResponse
	decode(t, w, &check)
	if !check.Active || check.DeviceID != deviceA || check.RemainingTime != ttl.Milliseconds() {
		t.Fatalf("owner check = %+v", check)
	}

	// Device B conflicts and learns who owns the session.
	w = request(t, env.router, http.MethodPost, "/api/v1/session/start", token,
		session.StartRequest{Credential: testCredential, DeviceID: deviceB})
	expectStatus(t, w, http.StatusConflict)
	var conflict conflictError
	decode(t, w, &conflict)
	if conflict.Code != ErrCodeConflict || conflict.ExistingDeviceID != deviceA || conflict.ExistingEndTime != started.EndTime {
		t.Fatalf("conflict body = %+v", conflict)
	}

	// B waits on the request; A sees it.
	w = request(t, env.router, http.MethodGet, "/api/v1/session/check?device_id="+deviceB, token, nil)
	check = session.CheckResponse{}
	decode(t, w, &check)
	if check.Active || !check.TransferRequested || check.ExistingDeviceID != deviceA {
		t.Fatalf("requester check = %+v", check)
	}
	w = request(t, env.router, http.MethodGet, "/api/v1/session/check?device_id="+deviceA, token, nil)
	check = session.CheckResponse{}
	decode(t, w, &check)
	if !check.Active || !check.TransferRequested || check.TransferRequestedByDeviceID != deviceB {
		t.Fatalf("owner check after request = %+v", check)
	}

	// A hands over; the end time is kept.
	env.clock.Advance(time.Minute)
	w = request(t, env.router, http.MethodPost, "/api/v1/session/transfer", token,
		session.TransferRequest{Credential: testCredential, NewDeviceID: deviceB})
	expectStatus(t, w, http.StatusOK)
	var transferred session.EndTimeResponse
	decode(t, w, &transferred)
	if transferred.EndTime != started.EndTime {
		t.Errorf("transfer end_time = %d, want %d", transferred.EndTime, started.EndTime)
	}

	w = request(t, env.router, http.MethodGet, "/api/v1/session/record", token, nil)
	expectStatus(t, w, http.StatusOK)
	var rec session.RecordResponse
	decode(t, w, &rec)
	if rec.DeviceID != deviceB || rec.TransferredFromDeviceID != deviceA || rec.TransferRequested {
		t.Errorf("record after transfer = %+v", rec)
	}

	// A is now offered the session back.
	w = request(t, env.router, http.MethodGet, "/api/v1/session/check?device_id="+deviceA, token, nil)
	check = session.CheckResponse{}
	decode(t, w, &check)
	if check.Active || !check.TransferAvailable || check.ExistingDeviceID != deviceB {
		t.Errorf("old owner check = %+v", check)
	}

	// End, then End again.
	w = request(t, env.router, http.MethodPost, "/api/v1/session/end", token,
		session.CredentialRequest{Credential: testCredential})
	expectStatus(t, w, http.StatusOK)

	w = request(t, env.router, http.MethodPost, "/api/v1/session/end", token,
		session.CredentialRequest{Credential: testCredential})
	expectStatus(t, w, http.StatusPreconditionFailed)
	var apiErr Error
	decode(t, w, &apiErr)
	if apiErr.Code != ErrCodeNoActiveSession {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeNoActiveSession)
	}

	w = request(t, env.router, http.MethodPost, "/api/v1/session/transfer", token,
		session.TransferRequest{Credential: testCredential, NewDeviceID: deviceA})
	expectStatus(t, w, http.StatusPreconditionFailed)

	// EndAll succeeds with nothing live.
	w = request(t, env.router, http.MethodPost, "/api/v1/session/end-all", token,
		session.CredentialRequest{Credential: testCredential})
	expectStatus(t, w, http.StatusOK)
	var ok session.SuccessResponse
	decode(t, w, &ok)
	if !ok.Success {
		t.Error("end-all success = false")
	}
}

func TestSessionCheck_Expired(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "alice")

	w := request(t, env.router, http.MethodPost, "/api/v1/session/start", token,
		session.StartRequest{Credential: testCredential, DeviceID: deviceA})
	expectStatus(t, w, http.StatusOK)

	env.clock.Advance(env.srv.sessions.TTL())

	w = request(t, env.router, http.MethodGet, "/api/v1/session/check?device_id="+deviceA, token, nil)
	expectStatus(t, w, http.StatusOK)
	var check session.CheckResponse
	decode(t, w, &check)
	if check.Active || !check.Expired {
		t.Errorf("check after expiry = %+v", check)
	}
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		body   any
		want   int
	}{
		{"wrong credential", alice, http.MethodPost, "/api/v1/session/start",
			session.StartRequest{Credential: "wrong", DeviceID: deviceA}, http.StatusForbidden},
		{"member cannot elevate", bob, http.MethodPost, "/api/v1/session/start",
			session.StartRequest{Credential: testCredential, DeviceID: deviceA}, http.StatusForbidden},
		{"missing device", alice, http.MethodPost, "/api/v1/session/start",
			session.StartRequest{Credential: testCredential}, http.StatusBadRequest},
		{"missing credential", alice, http.MethodPost, "/api/v1/session/end",
			session.CredentialRequest{}, http.StatusBadRequest},
		{"check without device", alice, http.MethodGet, "/api/v1/session/check", nil, http.StatusBadRequest},
		{"no record", alice, http.MethodGet, "/api/v1/session/record", nil, http.StatusNotFound},
		{"no token", "", http.MethodPost, "/api/v1/session/start",
			session.StartRequest{Credential: testCredential, DeviceID: deviceA}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(t, env.router, tt.method, tt.path, tt.token, tt.body)
			expectStatus(t, w, tt.want)
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		req := newRequest(http.MethodPost, "/api/v1/session/start", "")
		req.Body = http.NoBody
		req.Header.Set("Authorization", "Bearer "+alice)
		w := serve(env.router, req)
		expectStatus(t, w, http.StatusBadRequest)
	})
}
