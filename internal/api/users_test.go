package api

import (
	"net/http"
	"testing"

	"github.com/nerrad567/elevate/internal/auth"
	"github.com/nerrad567/elevate/internal/session"
)

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root")

	tests := []struct {
		name string
		body createUserRequest
		want int
	}{
		{"valid staff", createUserRequest{Username: "carol", Password: testPassword, Role: auth.RoleStaff}, http.StatusCreated},
		{"duplicate", createUserRequest{Username: "alice", Password: testPassword}, http.StatusConflict},
		{"short password", createUserRequest{Username: "dave", Password: "short"}, http.StatusBadRequest},
		{"bad username", createUserRequest{Username: "dave smith", Password: testPassword}, http.StatusBadRequest},
		{"bad role", createUserRequest{Username: "dave", Password: testPassword, Role: "root"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(t, env.router, http.MethodPost, "/api/v1/users", admin, tt.body)
			expectStatus(t, w, tt.want)
		})
	}

	w := request(t, env.router, http.MethodGet, "/api/v1/users", admin, nil)
	expectStatus(t, w, http.StatusOK)
	var list struct {
		Users []auth.User `json:"users"`
		Count int         `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 4 {
		t.Errorf("user count = %d, want 4", list.Count)
	}
}

func TestUsers_RequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	staff := env.login(t, "alice")

	w := request(t, env.router, http.MethodGet, "/api/v1/users", staff, nil)
	expectStatus(t, w, http.StatusForbidden)

	w = request(t, env.router, http.MethodPost, "/api/v1/users", staff,
		createUserRequest{Username: "eve", Password: testPassword, Role: auth.RoleAdmin})
	expectStatus(t, w, http.StatusForbidden)
}

func TestSetCredential_GeneratedThenUsable(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root")

	w := request(t, env.router, http.MethodPost, "/api/v1/users", admin,
		createUserRequest{Username: "carol", Password: testPassword, Role: auth.RoleStaff})
	expectStatus(t, w, http.StatusCreated)

	w = request(t, env.router, http.MethodPut, "/api/v1/users/carol/credential", admin, nil)
	expectStatus(t, w, http.StatusOK)
	var resp struct {
		Username   string `json:"username"`
		Credential string `json:"credential"`
	}
	decode(t, w, &resp)
	if resp.Username != "carol" || len(resp.Credential) != 2*generatedSecretBytes {
		t.Fatalf("set credential response = %+v", resp)
	}

	carol := env.login(t, "carol")
	w = request(t, env.router, http.MethodPost, "/api/v1/session/start", carol,
		session.StartRequest{Credential: resp.Credential, DeviceID: deviceA})
	expectStatus(t, w, http.StatusOK)
}

func TestSetCredential_Errors(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root")

	w := request(t, env.router, http.MethodPut, "/api/v1/users/nobody/credential", admin,
		setCredentialRequest{Credential: "long-enough-secret"})
	expectStatus(t, w, http.StatusNotFound)

	w = request(t, env.router, http.MethodPut, "/api/v1/users/alice/credential", admin,
		setCredentialRequest{Credential: "short"})
	expectStatus(t, w, http.StatusBadRequest)

	// A supplied credential is not echoed back and replaces the old one.
	w = request(t, env.router, http.MethodPut, "/api/v1/users/alice/credential", admin,
		setCredentialRequest{Credential: "replacement-secret"})
	expectStatus(t, w, http.StatusOK)
	var resp map[string]any
	decode(t, w, &resp)
	if _, ok := resp["credential"]; ok {
		t.Error("supplied credential echoed in response")
	}

	alice := env.login(t, "alice")
	w = request(t, env.router, http.MethodPost, "/api/v1/session/start", alice,
		session.StartRequest{Credential: testCredential, DeviceID: deviceA})
	expectStatus(t, w, http.StatusForbidden)
}
