package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestProvider_Authenticate(t *testing.T) {
	provider, db := newTestProvider(t)
	ctx := context.Background()
	alice := seedTestUser(t, db, "alice", RoleStaff)

	got, err := provider.Authenticate(ctx, "alice", "test-password")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("Authenticate() user = %s, want %s", got.ID, alice.ID)
	}

	if _, err := provider.Authenticate(ctx, "alice", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := provider.Authenticate(ctx, "ghost", "test-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}

	alice.IsActive = false
	if err := NewUserRepository(db).Update(ctx, alice); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := provider.Authenticate(ctx, "alice", "test-password"); !errors.Is(err, ErrUserInactive) {
		t.Errorf("inactive user error = %v, want ErrUserInactive", err)
	}
}

func TestProvider_VerifyCredential(t *testing.T) {
	provider, db := newTestProvider(t)
	ctx := context.Background()
	alice := seedTestUser(t, db, "alice", RoleStaff)
	seedTestUser(t, db, "nocred", RoleStaff)

	if err := provider.SetCredential(ctx, "alice", "elevate-me"); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	tests := []struct {
		name     string
		identity string
		secret   string
		want     bool
	}{
		{"correct", "alice", "elevate-me", true},
		{"login password is not the credential", "alice", "test-password", false},
		{"wrong", "alice", "nope", false},
		{"unknown identity", "ghost", "elevate-me", false},
		{"no credential set", "nocred", "elevate-me", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := provider.VerifyCredential(ctx, tt.identity, tt.secret)
			if err != nil {
				t.Fatalf("VerifyCredential() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("VerifyCredential() = %v, want %v", ok, tt.want)
			}
		})
	}

	alice.IsActive = false
	if err := NewUserRepository(db).Update(ctx, alice); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if ok, _ := provider.VerifyCredential(ctx, "alice", "elevate-me"); ok { //nolint:errcheck // result is what matters
		t.Error("inactive account must not verify")
	}
}

func TestProvider_GetRoles(t *testing.T) {
	provider, db := newTestProvider(t)
	ctx := context.Background()
	seedTestUser(t, db, "adm", RoleAdmin)
	seedTestUser(t, db, "mem", RoleMember)
	off := seedTestUser(t, db, "off", RoleStaff)
	off.IsActive = false
	if err := NewUserRepository(db).Update(ctx, off); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	tests := []struct {
		identity string
		want     []string
	}{
		{"adm", []string{"admin", "staff", "member"}},
		{"mem", []string{"member"}},
		{"off", nil},
		{"ghost", nil},
	}
	for _, tt := range tests {
		got, err := provider.GetRoles(ctx, tt.identity)
		if err != nil {
			t.Fatalf("GetRoles(%s) error = %v", tt.identity, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("GetRoles(%s) = %v, want %v", tt.identity, got, tt.want)
		}
	}
}

func TestProvider_SetCredentialUnknownUser(t *testing.T) {
	provider, _ := newTestProvider(t)

	if err := provider.SetCredential(context.Background(), "ghost", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetCredential() error = %v, want ErrUserNotFound", err)
	}
}
