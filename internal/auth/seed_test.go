package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedOwner_CreatesOnEmptyDB(t *testing.T) {
	provider, db := newTestProvider(t)
	ctx := context.Background()

	res, err := SeedOwner(ctx, provider, discardLogger())
	if err != nil {
		t.Fatalf("SeedOwner() error = %v", err)
	}
	if res.Password == "" || res.Credential == "" {
		t.Fatalf("SeedOwner() should return both secrets, got %+v", res)
	}

	owner, err := NewUserRepository(db).GetByUsername(ctx, SeedUsername)
	if err != nil {
		t.Fatalf("GetByUsername(owner) error = %v", err)
	}
	if owner.Role != RoleAdmin || !owner.IsActive {
		t.Errorf("owner = %s active=%v, want active admin", owner.Role, owner.IsActive)
	}

	if _, err := provider.Authenticate(ctx, SeedUsername, res.Password); err != nil {
		t.Errorf("seeded password should authenticate: %v", err)
	}
	ok, err := provider.VerifyCredential(ctx, SeedUsername, res.Credential)
	if err != nil || !ok {
		t.Errorf("seeded credential should verify: ok=%v err=%v", ok, err)
	}
}

func TestSeedOwner_SkipsWhenUsersExist(t *testing.T) {
	provider, db := newTestProvider(t)
	seedTestUser(t, db, "existing", RoleStaff)

	res, err := SeedOwner(context.Background(), provider, discardLogger())
	if err != nil {
		t.Fatalf("SeedOwner() error = %v", err)
	}
	if res != (SeedResult{}) {
		t.Errorf("SeedOwner() = %+v, want empty result", res)
	}

	if _, err := NewUserRepository(db).GetByUsername(context.Background(), SeedUsername); err == nil {
		t.Error("owner should not be created when users exist")
	}
}
