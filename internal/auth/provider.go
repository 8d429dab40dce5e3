package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Provider answers identity questions for the session service and the
// login endpoint. Identities are usernames.
type Provider struct {
	users UserRepository
	creds CredentialRepository

	// dummyHash is verified against when an account or credential is
	// missing, so unknown identities cost the same Argon2id work.
	dummyOnce sync.Once
	dummyHash string
}

// NewProvider creates a Provider backed by the given repositories.
func NewProvider(users UserRepository, creds CredentialRepository) *Provider {
	return &Provider{users: users, creds: creds}
}

// Authenticate checks a login password and returns the account.
//
// Returns ErrInvalidCredentials for an unknown user or wrong password and
// ErrUserInactive for a disabled account.
func (p *Provider) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := p.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			p.burn(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifySecret(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// VerifyCredential reports whether secret matches the identity's
// elevation credential. Unknown identities, inactive accounts, and
// accounts with no credential all verify as false without an error.
func (p *Provider) VerifyCredential(ctx context.Context, identity, secret string) (bool, error) {
	user, err := p.users.GetByUsername(ctx, identity)
	switch {
	case errors.Is(err, ErrUserNotFound):
		p.burn(secret)
		return false, nil
	case err != nil:
		return false, err
	}

	hash, err := p.creds.GetHash(ctx, user.ID)
	switch {
	case errors.Is(err, ErrCredentialNotSet):
		p.burn(secret)
		return false, nil
	case err != nil:
		return false, err
	}

	ok, err := VerifySecret(secret, hash)
	if err != nil {
		return false, fmt.Errorf("verifying elevation credential: %w", err)
	}
	return ok && user.IsActive, nil
}

// GetRoles returns the identity's role and every role it implies, as
// strings. Unknown and inactive accounts have no roles.
func (p *Provider) GetRoles(ctx context.Context, identity string) ([]string, error) {
	user, err := p.users.GetByUsername(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}

	implied := user.Role.Implied()
	roles := make([]string, len(implied))
	for i, r := range implied {
		roles[i] = string(r)
	}
	return roles, nil
}

// SetCredential hashes and stores a new elevation credential for username.
func (p *Provider) SetCredential(ctx context.Context, username, secret string) error {
	user, err := p.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return fmt.Errorf("hashing elevation credential: %w", err)
	}
	return p.creds.Set(ctx, user.ID, hash)
}

// burn spends one verification worth of work against a throwaway hash.
func (p *Provider) burn(secret string) {
	p.dummyOnce.Do(func() {
		p.dummyHash, _ = HashSecret("elevate-dummy") //nolint:errcheck // failure leaves hash empty; verify then errors fast
	})
	_, _ = VerifySecret(secret, p.dummyHash) //nolint:errcheck // result intentionally ignored
}
