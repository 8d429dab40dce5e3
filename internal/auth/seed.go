package auth

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// seedSecretBytes is the entropy of generated passwords and credentials.
	seedSecretBytes = 16

	// SeedUsername is the account created on first boot.
	SeedUsername = "owner"
)

// SeedResult carries the generated secrets of a seeded account.
// Both are empty when seeding was skipped.
type SeedResult struct {
	Password   string
	Credential string
}

// SeedOwner creates an admin account on first boot if no users exist.
//
// It generates both a login password and an elevation credential and logs
// them once at warn level; they must be changed immediately.
func SeedOwner(ctx context.Context, provider *Provider, logger *slog.Logger) (SeedResult, error) {
	count, err := provider.users.Count(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping owner seed")
		return SeedResult{}, nil
	}

	var res SeedResult
	if res.Password, err = GenerateSecret(seedSecretBytes); err != nil {
		return SeedResult{}, err
	}
	if res.Credential, err = GenerateSecret(seedSecretBytes); err != nil {
		return SeedResult{}, err
	}

	hash, err := HashSecret(res.Password)
	if err != nil {
		return SeedResult{}, fmt.Errorf("hashing seed password: %w", err)
	}

	owner := &User{
		Username:     SeedUsername,
		DisplayName:  "System Owner",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := provider.users.Create(ctx, owner); err != nil {
		return SeedResult{}, fmt.Errorf("creating seed owner: %w", err)
	}
	if err := provider.SetCredential(ctx, owner.Username, res.Credential); err != nil {
		return SeedResult{}, fmt.Errorf("setting seed credential: %w", err)
	}

	logger.Warn("seed owner account created",
		"username", SeedUsername,
		"password", res.Password,
		"elevation_credential", res.Credential,
		"action_required", "change both secrets immediately",
	)
	return res, nil
}
