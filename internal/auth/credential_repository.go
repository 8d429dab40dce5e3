package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CredentialRepository stores hashed elevation credentials, one per user.
//
// The elevation credential is a second secret, separate from the login
// password, that must be re-entered to start, end, or transfer an elevated
// session. Only its Argon2id hash is persisted.
type CredentialRepository interface {
	Set(ctx context.Context, userID, secretHash string) error
	GetHash(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

// SQLiteCredentialRepository implements CredentialRepository on the
// elevation_credentials table.
type SQLiteCredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new SQLite-backed credential repository.
func NewCredentialRepository(db *sql.DB) *SQLiteCredentialRepository {
	return &SQLiteCredentialRepository{db: db}
}

// Set stores or replaces the credential hash for a user.
func (r *SQLiteCredentialRepository) Set(ctx context.Context, userID, secretHash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO elevation_credentials (user_id, secret_hash, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET secret_hash = excluded.secret_hash, updated_at = excluded.updated_at`,
		userID, secretHash, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("setting elevation credential: %w", err)
	}
	return nil
}

// GetHash returns the stored hash, or ErrCredentialNotSet.
func (r *SQLiteCredentialRepository) GetHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		"SELECT secret_hash FROM elevation_credentials WHERE user_id = ?", userID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCredentialNotSet
		}
		return "", fmt.Errorf("reading elevation credential: %w", err)
	}
	return hash, nil
}

// Delete removes a user's credential. Deleting a missing credential is not an error.
func (r *SQLiteCredentialRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM elevation_credentials WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("deleting elevation credential: %w", err)
	}
	return nil
}
