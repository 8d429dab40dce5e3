package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_records (
    owner_id                        TEXT PRIMARY KEY,
    device_id                       TEXT,
    start_time                      BIGINT NOT NULL DEFAULT 0,
    end_time                        BIGINT NOT NULL DEFAULT 0,
    active                          BOOLEAN NOT NULL DEFAULT FALSE,
    transfer_requested              BOOLEAN NOT NULL DEFAULT FALSE,
    transfer_requested_by_device_id TEXT,
    transferred_from_device_id      TEXT,
    version                         BIGINT NOT NULL DEFAULT 1,
    updated_at                      TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps records in PostgreSQL for multi-instance deployments.
//
// Update runs in one transaction that first takes a transaction-scoped
// advisory lock on the owner ID, then selects the row FOR UPDATE. The
// advisory lock covers the no-row case, where FOR UPDATE has nothing to
// lock and two first Starts could otherwise both insert.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the session_records table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating session_records: %w", err)
	}
	return nil
}

// Get returns the identity's record.
func (s *PostgresStore) Get(ctx context.Context, ownerID string) (*Record, error) {
	rec, err := scanPgRecord(s.pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM session_records WHERE owner_id = $1", ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying session record: %w", err)
	}
	return rec, nil
}

// Update applies fn inside a locked transaction.
func (s *PostgresStore) Update(ctx context.Context, ownerID string, fn MutateFunc) (*Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning session transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", ownerID); err != nil {
		return nil, fmt.Errorf("locking session record: %w", err)
	}

	cur, err := scanPgRecord(tx.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM session_records WHERE owner_id = $1 FOR UPDATE", ownerID))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("selecting session record: %w", err)
		}
		cur = nil
	}

	next := fn(cur.Clone())
	if next == nil {
		return cur, nil
	}
	next.OwnerID = ownerID
	next.Version = 1
	if cur != nil {
		next.Version = cur.Version + 1
	}
	next.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`INSERT INTO session_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (owner_id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			active = EXCLUDED.active,
			transfer_requested = EXCLUDED.transfer_requested,
			transfer_requested_by_device_id = EXCLUDED.transfer_requested_by_device_id,
			transferred_from_device_id = EXCLUDED.transferred_from_device_id,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		next.OwnerID, pgText(next.DeviceID), next.StartTime.UnixMilli(), next.EndTime.UnixMilli(),
		next.Active, next.TransferRequested, pgText(next.TransferRequestedByDeviceID),
		pgText(next.TransferredFromDeviceID), next.Version, next.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("writing session record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing session record: %w", err)
	}
	return next, nil
}

func scanPgRecord(row pgx.Row) (*Record, error) {
	var (
		rec                                    Record
		deviceID, requestedBy, transferredFrom *string
		startMS, endMS                         int64
	)
	err := row.Scan(&rec.OwnerID, &deviceID, &startMS, &endMS, &rec.Active,
		&rec.TransferRequested, &requestedBy, &transferredFrom,
		&rec.Version, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.DeviceID = deref(deviceID)
	rec.TransferRequestedByDeviceID = deref(requestedBy)
	rec.TransferredFromDeviceID = deref(transferredFrom)
	rec.StartTime = time.UnixMilli(startMS).UTC()
	rec.EndTime = time.UnixMilli(endMS).UTC()
	return &rec, nil
}

func pgText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
