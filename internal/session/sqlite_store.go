package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxCASAttempts bounds SQLiteStore retries when none is configured.
const DefaultMaxCASAttempts = 8

const recordColumns = `owner_id, device_id, start_time, end_time, active,
	transfer_requested, transfer_requested_by_device_id, transferred_from_device_id,
	version, updated_at`

// SQLiteStore keeps records in the session_records table.
//
// Update is an optimistic compare-and-set: read the row with its version,
// compute the next state, then write only if the version is unchanged.
// A lost race re-reads and re-runs the mutation, up to maxAttempts times.
type SQLiteStore struct {
	db          *sql.DB
	maxAttempts int

	// onRetry is called after each lost compare-and-set. Used for metrics.
	onRetry func()
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB, maxAttempts int) *SQLiteStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxCASAttempts
	}
	return &SQLiteStore{db: db, maxAttempts: maxAttempts}
}

// SetOnRetry registers a callback invoked on every compare-and-set retry.
func (s *SQLiteStore) SetOnRetry(fn func()) {
	s.onRetry = fn
}

// Get returns the identity's record.
func (s *SQLiteStore) Get(ctx context.Context, ownerID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM session_records WHERE owner_id = ?", ownerID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying session record: %w", err)
	}
	return rec, nil
}

// Update applies fn with compare-and-set on the version column.
func (s *SQLiteStore) Update(ctx context.Context, ownerID string, fn MutateFunc) (*Record, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		cur, err := s.Get(ctx, ownerID)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}

		next := fn(cur.Clone())
		if next == nil {
			return cur, nil
		}
		next.OwnerID = ownerID
		next.UpdatedAt = time.Now().UTC()

		var won bool
		if cur == nil {
			next.Version = 1
			won, err = s.insert(ctx, next)
		} else {
			next.Version = cur.Version + 1
			won, err = s.swap(ctx, next, cur.Version)
		}
		if err != nil {
			return nil, err
		}
		if won {
			return next, nil
		}
		if s.onRetry != nil {
			s.onRetry()
		}
	}
	return nil, fmt.Errorf("%w: %d attempts for %s", ErrConcurrentUpdate, s.maxAttempts, ownerID)
}

func (s *SQLiteStore) insert(ctx context.Context, rec *Record) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO session_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id) DO NOTHING`,
		rec.OwnerID, nullable(rec.DeviceID),
		rec.StartTime.UnixMilli(), rec.EndTime.UnixMilli(), boolToInt(rec.Active),
		boolToInt(rec.TransferRequested), nullable(rec.TransferRequestedByDeviceID),
		nullable(rec.TransferredFromDeviceID),
		rec.Version, rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("inserting session record: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStore) swap(ctx context.Context, rec *Record, expectVersion int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE session_records SET
			device_id = ?, start_time = ?, end_time = ?, active = ?,
			transfer_requested = ?, transfer_requested_by_device_id = ?,
			transferred_from_device_id = ?, version = ?, updated_at = ?
		 WHERE owner_id = ? AND version = ?`,
		nullable(rec.DeviceID), rec.StartTime.UnixMilli(), rec.EndTime.UnixMilli(),
		boolToInt(rec.Active), boolToInt(rec.TransferRequested),
		nullable(rec.TransferRequestedByDeviceID), nullable(rec.TransferredFromDeviceID),
		rec.Version, rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.OwnerID, expectVersion,
	)
	if err != nil {
		return false, fmt.Errorf("updating session record: %w", err)
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec                       Record
		deviceID, requestedBy     sql.NullString
		transferredFrom           sql.NullString
		startMS, endMS            int64
		active, transferRequested int
		updatedAt                 string
	)
	err := row.Scan(&rec.OwnerID, &deviceID, &startMS, &endMS, &active,
		&transferRequested, &requestedBy, &transferredFrom,
		&rec.Version, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.DeviceID = deviceID.String
	rec.StartTime = time.UnixMilli(startMS).UTC()
	rec.EndTime = time.UnixMilli(endMS).UTC()
	rec.Active = active != 0
	rec.TransferRequested = transferRequested != 0
	rec.TransferRequestedByDeviceID = requestedBy.String
	rec.TransferredFromDeviceID = transferredFrom.String
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
