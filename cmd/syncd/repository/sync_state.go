package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/linkvault/syncd/common/db"
	"github.com/linkvault/syncd/common/models"
)

// SyncStateRepository handles the per-(account, device) cursor rows
type SyncStateRepository struct {
	db *db.DB
}

// NewSyncStateRepository creates a new sync state repository
func NewSyncStateRepository(db *db.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Upsert records the last operation id delivered to a device. The cursor
// only moves forward; a concurrent older write is ignored.
func (r *SyncStateRepository) Upsert(ctx context.Context, accountID, deviceID, lastOpID string) error {
	query := `
		INSERT INTO sync_state (account_id, device_id, last_op_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, device_id) DO UPDATE
		SET last_op_id = EXCLUDED.last_op_id, updated_at = EXCLUDED.updated_at
		WHERE sync_state.last_op_id < EXCLUDED.last_op_id
	`

	_, err := r.db.Exec(ctx, query, accountID, deviceID, lastOpID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}

	return nil
}

// Get returns a device's cursor, nil when the device has never synced
func (r *SyncStateRepository) Get(ctx context.Context, accountID, deviceID string) (*models.SyncState, error) {
	query := `
		SELECT account_id, device_id, last_op_id, updated_at
		FROM sync_state
		WHERE account_id = $1 AND device_id = $2
	`

	state := &models.SyncState{}
	err := r.db.QueryRow(ctx, query, accountID, deviceID).Scan(
		&state.AccountID,
		&state.DeviceID,
		&state.LastOpID,
		&state.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	return state, nil
}

// ListByAccount returns cursors for all of an account's devices
func (r *SyncStateRepository) ListByAccount(ctx context.Context, accountID string) ([]models.SyncState, error) {
	query := `
		SELECT account_id, device_id, last_op_id, updated_at
		FROM sync_state
		WHERE account_id = $1
		ORDER BY device_id
	`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}
	defer rows.Close()

	var states []models.SyncState
	for rows.Next() {
		var state models.SyncState
		err := rows.Scan(&state.AccountID, &state.DeviceID, &state.LastOpID, &state.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync states: %w", err)
	}

	return states, nil
}

// MinCursor returns the lowest device cursor for an account. Used by
// snapshot retention: a snapshot above a device's cursor may still be
// needed for that device's catch-up.
func (r *SyncStateRepository) MinCursor(ctx context.Context, accountID string) (string, bool, error) {
	query := `SELECT COALESCE(MIN(last_op_id), ''), COUNT(*) FROM sync_state WHERE account_id = $1`

	var min string
	var count int
	err := r.db.QueryRow(ctx, query, accountID).Scan(&min, &count)
	if err != nil {
		return "", false, fmt.Errorf("failed to get min cursor: %w", err)
	}

	return min, count > 0, nil
}
