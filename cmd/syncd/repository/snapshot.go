package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/linkvault/syncd/common/db"
	"github.com/linkvault/syncd/common/models"
)

// SnapshotRepository handles database operations for snapshots
type SnapshotRepository struct {
	db *db.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *db.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create inserts a new snapshot
func (r *SnapshotRepository) Create(ctx context.Context, snap *models.Snapshot) error {
	query := `
		INSERT INTO snapshot (snapshot_id, account_id, snapshot_data, last_op_id, entity_count, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		snap.SnapshotID,
		snap.AccountID,
		snap.Data,
		snap.LastOpID,
		snap.EntityCount,
		snap.SizeBytes,
		snap.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	return nil
}

// Latest returns the most recent snapshot for an account, nil when none exists
func (r *SnapshotRepository) Latest(ctx context.Context, accountID string) (*models.Snapshot, error) {
	query := `
		SELECT snapshot_id, account_id, snapshot_data, last_op_id, entity_count, size_bytes, created_at
		FROM snapshot
		WHERE account_id = $1
		ORDER BY last_op_id DESC
		LIMIT 1
	`

	snap := &models.Snapshot{}
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&snap.SnapshotID,
		&snap.AccountID,
		&snap.Data,
		&snap.LastOpID,
		&snap.EntityCount,
		&snap.SizeBytes,
		&snap.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return snap, nil
}

// ListByAccount returns all snapshots for an account, newest first,
// without their data blobs
func (r *SnapshotRepository) ListByAccount(ctx context.Context, accountID string) ([]models.Snapshot, error) {
	query := `
		SELECT snapshot_id, account_id, last_op_id, entity_count, size_bytes, created_at
		FROM snapshot
		WHERE account_id = $1
		ORDER BY last_op_id DESC
	`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		var snap models.Snapshot
		err := rows.Scan(
			&snap.SnapshotID,
			&snap.AccountID,
			&snap.LastOpID,
			&snap.EntityCount,
			&snap.SizeBytes,
			&snap.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// Delete removes snapshots by id
func (r *SnapshotRepository) Delete(ctx context.Context, snapshotIDs []string) error {
	if len(snapshotIDs) == 0 {
		return nil
	}

	query := `DELETE FROM snapshot WHERE snapshot_id = ANY($1)`

	_, err := r.db.Exec(ctx, query, snapshotIDs)
	if err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}

	return nil
}
