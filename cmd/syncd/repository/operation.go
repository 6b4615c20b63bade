package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/linkvault/syncd/common/db"
	"github.com/linkvault/syncd/common/models"
)

// OperationRepository handles database operations for the operation log
type OperationRepository struct {
	db *db.DB
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *db.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// Insert appends an accepted operation. The caller holds the account's
// serialization point; dedup and gap checks happen before this call.
func (r *OperationRepository) Insert(ctx context.Context, op *models.Operation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO operation (op_id, account_id, actor_id, sequence_number, content_hash, payload, created_at, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (content_hash) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query,
		op.OpID,
		op.AccountID,
		op.ActorID,
		op.SequenceNumber,
		op.ContentHash,
		payload,
		op.CreatedAt,
		op.AcceptedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	// The conflict target swallowed the row: another node accepted the
	// same content first
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: content hash %s", models.ErrDuplicateOperation, op.ContentHash)
	}

	return nil
}

// ExistsHash checks whether a content hash is already present in the log
func (r *OperationRepository) ExistsHash(ctx context.Context, accountID, contentHash string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM operation WHERE account_id = $1 AND content_hash = $2)`

	var exists bool
	err := r.db.QueryRow(ctx, query, accountID, contentHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check operation existence: %w", err)
	}

	return exists, nil
}

// MaxSequence returns the highest accepted sequence number for an actor
// (0 when the actor has no operations yet)
func (r *OperationRepository) MaxSequence(ctx context.Context, accountID, actorID string) (uint64, error) {
	query := `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM operation
		WHERE account_id = $1 AND actor_id = $2
	`

	var max uint64
	err := r.db.QueryRow(ctx, query, accountID, actorID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max sequence: %w", err)
	}

	return max, nil
}

// SequenceHash returns the content hash stored for an (actor, sequence)
// pair, or "" when the pair is unknown
func (r *OperationRepository) SequenceHash(ctx context.Context, accountID, actorID string, seq uint64) (string, error) {
	query := `
		SELECT content_hash FROM operation
		WHERE account_id = $1 AND actor_id = $2 AND sequence_number = $3
	`

	var hash string
	err := r.db.QueryRow(ctx, query, accountID, actorID, seq).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get sequence hash: %w", err)
	}

	return hash, nil
}

// ListSince returns up to limit operations accepted after the cursor,
// ordered by acceptance id. The empty cursor sorts before every real id,
// so it yields the log from the beginning.
func (r *OperationRepository) ListSince(ctx context.Context, accountID, afterOpID string, limit int) ([]models.Operation, error) {
	query := `
		SELECT op_id, account_id, actor_id, sequence_number, content_hash, payload, created_at, accepted_at
		FROM operation
		WHERE account_id = $1 AND op_id > $2
		ORDER BY op_id
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, accountID, afterOpID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var op models.Operation
		var payload []byte
		err := rows.Scan(
			&op.OpID,
			&op.AccountID,
			&op.ActorID,
			&op.SequenceNumber,
			&op.ContentHash,
			&payload,
			&op.CreatedAt,
			&op.AcceptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		if err := json.Unmarshal(payload, &op.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", op.OpID, err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// CountSince counts operations accepted after the cursor
func (r *OperationRepository) CountSince(ctx context.Context, accountID, afterOpID string) (int, error) {
	query := `SELECT COUNT(*) FROM operation WHERE account_id = $1 AND op_id > $2`

	var count int
	err := r.db.QueryRow(ctx, query, accountID, afterOpID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}

	return count, nil
}
