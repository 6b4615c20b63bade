package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linkvault/syncd/common/config"
	"github.com/linkvault/syncd/common/document"
	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
)

// SnapshotStore is the durable snapshot contract
type SnapshotStore interface {
	Create(ctx context.Context, snap *models.Snapshot) error
	Latest(ctx context.Context, accountID string) (*models.Snapshot, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.Snapshot, error)
	Delete(ctx context.Context, snapshotIDs []string) error
}

// CursorStore exposes device cursors for the retention guard
type CursorStore interface {
	MinCursor(ctx context.Context, accountID string) (string, bool, error)
}

// SnapshotLocker guards concurrent materialization attempts across nodes
type SnapshotLocker interface {
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
}

// SnapshotService bounds replay cost: it periodically materializes the
// document, prunes old snapshots under a retention cap, and rebuilds
// documents from snapshot + tail for catch-up and reads.
type SnapshotService struct {
	snaps   SnapshotStore
	ops     OperationStore
	cursors CursorStore
	locker  SnapshotLocker
	cfg     config.SyncConfig
	log     *logger.Logger
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(
	snaps SnapshotStore,
	ops OperationStore,
	cursors CursorStore,
	locker SnapshotLocker,
	cfg config.SyncConfig,
	log *logger.Logger,
) *SnapshotService {
	return &SnapshotService{
		snaps:   snaps,
		ops:     ops,
		cursors: cursors,
		locker:  locker,
		cfg:     cfg,
		log:     log,
	}
}

// LoadDocument rebuilds the account's canonical document: latest snapshot
// plus replay of the tail, in acceptance order. Returns the document and
// the acceptance id of the last operation folded in.
//
// An undecodable snapshot degrades to full-log replay rather than failing.
func (s *SnapshotService) LoadDocument(ctx context.Context, accountID string) (*document.Document, string, error) {
	doc := document.New().WithLogger(s.log)
	cursor := ""

	snap, err := s.snaps.Latest(ctx, accountID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if snap != nil {
		restored, err := document.Decode(snap.Data)
		if err != nil {
			s.log.Error("snapshot undecodable, degrading to full replay",
				"account_id", accountID, "snapshot_id", snap.SnapshotID, "error", err)
		} else {
			doc = restored.WithLogger(s.log)
			cursor = snap.LastOpID
		}
	}

	for {
		ops, err := s.ops.ListSince(ctx, accountID, cursor, s.cfg.CatchupBatchSize)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
		}
		if len(ops) == 0 {
			break
		}

		doc.Replay(ops)
		cursor = ops[len(ops)-1].OpID

		if len(ops) < s.cfg.CatchupBatchSize {
			break
		}
	}

	return doc, cursor, nil
}

// Materialize produces a new snapshot of the account's document.
// Idempotent: re-running for the same log position yields byte-identical
// snapshot data, because replay order and encoding are deterministic.
func (s *SnapshotService) Materialize(ctx context.Context, accountID string) (*models.Snapshot, error) {
	doc, lastOpID, err := s.LoadDocument(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSnapshotMaterialization, err)
	}

	if lastOpID == "" {
		return nil, fmt.Errorf("%w: account %s has no operations", models.ErrSnapshotMaterialization, accountID)
	}

	// Tombstones past the retention window are folded away here; every
	// operation that could revive them is already in this snapshot
	pruned := doc.PruneTombstones(time.Now().UTC().Add(-s.cfg.TombstoneRetention))
	if pruned > 0 {
		s.log.Info("pruned expired tombstones", "account_id", accountID, "count", pruned)
	}

	data, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSnapshotMaterialization, err)
	}

	snap := &models.Snapshot{
		SnapshotID:  uuid.NewString(),
		AccountID:   accountID,
		Data:        data,
		LastOpID:    lastOpID,
		EntityCount: doc.EntityCount(),
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.snaps.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSnapshotMaterialization, err)
	}

	s.log.Info("snapshot materialized",
		"account_id", accountID,
		"snapshot_id", snap.SnapshotID,
		"last_op_id", snap.LastOpID,
		"entities", snap.EntityCount,
		"size_bytes", snap.SizeBytes,
	)

	if err := s.Prune(ctx, accountID); err != nil {
		s.log.Warn("snapshot pruning failed", "account_id", accountID, "error", err)
	}

	return snap, nil
}

// MaybeSnapshot materializes when the backlog since the last snapshot
// crosses the threshold. Failures are logged and never block operation
// acceptance; catch-up degrades to fuller replay until the next attempt.
func (s *SnapshotService) MaybeSnapshot(ctx context.Context, accountID string) {
	snap, err := s.snaps.Latest(ctx, accountID)
	if err != nil {
		s.log.Warn("snapshot check failed", "account_id", accountID, "error", err)
		return
	}

	cursor := ""
	if snap != nil {
		cursor = snap.LastOpID
	}

	backlog, err := s.ops.CountSince(ctx, accountID, cursor)
	if err != nil {
		s.log.Warn("snapshot check failed", "account_id", accountID, "error", err)
		return
	}

	if backlog < s.cfg.SnapshotThreshold {
		return
	}

	if s.locker != nil {
		// One materialization attempt at a time across nodes
		acquired, err := s.locker.SetNX(ctx, "snapshot:lock:"+accountID, "1", time.Minute)
		if err != nil || !acquired {
			return
		}
	}

	if _, err := s.Materialize(ctx, accountID); err != nil {
		s.log.Error("snapshot materialization failed", "account_id", accountID, "error", err)
	}
}

// Prune enforces the retention cap. A snapshot beyond the cap survives if
// any device cursor is still below its log position: that device may need
// it for catch-up, so the account keeps the snapshot instead.
func (s *SnapshotService) Prune(ctx context.Context, accountID string) error {
	snaps, err := s.snaps.ListByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	if len(snaps) <= s.cfg.SnapshotRetention {
		return nil
	}

	minCursor, hasDevices, err := s.cursors.MinCursor(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	var prunable []string
	for _, snap := range snaps[s.cfg.SnapshotRetention:] {
		if hasDevices && snap.LastOpID > minCursor {
			s.log.Debug("snapshot retained for lagging device",
				"account_id", accountID, "snapshot_id", snap.SnapshotID)
			continue
		}
		prunable = append(prunable, snap.SnapshotID)
	}

	if len(prunable) == 0 {
		return nil
	}

	if err := s.snaps.Delete(ctx, prunable); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.log.Info("snapshots pruned", "account_id", accountID, "count", len(prunable))
	return nil
}
