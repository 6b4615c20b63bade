package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
	"github.com/oklog/ulid/v2"
)

// OperationStore is the durable operation log contract
type OperationStore interface {
	Insert(ctx context.Context, op *models.Operation) error
	ExistsHash(ctx context.Context, accountID, contentHash string) (bool, error)
	MaxSequence(ctx context.Context, accountID, actorID string) (uint64, error)
	SequenceHash(ctx context.Context, accountID, actorID string, seq uint64) (string, error)
	ListSince(ctx context.Context, accountID, afterOpID string, limit int) ([]models.Operation, error)
	CountSince(ctx context.Context, accountID, afterOpID string) (int, error)
}

// Publisher fans an accepted operation out to the account's other devices
type Publisher interface {
	PublishOperation(ctx context.Context, accountID, originDevice string, op *models.Operation) error
}

// AppendStatus is the outcome of an append
type AppendStatus int

const (
	// Accepted: the operation is new and now part of the log
	Accepted AppendStatus = iota
	// Duplicate: the content hash was already present. Not an error;
	// callers must treat it as success.
	Duplicate
)

// AppendResult reports an append outcome plus the acceptance id
type AppendResult struct {
	Status AppendStatus
	OpID   string
}

// OpLogService owns the append path of the operation log: validation,
// hash dedup, per-actor gap detection, acceptance id assignment and
// fan-out of accepted operations.
type OpLogService struct {
	store     OperationStore
	publisher Publisher
	locks     *accountLocks
	log       *logger.Logger

	// Per-account monotonic ULID entropy so acceptance ids are strictly
	// increasing within an account even in the same millisecond
	entropyMu sync.Mutex
	entropy   map[string]*ulid.MonotonicEntropy
}

// NewOpLogService creates a new operation log service
func NewOpLogService(store OperationStore, publisher Publisher, log *logger.Logger) *OpLogService {
	return &OpLogService{
		store:     store,
		publisher: publisher,
		locks:     newAccountLocks(),
		log:       log,
		entropy:   make(map[string]*ulid.MonotonicEntropy),
	}
}

// Append validates and appends one operation for an account.
//
// Returns Duplicate (success) when the content hash is already present.
// Returns ErrSequenceGap when the actor's sequence number skips ahead of
// the last accepted one, or reuses a sequence number with different
// content; the caller must request a resync from the device.
func (s *OpLogService) Append(ctx context.Context, accountID, originDevice string, op *models.Operation) (*AppendResult, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	// Idempotent replay: an already-known hash resolves to success
	exists, err := s.store.ExistsHash(ctx, accountID, op.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if exists {
		s.log.Debug("duplicate operation", "account_id", accountID, "content_hash", op.ContentHash)
		return &AppendResult{Status: Duplicate}, nil
	}

	// Gap detection: sequence numbers per actor are gap-free. A skip means
	// the device lost local state; never heal it by guessing.
	maxSeq, err := s.store.MaxSequence(ctx, accountID, op.ActorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	switch {
	case op.SequenceNumber > maxSeq+1:
		return nil, fmt.Errorf("%w: actor %s jumped from %d to %d",
			models.ErrSequenceGap, op.ActorID, maxSeq, op.SequenceNumber)

	case op.SequenceNumber <= maxSeq:
		// The hash check above missed, so the device rewrote an already
		// accepted sequence number with different content
		prior, err := s.store.SequenceHash(ctx, accountID, op.ActorID, op.SequenceNumber)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
		}
		return nil, fmt.Errorf("%w: actor %s rewrote sequence %d (%s is already accepted)",
			models.ErrSequenceGap, op.ActorID, op.SequenceNumber, prior)
	}

	now := time.Now().UTC()
	accepted := *op
	accepted.AccountID = accountID
	accepted.OpID = s.nextOpID(accountID, now)
	accepted.AcceptedAt = now
	if accepted.CreatedAt.IsZero() {
		accepted.CreatedAt = now
	}

	if err := s.store.Insert(ctx, &accepted); err != nil {
		if errors.Is(err, models.ErrDuplicateOperation) {
			// Another node accepted the same content between the hash
			// check and the insert; the account lock is per-process
			s.log.Debug("duplicate operation on insert", "account_id", accountID, "content_hash", op.ContentHash)
			return &AppendResult{Status: Duplicate}, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.log.Debug("operation accepted",
		"account_id", accountID,
		"op_id", accepted.OpID,
		"actor_id", accepted.ActorID,
		"sequence", accepted.SequenceNumber,
	)

	if s.publisher != nil {
		// Fan-out is best-effort; catch-up covers any missed delivery
		if err := s.publisher.PublishOperation(ctx, accountID, originDevice, &accepted); err != nil {
			s.log.Warn("operation fan-out failed", "account_id", accountID, "op_id", accepted.OpID, "error", err)
		}
	}

	return &AppendResult{Status: Accepted, OpID: accepted.OpID}, nil
}

// OperationsSince returns a batch of operations accepted after the cursor,
// in acceptance order. Restartable: callers advance the cursor per batch.
func (s *OpLogService) OperationsSince(ctx context.Context, accountID, cursor string, limit int) ([]models.Operation, error) {
	ops, err := s.store.ListSince(ctx, accountID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return ops, nil
}

// Backlog counts operations accepted after the cursor
func (s *OpLogService) Backlog(ctx context.Context, accountID, cursor string) (int, error) {
	count, err := s.store.CountSince(ctx, accountID, cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return count, nil
}

// nextOpID mints the account's next acceptance id. Called under the
// account lock, so ids form a strict total order per account.
func (s *OpLogService) nextOpID(accountID string, now time.Time) string {
	s.entropyMu.Lock()
	entropy, ok := s.entropy[accountID]
	if !ok {
		entropy = ulid.Monotonic(rand.Reader, 0)
		s.entropy[accountID] = entropy
	}
	s.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
