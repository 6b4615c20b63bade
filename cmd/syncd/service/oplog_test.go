package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpStore is an in-memory OperationStore keyed by account
type fakeOpStore struct {
	mu  sync.Mutex
	ops map[string][]models.Operation

	insertErr error
}

func newFakeOpStore() *fakeOpStore {
	return &fakeOpStore{ops: make(map[string][]models.Operation)}
}

func (f *fakeOpStore) Insert(_ context.Context, op *models.Operation) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[op.AccountID] = append(f.ops[op.AccountID], *op)
	return nil
}

func (f *fakeOpStore) ExistsHash(_ context.Context, accountID, contentHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range f.ops[accountID] {
		if op.ContentHash == contentHash {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOpStore) MaxSequence(_ context.Context, accountID, actorID string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max uint64
	for _, op := range f.ops[accountID] {
		if op.ActorID == actorID && op.SequenceNumber > max {
			max = op.SequenceNumber
		}
	}
	return max, nil
}

func (f *fakeOpStore) SequenceHash(_ context.Context, accountID, actorID string, seq uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range f.ops[accountID] {
		if op.ActorID == actorID && op.SequenceNumber == seq {
			return op.ContentHash, nil
		}
	}
	return "", nil
}

func (f *fakeOpStore) ListSince(_ context.Context, accountID, afterOpID string, limit int) ([]models.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ordered := append([]models.Operation(nil), f.ops[accountID]...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].OpID < ordered[j].OpID })

	var out []models.Operation
	for _, op := range ordered {
		if op.OpID > afterOpID {
			out = append(out, op)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeOpStore) CountSince(_ context.Context, accountID, afterOpID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, op := range f.ops[accountID] {
		if op.OpID > afterOpID {
			count++
		}
	}
	return count, nil
}

// recordingPublisher captures fan-out calls
type recordingPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *recordingPublisher) PublishOperation(_ context.Context, _, _ string, op *models.Operation) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, op.OpID)
	return nil
}

func testLog() *logger.Logger {
	return logger.New("error", "json")
}

func makeOp(t *testing.T, actor string, seq uint64, entityID, field, value string) *models.Operation {
	t.Helper()
	op := &models.Operation{
		ActorID:        actor,
		SequenceNumber: seq,
		Payload: models.FieldMutation{
			EntityKind: models.KindBookmark,
			EntityID:   entityID,
			Op:         models.MutationSet,
			Field:      field,
			Value:      json.RawMessage(fmt.Sprintf("%q", value)),
			LogicalTS:  time.Now().UnixMilli(),
		},
		CreatedAt: time.Now().UTC(),
	}
	hash, err := op.ComputeHash()
	require.NoError(t, err)
	op.ContentHash = hash
	return op
}

func makeEntityOp(t *testing.T, actor string, seq uint64, entityID string, ts int64) *models.Operation {
	t.Helper()
	op := &models.Operation{
		ActorID:        actor,
		SequenceNumber: seq,
		Payload: models.FieldMutation{
			EntityKind: models.KindBookmark,
			EntityID:   entityID,
			Op:         models.MutationEntity,
			Value:      json.RawMessage(`{"url":"https://example.com","title":"Example"}`),
			LogicalTS:  ts,
		},
		CreatedAt: time.Now().UTC(),
	}
	hash, err := op.ComputeHash()
	require.NoError(t, err)
	op.ContentHash = hash
	return op
}

func TestAppend_AssignsIncreasingOpIDs(t *testing.T) {
	store := newFakeOpStore()
	svc := NewOpLogService(store, nil, testLog())
	ctx := context.Background()

	var last string
	for seq := uint64(1); seq <= 5; seq++ {
		op := makeOp(t, "device-a", seq, "bm-1", "title", fmt.Sprintf("v%d", seq))
		res, err := svc.Append(ctx, "acct-1", "device-a", op)
		require.NoError(t, err)
		assert.Equal(t, Accepted, res.Status)
		assert.Greater(t, res.OpID, last)
		last = res.OpID
	}
}

func TestAppend_DuplicateHashIsSuccess(t *testing.T) {
	store := newFakeOpStore()
	pub := &recordingPublisher{}
	svc := NewOpLogService(store, pub, testLog())
	ctx := context.Background()

	op := makeOp(t, "device-a", 1, "bm-1", "title", "once")

	res, err := svc.Append(ctx, "acct-1", "device-a", op)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res.Status)

	// Re-submission after a lost ack must not duplicate or re-publish
	res, err = svc.Append(ctx, "acct-1", "device-a", op)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Status)
	assert.Len(t, store.ops["acct-1"], 1)
	assert.Len(t, pub.published, 1)
}

func TestAppend_SequenceGapRejected(t *testing.T) {
	store := newFakeOpStore()
	svc := NewOpLogService(store, nil, testLog())
	ctx := context.Background()

	op := makeOp(t, "device-a", 1, "bm-1", "title", "first")
	_, err := svc.Append(ctx, "acct-1", "device-a", op)
	require.NoError(t, err)

	// Jumping from 1 to 3 means the device lost state
	gap := makeOp(t, "device-a", 3, "bm-1", "title", "third")
	_, err = svc.Append(ctx, "acct-1", "device-a", gap)
	require.ErrorIs(t, err, models.ErrSequenceGap)
	assert.Len(t, store.ops["acct-1"], 1)
}

func TestAppend_SequenceReuseWithNewContentRejected(t *testing.T) {
	store := newFakeOpStore()
	svc := NewOpLogService(store, nil, testLog())
	ctx := context.Background()

	op := makeOp(t, "device-a", 1, "bm-1", "title", "original")
	_, err := svc.Append(ctx, "acct-1", "device-a", op)
	require.NoError(t, err)

	reused := makeOp(t, "device-a", 1, "bm-1", "title", "rewritten")
	_, err = svc.Append(ctx, "acct-1", "device-a", reused)
	require.ErrorIs(t, err, models.ErrSequenceGap)
	// The rejection names the hash already accepted for that sequence
	assert.ErrorContains(t, err, op.ContentHash)
}

func TestAppend_InsertRaceResolvesToDuplicate(t *testing.T) {
	store := newFakeOpStore()
	store.insertErr = models.ErrDuplicateOperation
	pub := &recordingPublisher{}
	svc := NewOpLogService(store, pub, testLog())

	// Another node won the insert between the hash check and ours
	op := makeOp(t, "device-a", 1, "bm-1", "title", "raced")
	res, err := svc.Append(context.Background(), "acct-1", "device-a", op)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Status)
	assert.Empty(t, pub.published)
}

func TestAppend_MalformedRejected(t *testing.T) {
	store := newFakeOpStore()
	svc := NewOpLogService(store, nil, testLog())
	ctx := context.Background()

	op := makeOp(t, "device-a", 1, "bm-1", "title", "ok")
	op.ContentHash = "sha256:tampered"
	_, err := svc.Append(ctx, "acct-1", "device-a", op)
	require.ErrorIs(t, err, models.ErrMalformedOperation)

	bad := makeOp(t, "device-a", 1, "bm-1", "title", "ok")
	bad.Payload.Field = "color"
	hash, err := bad.ComputeHash()
	require.NoError(t, err)
	bad.ContentHash = hash
	_, err = svc.Append(ctx, "acct-1", "device-a", bad)
	require.ErrorIs(t, err, models.ErrMalformedOperation)

	assert.Empty(t, store.ops["acct-1"])
}

func TestAppend_IndependentActorsInterleave(t *testing.T) {
	store := newFakeOpStore()
	svc := NewOpLogService(store, nil, testLog())
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		a := makeOp(t, "device-a", seq, "bm-1", "title", fmt.Sprintf("a%d", seq))
		_, err := svc.Append(ctx, "acct-1", "device-a", a)
		require.NoError(t, err)

		b := makeOp(t, "device-b", seq, "bm-2", "title", fmt.Sprintf("b%d", seq))
		_, err = svc.Append(ctx, "acct-1", "device-b", b)
		require.NoError(t, err)
	}

	assert.Len(t, store.ops["acct-1"], 6)
}

func TestAppend_PublishFailureDoesNotFailAppend(t *testing.T) {
	store := newFakeOpStore()
	pub := &recordingPublisher{err: fmt.Errorf("redis down")}
	svc := NewOpLogService(store, pub, testLog())

	op := makeOp(t, "device-a", 1, "bm-1", "title", "survives")
	res, err := svc.Append(context.Background(), "acct-1", "device-a", op)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res.Status)
}

func TestOperationsSince_Pagination(t *testing.T) {
	store := newFakeOpStore()
	svc := NewOpLogService(store, nil, testLog())
	ctx := context.Background()

	for seq := uint64(1); seq <= 7; seq++ {
		op := makeOp(t, "device-a", seq, "bm-1", "notes", fmt.Sprintf("n%d", seq))
		_, err := svc.Append(ctx, "acct-1", "device-a", op)
		require.NoError(t, err)
	}

	// Empty cursor means never synced: pagination starts at the beginning
	cursor := ""
	var seen []uint64
	for {
		batch, err := svc.OperationsSince(ctx, "acct-1", cursor, 3)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, op := range batch {
			seen = append(seen, op.SequenceNumber)
		}
		cursor = batch[len(batch)-1].OpID
	}

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, seen)

	backlog, err := svc.Backlog(ctx, "acct-1", cursor)
	require.NoError(t, err)
	assert.Zero(t, backlog)
}
