package models

import "errors"

// Error taxonomy for the sync engine. Matched with errors.Is; wrap with
// fmt.Errorf("...: %w", err) to add context.
var (
	// ErrDuplicateOperation is returned by storage when an insert finds the
	// operation's content hash already in the log (a cross-node race past
	// the fast dedup check). Callers must treat it as success.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrSequenceGap is returned when an actor's sequence number skips ahead.
	// Recoverable: the device must resync with a full cursor reset.
	ErrSequenceGap = errors.New("sequence gap detected")

	// ErrMalformedOperation is returned when a payload fails structural
	// validation. Rejected at the boundary, never appended.
	ErrMalformedOperation = errors.New("malformed operation")

	// ErrStorageUnavailable is returned on durable-storage failure.
	// Fatal for the current request; the caller retries with backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSnapshotMaterialization is returned when materialization fails.
	// Logged only; live operation acceptance is never blocked by it.
	ErrSnapshotMaterialization = errors.New("snapshot materialization failed")
)
