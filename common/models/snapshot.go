package models

import "time"

// Snapshot is a materialized document state plus the id of the last
// operation it incorporates. Bounds replay cost for new or long-offline
// devices. Multiple snapshots may exist per account; retention keeps the
// most recent N.
// Maps to: snapshot table
type Snapshot struct {
	SnapshotID string `db:"snapshot_id" json:"snapshot_id"`
	AccountID  string `db:"account_id" json:"account_id"`

	// Deterministic JSON encoding of the materialized document
	Data []byte `db:"snapshot_data" json:"-"`

	// Acceptance id of the last operation folded in
	LastOpID string `db:"last_op_id" json:"last_op_id"`

	EntityCount int       `db:"entity_count" json:"entity_count"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
