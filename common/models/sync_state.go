package models

import "time"

// SyncState is the per-(account, device) cursor: the last operation id
// known to have been delivered to that device. One row per pair, upserted.
// Maps to: sync_state table
type SyncState struct {
	AccountID string `db:"account_id" json:"account_id"`
	DeviceID  string `db:"device_id" json:"device_id"`

	// Empty string means "never synced" and sorts before every real
	// acceptance id, so keyset catch-up needs no special case
	LastOpID string `db:"last_op_id" json:"last_op_id"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
