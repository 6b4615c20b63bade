package repository

import (
	"context"
	"fmt"

	"github.com/linkvault/syncd/common/db"
)

// Persisted records are append-only and bit-stable; schema changes must be
// additive.
const schema = `
CREATE TABLE IF NOT EXISTS operation (
	op_id           TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	actor_id        TEXT NOT NULL,
	sequence_number BIGINT NOT NULL,
	content_hash    TEXT NOT NULL UNIQUE,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	accepted_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (account_id, actor_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_operation_account_op ON operation (account_id, op_id);

CREATE TABLE IF NOT EXISTS snapshot (
	snapshot_id   TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL,
	snapshot_data BYTEA NOT NULL,
	last_op_id    TEXT NOT NULL,
	entity_count  INTEGER NOT NULL,
	size_bytes    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshot_account_created ON snapshot (account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS sync_state (
	account_id  TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	last_op_id  TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, device_id)
);
`

// EnsureSchema creates the sync engine tables if they don't exist.
// Wired as a bootstrap DB init hook.
func EnsureSchema(database *db.DB) error {
	if _, err := database.Exec(context.Background(), schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
