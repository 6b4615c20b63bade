package models

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Entity kinds a mutation may target
const (
	KindBookmark = "bookmark"
	KindFolder   = "folder"
)

// Mutation kinds
const (
	// MutationSet updates a single field (last-writer-wins per field)
	MutationSet = "set"
	// MutationEntity creates or upserts a whole entity; Value holds the
	// entity's fields as a JSON object applied field-wise at LogicalTS
	MutationEntity = "entity"
	// MutationTagAdd adds an element to a bookmark's tag set (add-wins)
	MutationTagAdd = "tag_add"
	// MutationTagRemove removes an element from a bookmark's tag set
	MutationTagRemove = "tag_remove"
)

// FieldMutation is the tagged, schema-validated unit of change.
// One mutation targets one entity and either a single field, the whole
// entity, or one tag-set element.
type FieldMutation struct {
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Op         string          `json:"op"`
	Field      string          `json:"field,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	LogicalTS  int64           `json:"logical_ts"`
}

// Operation is the unit of replication: one atomic, hashable, replayable
// mutation record. Immutable once accepted.
type Operation struct {
	// Server-assigned acceptance id (ULID). Empty until accepted.
	// Acceptance ids are the log's total order per account.
	OpID string `db:"op_id" json:"op_id,omitempty"`

	AccountID string `db:"account_id" json:"account_id,omitempty"`

	// Device identity within the log (distinct from account)
	ActorID string `db:"actor_id" json:"actor_id"`

	// Monotonically increasing per actor, gap-free
	SequenceNumber uint64 `db:"sequence_number" json:"sequence_number"`

	// sha256 over (actor, sequence, payload); unique across the whole log
	ContentHash string `db:"content_hash" json:"content_hash"`

	Payload FieldMutation `db:"payload" json:"payload"`

	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	AcceptedAt time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
}

// ComputeHash returns the deterministic content hash of the operation.
// The hash covers actor, sequence number and the canonical payload encoding,
// so re-submitting the same operation always produces the same hash.
func (o *Operation) ComputeHash() (string, error) {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(o.ActorID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatUint(o.SequenceNumber, 10)))
	h.Write([]byte{0})
	h.Write(payload)

	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

// Mutable fields per entity kind. Anything else fails validation.
var bookmarkFields = map[string]bool{
	"url": true, "title": true, "description": true, "folder_id": true,
	"notes": true, "domain": true, "favicon": true, "pinned": true,
	"deleted": true,
}

var folderFields = map[string]bool{
	"title": true, "parent_id": true, "deleted": true,
}

// Validate checks the mutation against the fixed per-kind schema.
// Returns ErrMalformedOperation (wrapped) on any structural problem.
func (m *FieldMutation) Validate() error {
	if m.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", ErrMalformedOperation)
	}
	if m.LogicalTS <= 0 {
		return fmt.Errorf("%w: missing logical timestamp", ErrMalformedOperation)
	}

	var fields map[string]bool
	switch m.EntityKind {
	case KindBookmark:
		fields = bookmarkFields
	case KindFolder:
		fields = folderFields
	default:
		return fmt.Errorf("%w: unknown entity kind %q", ErrMalformedOperation, m.EntityKind)
	}

	switch m.Op {
	case MutationSet:
		if !fields[m.Field] {
			return fmt.Errorf("%w: field %q not mutable on %s", ErrMalformedOperation, m.Field, m.EntityKind)
		}
		if len(m.Value) == 0 {
			return fmt.Errorf("%w: set requires a value", ErrMalformedOperation)
		}

	case MutationEntity:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(m.Value, &obj); err != nil {
			return fmt.Errorf("%w: entity value is not an object: %v", ErrMalformedOperation, err)
		}
		for field := range obj {
			if !fields[field] {
				return fmt.Errorf("%w: field %q not mutable on %s", ErrMalformedOperation, field, m.EntityKind)
			}
		}

	case MutationTagAdd, MutationTagRemove:
		if m.EntityKind != KindBookmark {
			return fmt.Errorf("%w: tag mutations apply to bookmarks only", ErrMalformedOperation)
		}
		var tag string
		if err := json.Unmarshal(m.Value, &tag); err != nil || tag == "" {
			return fmt.Errorf("%w: tag mutation requires a non-empty string value", ErrMalformedOperation)
		}

	default:
		return fmt.Errorf("%w: unknown mutation op %q", ErrMalformedOperation, m.Op)
	}

	return nil
}

// Validate checks the operation envelope plus its payload
func (o *Operation) Validate() error {
	if o.ActorID == "" {
		return fmt.Errorf("%w: missing actor id", ErrMalformedOperation)
	}
	if o.SequenceNumber == 0 {
		return fmt.Errorf("%w: sequence numbers start at 1", ErrMalformedOperation)
	}
	if o.ContentHash == "" {
		return fmt.Errorf("%w: missing content hash", ErrMalformedOperation)
	}

	expected, err := o.ComputeHash()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	if o.ContentHash != expected {
		return fmt.Errorf("%w: content hash mismatch", ErrMalformedOperation)
	}

	return o.Payload.Validate()
}
