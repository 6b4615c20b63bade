package clients

import (
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/linkvault/syncd/common/models"
)

// DiffFields turns a whole-entity edit into per-field mutations. The
// merge patch between the two encodings yields exactly the fields that
// changed, so concurrent edits to different fields never clobber each
// other after replication.
func DiffFields(entityKind, entityID string, before, after interface{}, logicalTS int64) ([]models.FieldMutation, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("marshal before state: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, fmt.Errorf("marshal after state: %w", err)
	}

	patch, err := jsonpatch.CreateMergePatch(beforeJSON, afterJSON)
	if err != nil {
		return nil, fmt.Errorf("diff entity: %w", err)
	}

	var changed map[string]json.RawMessage
	if err := json.Unmarshal(patch, &changed); err != nil {
		return nil, fmt.Errorf("decode merge patch: %w", err)
	}

	fields := make([]string, 0, len(changed))
	for field := range changed {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	mutations := make([]models.FieldMutation, 0, len(fields))
	for _, field := range fields {
		value := changed[field]
		if value == nil {
			// Merge patch encodes removal as null
			value = json.RawMessage("null")
		}
		mutations = append(mutations, models.FieldMutation{
			EntityKind: entityKind,
			EntityID:   entityID,
			Op:         models.MutationSet,
			Field:      field,
			Value:      value,
			LogicalTS:  logicalTS,
		})
	}

	return mutations, nil
}

// NewEntity builds the creating mutation for a bookmark or folder
func NewEntity(entityKind, entityID string, fields interface{}, logicalTS int64) (models.FieldMutation, error) {
	value, err := json.Marshal(fields)
	if err != nil {
		return models.FieldMutation{}, fmt.Errorf("marshal entity fields: %w", err)
	}
	return models.FieldMutation{
		EntityKind: entityKind,
		EntityID:   entityID,
		Op:         models.MutationEntity,
		Value:      value,
		LogicalTS:  logicalTS,
	}, nil
}

// AddTag builds a tag-set addition for a bookmark
func AddTag(bookmarkID, tag string, logicalTS int64) models.FieldMutation {
	return tagMutation(models.MutationTagAdd, bookmarkID, tag, logicalTS)
}

// RemoveTag builds a tag-set removal for a bookmark
func RemoveTag(bookmarkID, tag string, logicalTS int64) models.FieldMutation {
	return tagMutation(models.MutationTagRemove, bookmarkID, tag, logicalTS)
}

func tagMutation(op, bookmarkID, tag string, logicalTS int64) models.FieldMutation {
	value, _ := json.Marshal(tag)
	return models.FieldMutation{
		EntityKind: models.KindBookmark,
		EntityID:   bookmarkID,
		Op:         op,
		Value:      value,
		LogicalTS:  logicalTS,
	}
}
