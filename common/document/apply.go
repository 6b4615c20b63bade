package document

import (
	"encoding/json"
	"time"

	"github.com/linkvault/syncd/common/models"
)

// Apply folds one operation into the document. It never fails for
// well-formed operations (validation happens at the boundary): a field
// update against an unknown entity id is tolerated as a logged no-op,
// because the entity may have been tombstone-pruned concurrently.
//
// Replay order must be the log's acceptance order. Given that, Apply is
// idempotent and any two replicas holding the same operation set converge.
func (d *Document) Apply(op *models.Operation) {
	m := &op.Payload
	version := fieldVersion{TS: m.LogicalTS, Actor: op.ActorID}

	switch m.EntityKind {
	case models.KindBookmark:
		d.applyBookmark(m, version)
	case models.KindFolder:
		d.applyFolder(m, version)
	default:
		d.log.Warn("apply: unknown entity kind", "kind", m.EntityKind, "op", op.OpID)
	}
}

// Replay folds an acceptance-ordered stream of operations
func (d *Document) Replay(ops []models.Operation) {
	for i := range ops {
		d.Apply(&ops[i])
	}
}

func (d *Document) applyBookmark(m *models.FieldMutation, version fieldVersion) {
	state, ok := d.bookmarks[m.EntityID]

	switch m.Op {
	case models.MutationEntity:
		if !ok {
			state = &bookmarkState{
				Bookmark: models.Bookmark{ID: m.EntityID, CreatedAt: time.UnixMilli(version.TS).UTC()},
				Fields:   make(map[string]fieldVersion),
				Tags:     make(map[string]tagState),
			}
			d.bookmarks[m.EntityID] = state
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(m.Value, &obj); err != nil {
			d.log.Warn("apply: undecodable entity payload", "entity_id", m.EntityID, "error", err)
			return
		}
		for field, value := range obj {
			d.setBookmarkField(state, field, value, version)
		}

	case models.MutationSet:
		if !ok {
			d.log.Debug("apply: set on unknown bookmark", "entity_id", m.EntityID, "field", m.Field)
			return
		}
		d.setBookmarkField(state, m.Field, m.Value, version)

	case models.MutationTagAdd, models.MutationTagRemove:
		if !ok {
			d.log.Debug("apply: tag mutation on unknown bookmark", "entity_id", m.EntityID)
			return
		}
		var tag string
		if err := json.Unmarshal(m.Value, &tag); err != nil {
			d.log.Warn("apply: undecodable tag payload", "entity_id", m.EntityID, "error", err)
			return
		}

		ts := state.Tags[tag]
		if m.Op == models.MutationTagAdd {
			if ts.Add.before(version) {
				ts.Add = version
			}
		} else {
			if ts.Remove.before(version) {
				ts.Remove = version
			}
		}
		state.Tags[tag] = ts
		d.touchBookmark(state, version)
	}
}

func (d *Document) applyFolder(m *models.FieldMutation, version fieldVersion) {
	state, ok := d.folders[m.EntityID]

	switch m.Op {
	case models.MutationEntity:
		if !ok {
			state = &folderState{
				Folder: models.Folder{ID: m.EntityID},
				Fields: make(map[string]fieldVersion),
			}
			d.folders[m.EntityID] = state
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(m.Value, &obj); err != nil {
			d.log.Warn("apply: undecodable entity payload", "entity_id", m.EntityID, "error", err)
			return
		}
		for field, value := range obj {
			d.setFolderField(state, field, value, version)
		}

	case models.MutationSet:
		if !ok {
			d.log.Debug("apply: set on unknown folder", "entity_id", m.EntityID, "field", m.Field)
			return
		}
		d.setFolderField(state, m.Field, m.Value, version)
	}
}

// setBookmarkField applies one LWW register write: the incoming write wins
// only if its (ts, actor) version is strictly after the current one.
func (d *Document) setBookmarkField(state *bookmarkState, field string, value json.RawMessage, version fieldVersion) {
	current := state.Fields[field]
	if !current.before(version) {
		return
	}

	b := &state.Bookmark
	ok := true
	switch field {
	case "url":
		ok = decodeInto(value, &b.URL)
	case "title":
		ok = decodeInto(value, &b.Title)
	case "description":
		ok = decodeInto(value, &b.Description)
	case "folder_id":
		ok = decodeInto(value, &b.FolderID)
	case "notes":
		ok = decodeInto(value, &b.Notes)
	case "domain":
		ok = decodeInto(value, &b.Domain)
	case "favicon":
		ok = decodeInto(value, &b.Favicon)
	case "pinned":
		ok = decodeInto(value, &b.Pinned)
	case "deleted":
		// Deletion is an ordinary LWW field: a later write with
		// deleted=false revives the entity, record intact
		ok = decodeInto(value, &b.Deleted)
		if ok {
			if b.Deleted {
				at := time.UnixMilli(version.TS).UTC()
				b.DeletedAt = &at
			} else {
				b.DeletedAt = nil
			}
		}
	default:
		d.log.Warn("apply: unknown bookmark field", "field", field)
		return
	}

	if !ok {
		d.log.Warn("apply: undecodable field value", "field", field)
		return
	}

	state.Fields[field] = version
	d.touchBookmark(state, version)
}

func (d *Document) setFolderField(state *folderState, field string, value json.RawMessage, version fieldVersion) {
	current := state.Fields[field]
	if !current.before(version) {
		return
	}

	f := &state.Folder
	ok := true
	switch field {
	case "title":
		ok = decodeInto(value, &f.Title)
	case "parent_id":
		ok = decodeInto(value, &f.ParentID)
	case "deleted":
		ok = decodeInto(value, &f.Deleted)
	default:
		d.log.Warn("apply: unknown folder field", "field", field)
		return
	}

	if !ok {
		d.log.Warn("apply: undecodable field value", "field", field)
		return
	}

	state.Fields[field] = version
}

// touchBookmark advances updated_at to the newest write this replica has
// observed for the entity
func (d *Document) touchBookmark(state *bookmarkState, version fieldVersion) {
	at := time.UnixMilli(version.TS).UTC()
	if at.After(state.Bookmark.UpdatedAt) {
		state.Bookmark.UpdatedAt = at
	}
}

func decodeInto(value json.RawMessage, target interface{}) bool {
	return json.Unmarshal(value, target) == nil
}
