package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/linkvault/syncd/common/models"
)

// Logger interface for logging
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

// fieldVersion is a last-writer-wins register version: logical timestamp
// tie-broken by actor id, lexicographically. The zero value loses to any
// real write.
type fieldVersion struct {
	TS    int64  `json:"ts"`
	Actor string `json:"actor"`
}

// before reports whether v loses to o under (ts, actor) ordering
func (v fieldVersion) before(o fieldVersion) bool {
	if v.TS != o.TS {
		return v.TS < o.TS
	}
	return v.Actor < o.Actor
}

// tagState is one element of an add-wins observed-remove set. The element
// is present unless the remove carries a strictly later logical timestamp
// than every add; a timestamp tie resolves to present.
type tagState struct {
	Add    fieldVersion `json:"add"`
	Remove fieldVersion `json:"remove"`
}

func (t tagState) present() bool {
	if t.Add.TS == 0 {
		return false
	}
	return t.Remove.TS <= t.Add.TS
}

type bookmarkState struct {
	Bookmark models.Bookmark         `json:"bookmark"`
	Fields   map[string]fieldVersion `json:"fields"`
	Tags     map[string]tagState     `json:"tags,omitempty"`
}

type folderState struct {
	Folder models.Folder           `json:"folder"`
	Fields map[string]fieldVersion `json:"fields"`
}

// Document is the in-memory replicated bookmark collection. Each device
// holds a private Document mutated only via Apply; any two documents that
// have applied the same operation set in the same acceptance order are
// identical.
type Document struct {
	bookmarks map[string]*bookmarkState
	folders   map[string]*folderState
	log       Logger
}

// New creates an empty document
func New() *Document {
	return &Document{
		bookmarks: make(map[string]*bookmarkState),
		folders:   make(map[string]*folderState),
		log:       nopLogger{},
	}
}

// WithLogger attaches a logger for no-op diagnostics
func (d *Document) WithLogger(log Logger) *Document {
	d.log = log
	return d
}

// Bookmark returns the materialized bookmark by id, tombstones included
func (d *Document) Bookmark(id string) (models.Bookmark, bool) {
	state, ok := d.bookmarks[id]
	if !ok {
		return models.Bookmark{}, false
	}
	return d.materializeBookmark(state), true
}

// Folder returns the folder by id
func (d *Document) Folder(id string) (models.Folder, bool) {
	state, ok := d.folders[id]
	if !ok {
		return models.Folder{}, false
	}
	return state.Folder, true
}

// Bookmarks returns all non-deleted bookmarks ordered by id
func (d *Document) Bookmarks() []models.Bookmark {
	out := make([]models.Bookmark, 0, len(d.bookmarks))
	for _, state := range d.bookmarks {
		if state.Bookmark.Deleted {
			continue
		}
		out = append(out, d.materializeBookmark(state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Folders returns all non-deleted folders ordered by id, paths materialized
func (d *Document) Folders() []models.Folder {
	d.MaterializePaths()
	out := make([]models.Folder, 0, len(d.folders))
	for _, state := range d.folders {
		if state.Folder.Deleted {
			continue
		}
		out = append(out, state.Folder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EntityCount returns the number of entities, tombstones included
func (d *Document) EntityCount() int {
	return len(d.bookmarks) + len(d.folders)
}

// TagCounts recomputes tag reference counts across non-deleted bookmarks.
// Derived, never replicated; counts cannot go negative by construction.
func (d *Document) TagCounts() map[string]int {
	counts := make(map[string]int)
	for _, state := range d.bookmarks {
		if state.Bookmark.Deleted {
			continue
		}
		for tag, ts := range state.Tags {
			if ts.present() {
				counts[tag]++
			}
		}
	}
	return counts
}

// MaterializePaths derives folder paths from parent chains. Paths are
// advisory: duplicates are allowed and never trigger a merge.
func (d *Document) MaterializePaths() {
	for id, state := range d.folders {
		state.Folder.Path = d.pathOf(id, make(map[string]bool))
	}
}

func (d *Document) pathOf(id string, seen map[string]bool) string {
	state, ok := d.folders[id]
	if !ok || seen[id] {
		// Unknown parent or a cycle; terminate the chain here
		return ""
	}
	seen[id] = true

	if state.Folder.ParentID == "" {
		return "/" + state.Folder.Title
	}
	return d.pathOf(state.Folder.ParentID, seen) + "/" + state.Folder.Title
}

// PruneTombstones drops entities tombstoned before the cutoff. Only safe
// once every operation that could revive them is folded into a snapshot.
func (d *Document) PruneTombstones(cutoff time.Time) int {
	pruned := 0
	for id, state := range d.bookmarks {
		if state.Bookmark.Deleted && state.Bookmark.DeletedAt != nil && state.Bookmark.DeletedAt.Before(cutoff) {
			delete(d.bookmarks, id)
			pruned++
		}
	}
	for id, state := range d.folders {
		if state.Folder.Deleted {
			version := state.Fields["deleted"]
			if time.UnixMilli(version.TS).Before(cutoff) {
				delete(d.folders, id)
				pruned++
			}
		}
	}
	return pruned
}

func (d *Document) materializeBookmark(state *bookmarkState) models.Bookmark {
	b := state.Bookmark
	b.Tags = nil
	for tag, ts := range state.Tags {
		if ts.present() {
			b.Tags = append(b.Tags, tag)
		}
	}
	sort.Strings(b.Tags)
	return b
}

// encodedDocument is the deterministic wire form: entities sorted by id,
// LWW registers and tag states preserved so replay can resume on top.
type encodedDocument struct {
	Bookmarks []*bookmarkState `json:"bookmarks"`
	Folders   []*folderState   `json:"folders"`
}

// Encode serializes the document deterministically: the same state always
// produces byte-identical output, which makes snapshot materialization
// verifiable by re-running it.
func (d *Document) Encode() ([]byte, error) {
	enc := encodedDocument{
		Bookmarks: make([]*bookmarkState, 0, len(d.bookmarks)),
		Folders:   make([]*folderState, 0, len(d.folders)),
	}
	for _, state := range d.bookmarks {
		enc.Bookmarks = append(enc.Bookmarks, state)
	}
	for _, state := range d.folders {
		enc.Folders = append(enc.Folders, state)
	}
	sort.Slice(enc.Bookmarks, func(i, j int) bool {
		return enc.Bookmarks[i].Bookmark.ID < enc.Bookmarks[j].Bookmark.ID
	})
	sort.Slice(enc.Folders, func(i, j int) bool {
		return enc.Folders[i].Folder.ID < enc.Folders[j].Folder.ID
	})

	// Materialized tag views are derived; keep the encoding canonical
	for _, state := range enc.Bookmarks {
		state.Bookmark.Tags = nil
	}

	data, err := json.Marshal(enc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Decode restores a document from its encoded form
func Decode(data []byte) (*Document, error) {
	var enc encodedDocument
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	d := New()
	for _, state := range enc.Bookmarks {
		if state.Fields == nil {
			state.Fields = make(map[string]fieldVersion)
		}
		if state.Tags == nil {
			state.Tags = make(map[string]tagState)
		}
		d.bookmarks[state.Bookmark.ID] = state
	}
	for _, state := range enc.Folders {
		if state.Fields == nil {
			state.Fields = make(map[string]fieldVersion)
		}
		d.folders[state.Folder.ID] = state
	}
	return d, nil
}

// Clone deep-copies the document via its encoding
func (d *Document) Clone() (*Document, error) {
	data, err := d.Encode()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
