package models

import "time"

// Bookmark represents one saved link
// Maps to an entry in the materialized document, never a table row of its own:
// bookmarks are created, mutated and tombstoned exclusively through operations.
type Bookmark struct {
	// Stable across devices, immutable for the life of the bookmark
	ID string `json:"id"`

	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	FolderID    string `json:"folder_id,omitempty"`

	// Serialized view of the add-wins tag set
	Tags []string `json:"tags,omitempty"`

	Notes string `json:"notes,omitempty"`

	// Browser-import metadata
	Domain  string `json:"domain,omitempty"`
	Favicon string `json:"favicon,omitempty"`
	Pinned  bool   `json:"pinned,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Tombstone: deleted bookmarks are retained for the retention window
	// so a concurrent revive still merges correctly
	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
