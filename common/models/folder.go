package models

// Folder is a hierarchical bookmark container
type Folder struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parent_id,omitempty"`

	// Materialized from the parent chain; advisory, never merge-authoritative.
	// Two folders claiming the same path are NOT deduplicated - only id equality merges.
	Path string `json:"path,omitempty"`

	Deleted bool `json:"deleted,omitempty"`
}
