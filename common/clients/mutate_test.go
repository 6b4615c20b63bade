package clients

import (
	"encoding/json"
	"testing"

	"github.com/linkvault/syncd/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bookmarkEdit struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Pinned      bool   `json:"pinned"`
}

func TestDiffFields_OnlyChangedFields(t *testing.T) {
	before := bookmarkEdit{URL: "https://example.com", Title: "Example", Pinned: false}
	after := bookmarkEdit{URL: "https://example.com", Title: "Example, renamed", Pinned: true}

	mutations, err := DiffFields(models.KindBookmark, "bm-1", before, after, 1234)
	require.NoError(t, err)
	require.Len(t, mutations, 2)

	// Sorted by field name
	assert.Equal(t, "pinned", mutations[0].Field)
	assert.Equal(t, json.RawMessage("true"), mutations[0].Value)
	assert.Equal(t, "title", mutations[1].Field)
	assert.Equal(t, json.RawMessage(`"Example, renamed"`), mutations[1].Value)

	for _, m := range mutations {
		assert.Equal(t, models.MutationSet, m.Op)
		assert.Equal(t, "bm-1", m.EntityID)
		assert.Equal(t, int64(1234), m.LogicalTS)
		require.NoError(t, m.Validate())
	}
}

func TestDiffFields_NoChanges(t *testing.T) {
	edit := bookmarkEdit{URL: "https://example.com", Title: "Example"}

	mutations, err := DiffFields(models.KindBookmark, "bm-1", edit, edit, 1234)
	require.NoError(t, err)
	assert.Empty(t, mutations)
}

func TestDiffFields_ClearedFieldBecomesNull(t *testing.T) {
	before := bookmarkEdit{URL: "https://example.com", Title: "Example", Description: "old"}
	after := bookmarkEdit{URL: "https://example.com", Title: "Example"}

	mutations, err := DiffFields(models.KindBookmark, "bm-1", before, after, 1234)
	require.NoError(t, err)
	require.Len(t, mutations, 1)
	assert.Equal(t, "description", mutations[0].Field)
	assert.Equal(t, json.RawMessage("null"), mutations[0].Value)
}

func TestNewEntity(t *testing.T) {
	m, err := NewEntity(models.KindFolder, "f-1", map[string]string{"title": "Reading"}, 99)
	require.NoError(t, err)
	assert.Equal(t, models.MutationEntity, m.Op)
	assert.Equal(t, models.KindFolder, m.EntityKind)
	require.NoError(t, m.Validate())
}

func TestTagMutations(t *testing.T) {
	add := AddTag("bm-1", "golang", 10)
	assert.Equal(t, models.MutationTagAdd, add.Op)
	require.NoError(t, add.Validate())

	remove := RemoveTag("bm-1", "golang", 11)
	assert.Equal(t, models.MutationTagRemove, remove.Op)
	require.NoError(t, remove.Validate())
}
