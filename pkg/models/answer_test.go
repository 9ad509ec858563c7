package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeCitations(t *testing.T) {
	t.Run("keeps the highest-relevance duplicate", func(t *testing.T) {
		citations := []Citation{
			{DocumentID: "d1", ChunkID: "c1", Page: 3, RelevanceScore: 0.4, Excerpt: "weak"},
			{DocumentID: "d2", ChunkID: "c2", RelevanceScore: 0.9},
			{DocumentID: "d1", ChunkID: "c1", Page: 3, RelevanceScore: 0.8, Excerpt: "strong"},
		}
		got := DedupeCitations(citations)
		require.Len(t, got, 2)
		// First-occurrence order survives
		assert.Equal(t, "d1", got[0].DocumentID)
		assert.Equal(t, "strong", got[0].Excerpt)
		assert.Equal(t, "d2", got[1].DocumentID)
	})

	t.Run("same document different pages are distinct", func(t *testing.T) {
		citations := []Citation{
			{DocumentID: "d1", ChunkID: "c1", Page: 3, RelevanceScore: 0.5},
			{DocumentID: "d1", ChunkID: "c1", Page: 4, RelevanceScore: 0.5},
		}
		assert.Len(t, DedupeCitations(citations), 2)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, DedupeCitations(nil))
	})
}

func TestSortCitations(t *testing.T) {
	citations := []Citation{
		{DocumentID: "d3", RelevanceScore: 0.5},
		{DocumentID: "d1", RelevanceScore: 0.9},
		{DocumentID: "d2", RelevanceScore: 0.5},
	}
	SortCitations(citations)

	assert.Equal(t, "d1", citations[0].DocumentID)
	// Ties break by document id ascending
	assert.Equal(t, "d2", citations[1].DocumentID)
	assert.Equal(t, "d3", citations[2].DocumentID)
}
