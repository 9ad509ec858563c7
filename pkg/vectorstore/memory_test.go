package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manavgup/rag-modulo/pkg/models"
)

func seededMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureIndex(context.Background(), "idx", 2))
	require.NoError(t, s.Upsert(context.Background(), "idx", []models.Chunk{
		{ID: "c1", DocumentID: "d1", Ordinal: 0, Text: "alpha", Embedding: []float32{1, 0}},
		{ID: "c2", DocumentID: "d1", Ordinal: 1, Text: "beta", Embedding: []float32{0, 1}},
		{ID: "c3", DocumentID: "d2", Ordinal: 0, Text: "gamma", Embedding: []float32{1, 1}},
	}))
	return s
}

func TestMemoryStore_EnsureIndex(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.EnsureIndex(ctx, "idx", 3))
	// Idempotent at the same dimension
	require.NoError(t, s.EnsureIndex(ctx, "idx", 3))
	// Conflicting dimension is rejected
	assert.ErrorIs(t, s.EnsureIndex(ctx, "idx", 4), ErrDimensionMismatch)
}

func TestMemoryStore_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("missing index", func(t *testing.T) {
		s := NewMemoryStore()
		err := s.Upsert(ctx, "ghost", []models.Chunk{{ID: "c1", Embedding: []float32{1}}})
		assert.ErrorIs(t, err, ErrIndexNotFound)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.EnsureIndex(ctx, "idx", 2))
		err := s.Upsert(ctx, "idx", []models.Chunk{{ID: "c1", Embedding: []float32{1, 0, 0}}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("same id replaces the chunk", func(t *testing.T) {
		s := seededMemoryStore(t)
		require.NoError(t, s.Upsert(ctx, "idx", []models.Chunk{
			{ID: "c1", DocumentID: "d1", Ordinal: 0, Text: "alpha revised", Embedding: []float32{1, 0}},
		}))
		chunks, err := s.ListChunks(ctx, "idx")
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Equal(t, "alpha revised", chunks[0].Text)
	})
}

func TestMemoryStore_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("orders by cosine similarity", func(t *testing.T) {
		s := seededMemoryStore(t)
		results, err := s.Search(ctx, "idx", []float32{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, "c1", results[0].Chunk.ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, "c3", results[1].Chunk.ID)
		assert.Equal(t, "c2", results[2].Chunk.ID)
		// Embeddings are not echoed back
		assert.Nil(t, results[0].Chunk.Embedding)
	})

	t.Run("k truncates", func(t *testing.T) {
		s := seededMemoryStore(t)
		results, err := s.Search(ctx, "idx", []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("ties break by document id then ordinal", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.EnsureIndex(ctx, "idx", 2))
		require.NoError(t, s.Upsert(ctx, "idx", []models.Chunk{
			{ID: "b", DocumentID: "d2", Ordinal: 0, Embedding: []float32{1, 0}},
			{ID: "a", DocumentID: "d1", Ordinal: 1, Embedding: []float32{1, 0}},
			{ID: "c", DocumentID: "d1", Ordinal: 0, Embedding: []float32{1, 0}},
		}))
		results, err := s.Search(ctx, "idx", []float32{1, 0}, 10)
		require.NoError(t, err)

		ids := []string{results[0].Chunk.ID, results[1].Chunk.ID, results[2].Chunk.ID}
		assert.Equal(t, []string{"c", "a", "b"}, ids)
	})

	t.Run("query dimension mismatch", func(t *testing.T) {
		s := seededMemoryStore(t)
		_, err := s.Search(ctx, "idx", []float32{1, 0, 0}, 10)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("missing index", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.Search(ctx, "ghost", []float32{1}, 10)
		assert.ErrorIs(t, err, ErrIndexNotFound)
	})
}

func TestMemoryStore_ListChunks(t *testing.T) {
	s := seededMemoryStore(t)
	chunks, err := s.ListChunks(context.Background(), "idx")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// Sorted by document id then ordinal, embeddings stripped
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{chunks[0].ID, chunks[1].ID, chunks[2].ID})
	for _, c := range chunks {
		assert.Nil(t, c.Embedding)
	}
}

func TestMemoryStore_DeleteIndex(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.DeleteIndex(ctx, "idx"))
	_, err := s.ListChunks(ctx, "idx")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.ErrorIs(t, s.DeleteIndex(ctx, "idx"), ErrIndexNotFound)
}
