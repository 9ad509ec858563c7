package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/vectorstore"
)

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func seededStore(t *testing.T) *vectorstore.MemoryStore {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.EnsureIndex(context.Background(), "collection_1", 2))
	require.NoError(t, store.Upsert(context.Background(), "collection_1", []models.Chunk{
		{ID: "c1", DocumentID: "d1", Ordinal: 0, Text: "alpha beta", Embedding: []float32{1, 0}},
		{ID: "c2", DocumentID: "d1", Ordinal: 1, Text: "gamma delta", Embedding: []float32{0, 1}},
	}))
	return store
}

func testCollection() *models.Collection {
	return &models.Collection{
		ID:              "col-1",
		VectorIndexName: "collection_1",
		Status:          models.CollectionStatusReady,
		Version:         1,
	}
}

func TestRetriever_Retrieve_InputValidation(t *testing.T) {
	r := New(&fixedEmbedder{vector: []float32{1, 0}}, vectorstore.NewMemoryStore(), 0.7)

	_, err := r.Retrieve(context.Background(), testCollection(), "", 5)
	assert.Error(t, err)

	_, err = r.Retrieve(context.Background(), testCollection(), "query", 0)
	assert.Error(t, err)
}

func TestRetriever_Retrieve_EmptyCollection(t *testing.T) {
	// No index exists yet: both branches must come back empty without error
	r := New(&fixedEmbedder{vector: []float32{1, 0}}, vectorstore.NewMemoryStore(), 0.7)

	results, err := r.Retrieve(context.Background(), testCollection(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetriever_Retrieve_FusionWeighting(t *testing.T) {
	// Query embeds to [1,0]: the vector branch favors c1. The query text
	// "gamma" matches only c2 on the keyword branch.
	embedder := &fixedEmbedder{vector: []float32{1, 0}}

	t.Run("default weight favors the vector branch", func(t *testing.T) {
		r := New(embedder, seededStore(t), 0.7)

		results, err := r.Retrieve(context.Background(), testCollection(), "gamma", 5)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, "c1", results[0].Chunk.ID)
		// c1 scores only on the vector branch: 0.7·1.0
		assert.InDelta(t, 0.7, results[0].Score, 1e-6)
		assert.Equal(t, "c2", results[1].Chunk.ID)
		assert.Greater(t, results[1].Score, 0.0)
	})

	t.Run("zero weight is keyword-only ranking", func(t *testing.T) {
		r := New(embedder, seededStore(t), 0)

		results, err := r.Retrieve(context.Background(), testCollection(), "gamma", 5)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "c2", results[0].Chunk.ID)
	})

	t.Run("chunks in both branches are deduplicated", func(t *testing.T) {
		r := New(embedder, seededStore(t), 0.7)

		// "alpha" matches c1 on keywords; c1 also tops the vector branch
		results, err := r.Retrieve(context.Background(), testCollection(), "alpha", 5)
		require.NoError(t, err)

		seen := map[string]int{}
		for _, res := range results {
			seen[res.Chunk.ID]++
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "chunk %s appeared %d times", id, n)
		}
		// Fused score of c1 exceeds its pure vector score
		assert.Equal(t, "c1", results[0].Chunk.ID)
		assert.Greater(t, results[0].Score, 0.7)
	})
}

func TestRetriever_Retrieve_TruncatesToK(t *testing.T) {
	r := New(&fixedEmbedder{vector: []float32{1, 0}}, seededStore(t), 0.7)

	results, err := r.Retrieve(context.Background(), testCollection(), "alpha gamma", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRetriever_Retrieve_EmbedFailure(t *testing.T) {
	r := New(&fixedEmbedder{err: errors.New("embedding service down")}, seededStore(t), 0.7)

	_, err := r.Retrieve(context.Background(), testCollection(), "query", 5)
	require.Error(t, err)

	var re *RetrievalError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Transient)
}

func TestRetriever_InvalidWeightFallsBackToDefault(t *testing.T) {
	r := New(&fixedEmbedder{vector: []float32{1, 0}}, seededStore(t), 1.5)
	assert.Equal(t, DefaultVectorWeight, r.vectorWeight)
}

func TestLessResult_TieBreak(t *testing.T) {
	a := models.QueryResult{Chunk: models.Chunk{DocumentID: "d1", Ordinal: 2}, Score: 0.5}
	b := models.QueryResult{Chunk: models.Chunk{DocumentID: "d2", Ordinal: 1}, Score: 0.5}
	c := models.QueryResult{Chunk: models.Chunk{DocumentID: "d1", Ordinal: 3}, Score: 0.5}
	higher := models.QueryResult{Chunk: models.Chunk{DocumentID: "d9", Ordinal: 9}, Score: 0.9}

	assert.True(t, lessResult(higher, a), "higher score sorts first")
	assert.True(t, lessResult(a, b), "document id breaks score ties")
	assert.True(t, lessResult(a, c), "ordinal breaks document ties")
}
