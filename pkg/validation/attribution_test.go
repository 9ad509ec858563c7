package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// mapEmbedder returns a canned vector per exact text, and a zero vector for
// anything else.
type mapEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *mapEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0}
		}
	}
	return out, nil
}

func attributionChunks() []models.QueryResult {
	return []models.QueryResult{
		{Chunk: models.Chunk{ID: "c1", DocumentID: "d1", Page: 3,
			Text: "Write-ahead logging ensures durability of committed transactions."}, Score: 0.9},
		{Chunk: models.Chunk{ID: "c2", DocumentID: "d2", Page: 7,
			Text: "Completely unrelated prose about gardening and houseplants."}, Score: 0.4},
	}
}

func TestAttribute_InputValidation(t *testing.T) {
	s := NewAttributionService(nil)

	_, err := s.Attribute(context.Background(), "  ", attributionChunks(), 5)
	assert.Error(t, err)

	_, err = s.Attribute(context.Background(), "an answer", nil, 5)
	assert.Error(t, err)
}

func TestAttribute_SemanticKeepsSimilarChunks(t *testing.T) {
	answer := "Write-ahead logging ensures durability of committed transactions."
	embedder := &mapEmbedder{vectors: map[string][]float32{
		// The single answer sentence and c1 share a vector; c2 is orthogonal
		"Write-ahead logging ensures durability of committed transactions.": {1, 0},
		"Completely unrelated prose about gardening and houseplants.":       {0, 1},
	}}
	s := NewAttributionService(embedder)

	citations, err := s.Attribute(context.Background(), answer, attributionChunks(), 5)
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.Equal(t, "d1", citations[0].DocumentID)
	assert.Equal(t, "c1", citations[0].ChunkID)
	assert.Equal(t, 3, citations[0].Page)
	assert.InDelta(t, 1.0, citations[0].RelevanceScore, 1e-6)
	assert.GreaterOrEqual(t, len(citations[0].Excerpt), models.CitationExcerptMinLen)
}

func TestAttribute_EmbedderFailureFallsBackToLexical(t *testing.T) {
	embedder := &mapEmbedder{err: errors.New("embedding service down")}
	s := NewAttributionService(embedder)

	answer := "Write-ahead logging ensures durability of committed transactions."
	citations, err := s.Attribute(context.Background(), answer, attributionChunks(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, citations)
	assert.Equal(t, "d1", citations[0].DocumentID)
}

func TestAttribute_LexicalThreshold(t *testing.T) {
	s := NewAttributionService(nil)

	t.Run("overlapping answer attributes", func(t *testing.T) {
		answer := "Write-ahead logging ensures durability of committed transactions."
		citations, err := s.Attribute(context.Background(), answer, attributionChunks(), 5)
		require.NoError(t, err)
		require.Len(t, citations, 1)
		assert.Equal(t, "d1", citations[0].DocumentID)
		assert.GreaterOrEqual(t, citations[0].RelevanceScore, JaccardThreshold)
	})

	t.Run("no overlap yields an error", func(t *testing.T) {
		_, err := s.Attribute(context.Background(), "quantum chromodynamics lattice simulations", attributionChunks(), 5)
		assert.Error(t, err)
	})
}

func TestAttribute_MaxCitationsBound(t *testing.T) {
	s := NewAttributionService(nil)
	chunks := []models.QueryResult{
		{Chunk: models.Chunk{ID: "c1", DocumentID: "d1", Text: "alpha beta gamma delta epsilon."}},
		{Chunk: models.Chunk{ID: "c2", DocumentID: "d2", Text: "alpha beta gamma delta zeta."}},
		{Chunk: models.Chunk{ID: "c3", DocumentID: "d3", Text: "alpha beta gamma delta eta."}},
	}

	citations, err := s.Attribute(context.Background(), "alpha beta gamma delta", chunks, 2)
	require.NoError(t, err)
	assert.Len(t, citations, 2)
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First point. Second point! Third?")
	require.Len(t, sentences, 3)
	assert.Equal(t, "First point.", sentences[0])
	assert.Equal(t, "Third?", sentences[2])

	// Trailing text without terminal punctuation is its own sentence
	sentences = splitSentences("Complete. trailing fragment")
	require.Len(t, sentences, 2)
	assert.Equal(t, "trailing fragment", sentences[1])

	assert.Empty(t, splitSentences(""))
}

func TestJaccard(t *testing.T) {
	a := tokenSet("alpha beta gamma")
	b := tokenSet("beta gamma delta")

	// intersection 2, union 4
	assert.InDelta(t, 0.5, jaccard(a, b), 1e-9)
	assert.InDelta(t, 0.0, jaccard(a, tokenSet("")), 1e-9)
	assert.InDelta(t, 1.0, jaccard(a, a), 1e-9)
}

func TestSelectExcerpt(t *testing.T) {
	chunkText := "Checkpoints flush dirty buffers to disk. Write-ahead logging ensures durability of committed transactions. Vacuum runs separately."
	answer := "Durability of committed transactions comes from write-ahead logging."

	excerpt := selectExcerpt(answer, chunkText)
	assert.Equal(t, "Write-ahead logging ensures durability of committed transactions.", excerpt)
}
