// Package vectorstore provides the dense-vector index facade used by the
// hybrid retriever, with a PostgreSQL backend for production and an
// in-memory backend for development and tests.
package vectorstore

import (
	"context"
	"errors"
	"math"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// ErrIndexNotFound is returned when an index (collection) does not exist.
var ErrIndexNotFound = errors.New("vector index not found")

// ErrDimensionMismatch is returned when a vector's dimension does not match
// the index's configured dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Store is the vector index contract. One index exists per collection;
// similarity is cosine.
type Store interface {
	// EnsureIndex creates the index if missing and records its dimension.
	EnsureIndex(ctx context.Context, index string, dimension int) error
	// DeleteIndex removes the index and all its vectors.
	DeleteIndex(ctx context.Context, index string) error
	// Upsert writes chunks (with embeddings) into the index.
	Upsert(ctx context.Context, index string, chunks []models.Chunk) error
	// Search returns the k nearest chunks by cosine similarity, ordered by
	// descending score with ties broken by document-id then ordinal.
	Search(ctx context.Context, index string, vector []float32, k int) ([]models.QueryResult, error)
	// ListChunks returns all chunks in the index (without embeddings).
	// The keyword index builds its TF-IDF model from this.
	ListChunks(ctx context.Context, index string) ([]models.Chunk, error)
}

// cosineSimilarity computes cosine similarity between two vectors of equal
// dimension. Returns 0 for zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// lessResult is the deterministic ordering shared by both backends: score
// descending, then document-id ascending, then ordinal ascending.
func lessResult(a, b models.QueryResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Chunk.DocumentID != b.Chunk.DocumentID {
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	}
	return a.Chunk.Ordinal < b.Chunk.Ordinal
}
