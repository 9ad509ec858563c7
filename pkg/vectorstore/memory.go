package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// MemoryStore is an in-memory Store for development and tests.
// Thread-safe.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

type memoryIndex struct {
	dimension int
	chunks    map[string]models.Chunk // chunk_id → chunk
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indexes: make(map[string]*memoryIndex)}
}

// EnsureIndex implements Store.
func (s *MemoryStore) EnsureIndex(_ context.Context, index string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indexes[index]; ok {
		if existing.dimension != dimension {
			return fmt.Errorf("index %s has dimension %d, requested %d: %w",
				index, existing.dimension, dimension, ErrDimensionMismatch)
		}
		return nil
	}
	s.indexes[index] = &memoryIndex{
		dimension: dimension,
		chunks:    make(map[string]models.Chunk),
	}
	return nil
}

// DeleteIndex implements Store.
func (s *MemoryStore) DeleteIndex(_ context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[index]; !ok {
		return ErrIndexNotFound
	}
	delete(s.indexes, index)
	return nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, index string, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		return ErrIndexNotFound
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) != idx.dimension {
			return fmt.Errorf("chunk %s has dimension %d, index %s expects %d: %w",
				chunk.ID, len(chunk.Embedding), index, idx.dimension, ErrDimensionMismatch)
		}
		idx.chunks[chunk.ID] = chunk
	}
	return nil
}

// Search implements Store.
func (s *MemoryStore) Search(_ context.Context, index string, vector []float32, k int) ([]models.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil, ErrIndexNotFound
	}
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index %s expects %d: %w",
			len(vector), index, idx.dimension, ErrDimensionMismatch)
	}

	results := make([]models.QueryResult, 0, len(idx.chunks))
	for _, chunk := range idx.chunks {
		score := cosineSimilarity(vector, chunk.Embedding)
		c := chunk
		c.Embedding = nil
		results = append(results, models.QueryResult{Chunk: c, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return lessResult(results[i], results[j]) })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ListChunks implements Store.
func (s *MemoryStore) ListChunks(_ context.Context, index string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil, ErrIndexNotFound
	}
	chunks := make([]models.Chunk, 0, len(idx.chunks))
	for _, chunk := range idx.chunks {
		c := chunk
		c.Embedding = nil
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Ordinal < chunks[j].Ordinal
	})
	return chunks, nil
}
