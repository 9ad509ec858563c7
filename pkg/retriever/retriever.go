package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/vectorstore"
)

// DefaultVectorWeight is w in combined = w·vector + (1−w)·keyword.
const DefaultVectorWeight = 0.7

// RetrievalError wraps a retrieval failure. Transient errors (vector-store
// unavailability) may be retried by the caller; others are permanent.
type RetrievalError struct {
	Transient bool
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient retrieval error: %v", e.Err)
	}
	return fmt.Sprintf("retrieval error: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsTransientRetrieval reports whether err is a transient RetrievalError.
func IsTransientRetrieval(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re) && re.Transient
}

// Retriever fuses the dense-vector branch with the TF-IDF keyword branch.
type Retriever struct {
	embedder     llm.Embedder
	store        vectorstore.Store
	keywordCache *keywordIndexCache
	vectorWeight float64
	logger       *slog.Logger
}

// New creates a Retriever. vectorWeight outside [0,1] falls back to the
// default 0.7.
func New(embedder llm.Embedder, store vectorstore.Store, vectorWeight float64) *Retriever {
	if vectorWeight < 0 || vectorWeight > 1 {
		vectorWeight = DefaultVectorWeight
	}
	return &Retriever{
		embedder:     embedder,
		store:        store,
		keywordCache: newKeywordIndexCache(),
		vectorWeight: vectorWeight,
		logger:       slog.Default(),
	}
}

// Invalidate drops the keyword index for a collection. Called when the chunk
// set changes outside the version-bump path.
func (r *Retriever) Invalidate(collectionID string) {
	r.keywordCache.invalidate(collectionID)
}

// Retrieve returns at most k passages for the query, deduplicated by
// chunk-id and ordered by descending fused score with ties broken by
// document-id then ordinal. An empty collection yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, collection *models.Collection, query string, k int) ([]models.QueryResult, error) {
	if query == "" {
		return nil, &RetrievalError{Err: errors.New("query must not be empty")}
	}
	if k < 1 {
		return nil, &RetrievalError{Err: fmt.Errorf("k must be >= 1, got %d", k)}
	}

	// Both branches issue blocking I/O; run them concurrently.
	var vectorResults, keywordResults []models.QueryResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := r.vectorBranch(gctx, collection, query, k)
		if err != nil {
			return err
		}
		vectorResults = results
		return nil
	})
	g.Go(func() error {
		results, err := r.keywordBranch(gctx, collection, query, k)
		if err != nil {
			return err
		}
		keywordResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := r.fuse(vectorResults, keywordResults)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

func (r *Retriever) vectorBranch(ctx context.Context, collection *models.Collection, query string, k int) ([]models.QueryResult, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &RetrievalError{Err: fmt.Errorf("failed to embed query: %w", err)}
	}
	if len(vectors) != 1 {
		return nil, &RetrievalError{Err: fmt.Errorf("expected 1 query embedding, got %d", len(vectors))}
	}

	results, err := r.store.Search(ctx, collection.VectorIndexName, vectors[0], k)
	if err != nil {
		if errors.Is(err, vectorstore.ErrIndexNotFound) {
			// Empty collection: the keyword branch will be empty too.
			return nil, nil
		}
		return nil, &RetrievalError{Transient: true, Err: fmt.Errorf("vector search failed: %w", err)}
	}
	return results, nil
}

// keywordBranch queries the lazily built TF-IDF index. A chunk written after
// the cached version was built simply scores 0 on this branch; eventual
// consistency between the two indices is acceptable.
func (r *Retriever) keywordBranch(ctx context.Context, collection *models.Collection, query string, k int) ([]models.QueryResult, error) {
	idx, err := r.keywordCache.get(collection.ID, collection.Version, func() ([]models.Chunk, error) {
		chunks, err := r.store.ListChunks(ctx, collection.VectorIndexName)
		if err != nil && !errors.Is(err, vectorstore.ErrIndexNotFound) {
			return nil, err
		}
		return chunks, nil
	})
	if err != nil {
		return nil, &RetrievalError{Transient: true, Err: fmt.Errorf("keyword index build failed: %w", err)}
	}
	return idx.query(query, k), nil
}

// fuse combines both branches: for each chunk appearing in either list,
// combined = w·vector + (1−w)·keyword, with 0 for a missing component.
func (r *Retriever) fuse(vectorResults, keywordResults []models.QueryResult) []models.QueryResult {
	type scored struct {
		chunk   models.Chunk
		vector  float64
		keyword float64
	}
	byChunk := make(map[string]*scored, len(vectorResults)+len(keywordResults))
	order := make([]string, 0, len(vectorResults)+len(keywordResults))

	for _, result := range vectorResults {
		byChunk[result.Chunk.ID] = &scored{chunk: result.Chunk, vector: result.Score}
		order = append(order, result.Chunk.ID)
	}
	for _, result := range keywordResults {
		if entry, ok := byChunk[result.Chunk.ID]; ok {
			entry.keyword = result.Score
			continue
		}
		byChunk[result.Chunk.ID] = &scored{chunk: result.Chunk, keyword: result.Score}
		order = append(order, result.Chunk.ID)
	}

	fused := make([]models.QueryResult, 0, len(order))
	for _, id := range order {
		entry := byChunk[id]
		fused = append(fused, models.QueryResult{
			Chunk: entry.chunk,
			Score: r.vectorWeight*entry.vector + (1-r.vectorWeight)*entry.keyword,
		})
	}
	sort.SliceStable(fused, func(i, j int) bool { return lessResult(fused[i], fused[j]) })
	return fused
}

// lessResult is the deterministic result ordering: score descending, then
// document-id ascending, then ordinal ascending.
func lessResult(a, b models.QueryResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Chunk.DocumentID != b.Chunk.DocumentID {
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	}
	return a.Chunk.Ordinal < b.Chunk.Ordinal
}
