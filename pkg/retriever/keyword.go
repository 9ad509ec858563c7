// Package retriever produces the top-k passages for a query by fusing
// dense-vector similarity with TF-IDF keyword matching.
package retriever

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// tfidfIndex is a TF-IDF model over one collection's chunk texts.
// Built once, read-mostly; the cache rebuilds it when the collection
// version bumps.
type tfidfIndex struct {
	version int64
	chunks  []models.Chunk
	// vectors[i] is the L2-normalized tf-idf vector of chunks[i].
	vectors []map[string]float64
	idf     map[string]float64
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

// buildTFIDFIndex computes the TF-IDF model for a chunk set.
func buildTFIDFIndex(chunks []models.Chunk, version int64) *tfidfIndex {
	idx := &tfidfIndex{
		version: version,
		chunks:  chunks,
		vectors: make([]map[string]float64, len(chunks)),
		idf:     make(map[string]float64),
	}

	// Document frequencies.
	df := make(map[string]int)
	termCounts := make([]map[string]int, len(chunks))
	for i, chunk := range chunks {
		counts := make(map[string]int)
		for _, term := range tokenize(chunk.Text) {
			counts[term]++
		}
		termCounts[i] = counts
		for term := range counts {
			df[term]++
		}
	}

	n := float64(len(chunks))
	for term, freq := range df {
		// Smoothed idf; keeps terms present in every chunk from zeroing out.
		idx.idf[term] = math.Log((1+n)/(1+float64(freq))) + 1
	}

	for i, counts := range termCounts {
		vec := make(map[string]float64, len(counts))
		var norm float64
		for term, count := range counts {
			w := float64(count) * idx.idf[term]
			vec[term] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for term := range vec {
				vec[term] /= norm
			}
		}
		idx.vectors[i] = vec
	}
	return idx
}

// query scores all chunks against the query text and returns the top k by
// cosine over tf-idf vectors, ordered descending with the standard
// tie-break.
func (idx *tfidfIndex) query(text string, k int) []models.QueryResult {
	counts := make(map[string]int)
	for _, term := range tokenize(text) {
		counts[term]++
	}
	queryVec := make(map[string]float64, len(counts))
	var norm float64
	for term, count := range counts {
		idf, known := idx.idf[term]
		if !known {
			continue
		}
		w := float64(count) * idf
		queryVec[term] = w
		norm += w * w
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for term := range queryVec {
		queryVec[term] /= norm
	}

	results := make([]models.QueryResult, 0, len(idx.chunks))
	for i, vec := range idx.vectors {
		var dot float64
		for term, w := range queryVec {
			dot += w * vec[term]
		}
		if dot <= 0 {
			continue
		}
		results = append(results, models.QueryResult{Chunk: idx.chunks[i], Score: dot})
	}
	sort.SliceStable(results, func(i, j int) bool { return lessResult(results[i], results[j]) })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// keywordIndexCache caches one tfidfIndex per collection, invalidated by
// strict version-bump comparison. Rebuilds run under the exclusive section.
type keywordIndexCache struct {
	mu      sync.Mutex
	indexes map[string]*tfidfIndex // collection-id → index
}

func newKeywordIndexCache() *keywordIndexCache {
	return &keywordIndexCache{indexes: make(map[string]*tfidfIndex)}
}

// get returns the cached index for the collection when its version matches,
// otherwise rebuilds from the chunks supplied by load.
func (c *keywordIndexCache) get(collectionID string, version int64, load func() ([]models.Chunk, error)) (*tfidfIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.indexes[collectionID]; ok && idx.version == version {
		return idx, nil
	}
	chunks, err := load()
	if err != nil {
		return nil, err
	}
	idx := buildTFIDFIndex(chunks, version)
	c.indexes[collectionID] = idx
	return idx, nil
}

// invalidate drops a collection's cached index.
func (c *keywordIndexCache) invalidate(collectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, collectionID)
}
