package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearchConfig(t *testing.T) {
	t.Run("empty map yields defaults", func(t *testing.T) {
		cfg, err := ParseSearchConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultSearchConfig(), cfg)
	})

	t.Run("accepts the full key set", func(t *testing.T) {
		cfg, err := ParseSearchConfig(map[string]any{
			"structured_output_enabled": true,
			"format_type":               "cot_reasoning",
			"include_reasoning":         true,
			"max_citations":             float64(10), // JSON numbers decode as float64
			"min_confidence":            0.5,
			"validation_strict":         true,
			"max_context_per_doc":       2000,
		})
		require.NoError(t, err)
		assert.True(t, cfg.StructuredOutputEnabled)
		assert.Equal(t, AnswerFormatCoTReasoning, cfg.FormatType)
		assert.True(t, cfg.IncludeReasoning)
		assert.Equal(t, 10, cfg.MaxCitations)
		assert.InDelta(t, 0.5, cfg.MinConfidence, 1e-9)
		assert.True(t, cfg.ValidationStrict)
		assert.Equal(t, 2000, cfg.MaxContextPerDoc)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		_, err := ParseSearchConfig(map[string]any{"reranker_model": "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown key")
	})

	t.Run("rejects out-of-range values", func(t *testing.T) {
		for key, value := range map[string]any{
			"max_citations":       0,
			"min_confidence":      1.5,
			"max_context_per_doc": -1,
			"format_type":         "freestyle",
		} {
			_, err := ParseSearchConfig(map[string]any{key: value})
			assert.Error(t, err, key)
		}
	})

	t.Run("rejects fractional integers", func(t *testing.T) {
		_, err := ParseSearchConfig(map[string]any{"max_citations": 2.5})
		assert.Error(t, err)
	})

	t.Run("rejects wrong types", func(t *testing.T) {
		_, err := ParseSearchConfig(map[string]any{"validation_strict": "yes"})
		assert.Error(t, err)
	})
}

func TestSearchContext_SetMetadata(t *testing.T) {
	sc := NewSearchContext("req-1", SearchRequest{Question: "q"}, DefaultSearchConfig())

	sc.SetMetadata("retrieval", map[string]any{"results": 5})
	sc.SetMetadata("retrieval", map[string]any{"results": 99})

	// First write wins; stage records are append-only
	got := sc.Metadata()
	assert.Equal(t, map[string]any{"results": 5}, got["retrieval"])

	// The returned map is a copy
	got["retrieval"] = "tampered"
	assert.Equal(t, map[string]any{"results": 5}, sc.Metadata()["retrieval"])
}

func TestSearchContext_FinalResults(t *testing.T) {
	sc := NewSearchContext("req-1", SearchRequest{Question: "q"}, DefaultSearchConfig())
	sc.Results = []QueryResult{{Chunk: Chunk{ID: "c1"}, Score: 0.5}}

	assert.Equal(t, sc.Results, sc.FinalResults())

	sc.RerankedResults = []QueryResult{{Chunk: Chunk{ID: "c2"}, Score: 0.9}}
	assert.Equal(t, sc.RerankedResults, sc.FinalResults())

	// An empty (non-nil) reranked slice still takes precedence
	sc.RerankedResults = []QueryResult{}
	assert.Empty(t, sc.FinalResults())
}
