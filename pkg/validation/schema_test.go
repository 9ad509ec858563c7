package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manavgup/rag-modulo/pkg/models"
)

func TestDecodeStructuredAnswer(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		raw := json.RawMessage(`{
			"answer": "Write-ahead logging ensures durability.",
			"confidence": 0.85,
			"citations": [
				{"document_id": "d1", "excerpt": "write-ahead logging ensures durability", "page": 3, "relevance_score": 0.9}
			]
		}`)

		answer, err := DecodeStructuredAnswer(raw)
		require.NoError(t, err)
		assert.Equal(t, 0.85, answer.Confidence)
		require.Len(t, answer.Citations, 1)
		assert.Equal(t, "d1", answer.Citations[0].DocumentID)
		// Missing format defaults to standard
		assert.Equal(t, models.AnswerFormatStandard, answer.Format)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := DecodeStructuredAnswer(json.RawMessage(`here is your answer:`))
		var vfe *ValidationFailedError
		require.ErrorAs(t, err, &vfe)
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := DecodeStructuredAnswer(json.RawMessage(`{"answer": "text with no confidence"}`))
		var vfe *ValidationFailedError
		require.ErrorAs(t, err, &vfe)
	})

	t.Run("confidence out of schema bounds", func(t *testing.T) {
		_, err := DecodeStructuredAnswer(json.RawMessage(`{"answer": "text", "confidence": 1.5}`))
		var vfe *ValidationFailedError
		require.ErrorAs(t, err, &vfe)
	})

	t.Run("unknown format rejected", func(t *testing.T) {
		_, err := DecodeStructuredAnswer(json.RawMessage(`{"answer": "text", "confidence": 0.5, "format": "freestyle"}`))
		var vfe *ValidationFailedError
		require.ErrorAs(t, err, &vfe)
	})

	t.Run("cot format preserved", func(t *testing.T) {
		raw := json.RawMessage(`{
			"answer": "Step-by-step result.",
			"confidence": 0.7,
			"format": "cot_reasoning",
			"reasoning_steps": [
				{"step_number": 1, "thought": "break the question down", "conclusion": "two parts"}
			]
		}`)
		answer, err := DecodeStructuredAnswer(raw)
		require.NoError(t, err)
		assert.Equal(t, models.AnswerFormatCoTReasoning, answer.Format)
		require.Len(t, answer.ReasoningSteps, 1)
	})
}
