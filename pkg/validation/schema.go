// Package validation produces StructuredAnswers whose citations are grounded
// in retrieved context, with bounded retry and a deterministic post-hoc
// attribution fallback.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// answerSchemaJSON is the JSON schema a structured generation must satisfy
// before semantic validation runs.
const answerSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["answer", "confidence"],
  "properties": {
    "answer": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "format": {"type": "string", "enum": ["standard", "cot_reasoning"]},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["document_id", "excerpt"],
        "properties": {
          "document_id": {"type": "string"},
          "title": {"type": "string"},
          "excerpt": {"type": "string"},
          "page": {"type": "integer"},
          "relevance_score": {"type": "number"},
          "chunk_id": {"type": "string"}
        }
      }
    },
    "reasoning_steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["step_number", "thought", "conclusion"],
        "properties": {
          "step_number": {"type": "integer", "minimum": 1},
          "thought": {"type": "string"},
          "conclusion": {"type": "string"}
        }
      }
    }
  }
}`

var (
	compiledSchema     *jsonschema.Schema
	compileSchemaOnce  sync.Once
	compileSchemaError error
)

// answerSchema compiles the structured-answer schema once.
func answerSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(answerSchemaJSON)))
		if err != nil {
			compileSchemaError = fmt.Errorf("unmarshal answer schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("answer.json", doc); err != nil {
			compileSchemaError = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compileSchemaError = c.Compile("answer.json")
	})
	return compiledSchema, compileSchemaError
}

// AnswerSchemaJSON returns the raw schema for embedding into structured
// generation prompts.
func AnswerSchemaJSON() json.RawMessage {
	return json.RawMessage(answerSchemaJSON)
}

// DecodeStructuredAnswer validates raw provider output against the answer
// schema and decodes it. Schema violations are returned as a
// ValidationFailedError so the retry loop treats them like semantic issues.
func DecodeStructuredAnswer(raw json.RawMessage) (*models.StructuredAnswer, error) {
	schema, err := answerSchema()
	if err != nil {
		return nil, err
	}

	payload, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationFailedError{Issues: []Issue{{Field: "answer", Message: fmt.Sprintf("response is not valid JSON: %v", err)}}}
	}
	if err := schema.Validate(payload); err != nil {
		return nil, &ValidationFailedError{Issues: []Issue{{Field: "answer", Message: fmt.Sprintf("response violates schema: %v", err)}}}
	}

	var answer models.StructuredAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, &ValidationFailedError{Issues: []Issue{{Field: "answer", Message: fmt.Sprintf("failed to decode response: %v", err)}}}
	}
	if answer.Format == "" {
		answer.Format = models.AnswerFormatStandard
	}
	return &answer, nil
}
