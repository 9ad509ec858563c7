// Package models contains request/response models and business domain types.
package models

import "time"

// CollectionStatus is the lifecycle status of a collection.
type CollectionStatus string

const (
	CollectionStatusCreated    CollectionStatus = "created"
	CollectionStatusProcessing CollectionStatus = "processing"
	CollectionStatusReady      CollectionStatus = "ready"
	CollectionStatusFailed     CollectionStatus = "failed"
)

// Collection is an addressable corpus of chunks. Only collections in status
// "ready" are queryable; the name is immutable after creation.
type Collection struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	UserID          string           `json:"user_id"`
	VectorIndexName string           `json:"vector_index_name"`
	Status          CollectionStatus `json:"status"`
	IsPrivate       bool             `json:"is_private"`
	// Version is bumped on every chunk-set mutation. The keyword index uses
	// it to detect staleness.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Queryable reports whether the collection can serve searches.
func (c *Collection) Queryable() bool {
	return c.Status == CollectionStatusReady
}

// Chunk is a bounded text span produced by ingestion, with its dense
// embedding. The embedding dimension must match the collection's configured
// dimension.
type Chunk struct {
	ID         string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Page       int       `json:"page"`
	Ordinal    int       `json:"ordinal"`
	Embedding  []float32 `json:"embedding,omitempty"`
}
