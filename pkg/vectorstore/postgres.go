package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// PostgresStore keeps chunk vectors in the chunks table (embedding REAL[]).
// Similarity is computed in-process over the collection's rows; collections
// are small enough per query that this stays within latency budget, and it
// avoids requiring the pgvector extension.
type PostgresStore struct {
	db *sql.DB
	// typeMap decodes REAL[] columns through database/sql.
	typeMap *pgtype.Map
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, typeMap: pgtype.NewMap()}
}

// EnsureIndex implements Store. The chunks table is shared; an index exists
// once its collection row does, so this only validates the dimension contract
// against any existing rows.
func (s *PostgresStore) EnsureIndex(ctx context.Context, index string, dimension int) error {
	var existing sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT cardinality(embedding) FROM chunks WHERE collection_id = $1 LIMIT 1`,
		index).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to check index %s: %w", index, err)
	}
	if existing.Valid && int(existing.Int64) != dimension {
		return fmt.Errorf("index %s holds dimension %d, requested %d: %w",
			index, existing.Int64, dimension, ErrDimensionMismatch)
	}
	return nil
}

// DeleteIndex implements Store.
func (s *PostgresStore) DeleteIndex(ctx context.Context, index string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection_id = $1`, index)
	if err != nil {
		return fmt.Errorf("failed to delete index %s: %w", index, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrIndexNotFound
	}
	return nil
}

// Upsert implements Store.
func (s *PostgresStore) Upsert(ctx context.Context, index string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, chunk := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (chunk_id, collection_id, document_id, text, page, ordinal, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (chunk_id) DO UPDATE
			 SET text = EXCLUDED.text, page = EXCLUDED.page,
			     ordinal = EXCLUDED.ordinal, embedding = EXCLUDED.embedding`,
			chunk.ID, index, chunk.DocumentID, chunk.Text, chunk.Page, chunk.Ordinal, chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
		}
	}

	// Bump the collection version so the keyword index rebuilds.
	if _, err := tx.ExecContext(ctx,
		`UPDATE collections SET version = version + 1, updated_at = now() WHERE id = $1`,
		index); err != nil {
		return fmt.Errorf("failed to bump collection version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// Search implements Store.
func (s *PostgresStore) Search(ctx context.Context, index string, vector []float32, k int) ([]models.QueryResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, document_id, text, page, ordinal, embedding
		 FROM chunks WHERE collection_id = $1`, index)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", index, err)
	}
	defer func() { _ = rows.Close() }()

	var results []models.QueryResult
	for rows.Next() {
		var chunk models.Chunk
		var embedding []float32
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Text, &chunk.Page,
			&chunk.Ordinal, s.typeMap.SQLScanner(&embedding)); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if len(embedding) != len(vector) {
			return nil, fmt.Errorf("chunk %s has dimension %d, query has %d: %w",
				chunk.ID, len(embedding), len(vector), ErrDimensionMismatch)
		}
		results = append(results, models.QueryResult{
			Chunk: chunk,
			Score: cosineSimilarity(vector, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return lessResult(results[i], results[j]) })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ListChunks implements Store.
func (s *PostgresStore) ListChunks(ctx context.Context, index string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, document_id, text, page, ordinal
		 FROM chunks WHERE collection_id = $1
		 ORDER BY document_id, ordinal`, index)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for index %s: %w", index, err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Text, &chunk.Page, &chunk.Ordinal); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk rows: %w", err)
	}
	return chunks, nil
}
